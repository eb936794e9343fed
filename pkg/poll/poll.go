/*
Copyright 2024 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package poll blocks until a predicate over a freshly refreshed status holds or a
// deadline elapses.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kuadrant/testsuite/internal/metrics"
	"github.com/kuadrant/testsuite/pkg/log"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const DefaultInterval = 5 * time.Second

// Result of a wait.
type Result int

const (
	Ready Result = iota
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "Ready"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Target is anything that can be re-fetched into a snapshot.
type Target[S any] interface {
	Refresh(ctx context.Context) (S, error)
	Identity() resource.Identity
}

// Predicate must be a pure function of the snapshot.
type Predicate[S any] func(snapshot S) bool

// Outcome reports how a wait ended.
type Outcome[S any] struct {
	Result   Result
	Target   resource.Identity
	Attempts int
	Elapsed  time.Duration
	// Last is the snapshot the predicate was evaluated against last
	Last S
}

func (o Outcome[S]) Ready() bool {
	return o.Result == Ready
}

// Expect turns a TimedOut outcome into a *TimeoutError carrying the last snapshot.
// what describes the awaited state, e.g. "programmed".
func (o Outcome[S]) Expect(what string) error {
	if o.Ready() {
		return nil
	}
	return &TimeoutError{
		Target:   o.Target,
		What:     what,
		Attempts: o.Attempts,
		Elapsed:  o.Elapsed,
		LastSeen: describe(o.Last),
	}
}

type Option func(*options)

type options struct {
	interval time.Duration
	logger   *logr.Logger
}

// WithInterval sets the fixed sleep between two refreshes.
func WithInterval(interval time.Duration) Option {
	return func(o *options) {
		o.interval = interval
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WaitUntil refreshes target and evaluates predicate until it holds or timeout elapses.
//
// A predicate that holds on the first refresh returns immediately. Running out of time
// is reported as a TimedOut outcome, not as an error. Refresh errors, a vanished object
// in particular, are returned right away and never retried. A timeout <= 0 checks once.
// Cancelling ctx aborts the wait with ctx's error.
func WaitUntil[S any](ctx context.Context, target Target[S], predicate Predicate[S], timeout time.Duration, opts ...Option) (Outcome[S], error) {
	o := &options{interval: DefaultInterval}
	for _, opt := range opts {
		opt(o)
	}
	logger := log.FromContext(ctx)
	if o.logger != nil {
		logger = *o.logger
	}
	identity := target.Identity()
	logger = logger.WithValues("object", identity.String())

	outcome := Outcome[S]{Result: TimedOut, Target: identity}
	start := time.Now()

	check := func(ctx context.Context) (bool, error) {
		outcome.Attempts++
		snapshot, err := target.Refresh(ctx)
		if err != nil {
			return false, err
		}
		outcome.Last = snapshot
		done := predicate(snapshot)
		logger.V(1).Info("poll attempt", "attempt", outcome.Attempts, "done", done)
		return done, nil
	}

	var err error
	if timeout <= 0 {
		var done bool
		if done, err = check(ctx); done {
			outcome.Result = Ready
		}
	} else {
		pollCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err = wait.PollUntilContextCancel(pollCtx, o.interval, true, check)
		switch {
		case err == nil:
			outcome.Result = Ready
		case ctx.Err() != nil:
			err = ctx.Err()
		case pollCtx.Err() != nil && (wait.Interrupted(err) || errors.Is(err, context.DeadlineExceeded)):
			// a refresh cut short by the deadline counts as running out of time
			err = nil
		}
	}
	outcome.Elapsed = time.Since(start)

	result := metrics.ResultReady
	switch {
	case err != nil:
		result = metrics.ResultError
		logger.Error(err, "wait aborted", "attempts", outcome.Attempts)
	case outcome.Result == TimedOut:
		result = metrics.ResultTimedOut
		logger.Info("timed out", "attempts", outcome.Attempts, "elapsed", outcome.Elapsed, "lastSeen", describe(outcome.Last))
	default:
		logger.V(1).Info("ready", "attempts", outcome.Attempts, "elapsed", outcome.Elapsed)
	}
	metrics.RecordPoll(identity.GVK.Kind, result, outcome.Attempts, outcome.Elapsed)

	return outcome, err
}

// ForReady waits until the readiness condition of r is True.
func ForReady[S resource.Snapshot](ctx context.Context, r *resource.Resource[S], timeout time.Duration, opts ...Option) (Outcome[S], error) {
	return WaitUntil[S](ctx, r, ConditionTrue[S](r.ReadyCondition()), timeout, opts...)
}
