package sharding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/log"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	DefaultFirstShard  Label = "A"
	DefaultSecondShard Label = "B"

	DefaultTimeout = 2 * time.Minute
)

// Scenario checks that a target created for a second shard, with the hostname of a
// target served by a torn down first shard, is served and claimed by the second shard only.
type Scenario struct {
	Fixtures Fixtures
	// Hostname shared by both targets
	Hostname string

	First  Label
	Second Label
	// Timeout of each wait
	Timeout     time.Duration
	PollOptions []poll.Option
}

// Report describes a successful run.
type Report struct {
	First  resource.Identity
	Second resource.Identity
	// Attempts the refreshes each wait took
	FirstAttempts  int
	SecondAttempts int
	Elapsed        time.Duration
}

func (s *Scenario) defaults() error {
	if s.Fixtures == nil {
		return errors.New("scenario needs fixtures")
	}
	if s.Hostname == "" {
		return errors.New("scenario needs a hostname")
	}
	if s.First == "" {
		s.First = DefaultFirstShard
	}
	if s.Second == "" {
		s.Second = DefaultSecondShard
	}
	if s.First == s.Second {
		return fmt.Errorf("both shards are labelled %s", s.First)
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	return nil
}

// Run executes the scenario. The second instance is torn down before returning.
//
// A wait running out of time yields a *poll.TimeoutError, a target still claimed by
// the first shard after the second one took over yields an *IsolationError.
func (s *Scenario) Run(ctx context.Context) (report *Report, err error) {
	if err := s.defaults(); err != nil {
		return nil, err
	}
	logger := log.FromContext(ctx).WithValues("hostname", s.Hostname)
	ctx = log.IntoContext(ctx, logger)
	start := time.Now()
	report = &Report{}

	first, err := s.Fixtures.SetupInstance(ctx, s.First)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("setting up %s: %w", s.First, err), teardown(ctx, first))
	}
	t1, err := s.Fixtures.SetupTarget(ctx, first, s.Hostname)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("setting up target of %s: %w", s.First, err), first.Teardown(ctx))
	}
	report.First = t1.Identity()
	if report.FirstAttempts, err = s.waitClaimed(ctx, t1, first); err != nil {
		return nil, errors.Join(err, first.Teardown(ctx))
	}
	logger.Info("first shard serves its target", "shard", s.First, "target", t1.String())

	if err := first.Teardown(ctx); err != nil {
		return nil, fmt.Errorf("tearing down %s: %w", s.First, err)
	}

	second, err := s.Fixtures.SetupInstance(ctx, s.Second)
	defer func() {
		if teardownErr := teardown(ctx, second); teardownErr != nil {
			err = errors.Join(err, teardownErr)
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("setting up %s: %w", s.Second, err)
	}
	t2, err := s.Fixtures.SetupTarget(ctx, second, s.Hostname)
	if err != nil {
		return nil, fmt.Errorf("setting up target of %s: %w", s.Second, err)
	}
	report.Second = t2.Identity()
	if report.SecondAttempts, err = s.waitClaimed(ctx, t2, second); err != nil {
		return nil, err
	}

	snapshot, err := t2.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if s.Fixtures.ClaimedBy(snapshot, first) {
		return nil, &IsolationError{
			Target:   t2.Identity(),
			Stale:    first.Shard,
			Owner:    second.Shard,
			LastSeen: conditions.Summary(snapshot.GetConditions()),
		}
	}
	report.Elapsed = time.Since(start)
	logger.Info("second shard serves the colliding target alone", "shard", s.Second, "target", t2.String())
	return report, nil
}

func (s *Scenario) waitClaimed(ctx context.Context, t Target, instance *Instance) (int, error) {
	claimed := func(snapshot resource.Snapshot) bool {
		return isReady(t, snapshot) && s.Fixtures.ClaimedBy(snapshot, instance)
	}
	outcome, err := poll.WaitUntil[resource.Snapshot](ctx, t, claimed, s.Timeout, s.PollOptions...)
	if err != nil {
		return outcome.Attempts, err
	}
	return outcome.Attempts, outcome.Expect(fmt.Sprintf("ready and claimed by %s", instance))
}

// teardown tolerates instances that failed before being created.
func teardown(ctx context.Context, instance *Instance) error {
	if instance == nil {
		return nil
	}
	return instance.Teardown(ctx)
}
