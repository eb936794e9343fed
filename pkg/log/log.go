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

// Package log builds the logr loggers of the testsuite on top of the controller-runtime zap logger.
// Components take their logger from the context and fall back to Log.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Log discards everything until SetLogger is called.
var Log = logr.New(ctrllog.NullLogSink{})

type Level zapcore.Level

const (
	// DebugLevel shows every refresh and poll attempt, i.e. V(1) messages.
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	WarnLevel  = Level(zapcore.WarnLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
)

// ParseLevel accepts the zap level names, e.g. debug or info.
func ParseLevel(level string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return InfoLevel, err
	}
	return Level(l), nil
}

type Mode int8

const (
	// ModeProd writes JSON lines.
	ModeProd Mode = iota
	// ModeDev writes console lines with stack traces on warnings.
	ModeDev
)

var modes = map[string]Mode{
	"production":  ModeProd,
	"development": ModeDev,
}

// ParseMode accepts production or development, in any case.
func ParseMode(mode string) (Mode, error) {
	if m, ok := modes[strings.ToLower(mode)]; ok {
		return m, nil
	}
	return ModeProd, fmt.Errorf("unknown log mode: %s", mode)
}

type Opts func(*Options)

type Options struct {
	Level Level
	Mode  Mode
	// Out defaults to os.Stderr
	Out io.Writer
}

func SetLevel(level Level) Opts {
	return func(o *Options) { o.Level = level }
}

func SetMode(mode Mode) Opts {
	return func(o *Options) { o.Mode = mode }
}

// WriteTo sends the output to out instead of standard error.
func WriteTo(out io.Writer) Opts {
	return func(o *Options) { o.Out = out }
}

// Configure returns the options of a textual level and mode, as found in LOG_LEVEL and LOG_MODE.
func Configure(level, mode string) ([]Opts, error) {
	l, levelErr := ParseLevel(level)
	m, modeErr := ParseMode(mode)
	if err := errors.Join(levelErr, modeErr); err != nil {
		return nil, err
	}
	return []Opts{SetLevel(l), SetMode(m)}, nil
}

func NewLogger(opts ...Opts) logr.Logger {
	o := Options{Out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	return zap.New(
		zap.Level(zapcore.Level(o.Level)),
		zap.UseDevMode(o.Mode == ModeDev),
		zap.WriteTo(o.Out),
	)
}

// SetLogger makes logger the base logger, also for controller-runtime and client-go.
func SetLogger(logger logr.Logger) {
	Log = logger
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)
}

// Setup creates a logger and makes it the base logger.
func Setup(opts ...Opts) logr.Logger {
	logger := NewLogger(opts...)
	SetLogger(logger)
	return logger
}

func FromContext(ctx context.Context) logr.Logger {
	if logger, err := logr.FromContext(ctx); err == nil {
		return logger
	}
	return Log
}

func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}
