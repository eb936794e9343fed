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

// Package config holds the settings of a testsuite run, read from the environment
// and optionally overlaid by a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/env"
	"sigs.k8s.io/yaml"

	"github.com/kuadrant/testsuite/pkg/affectation"
	"github.com/kuadrant/testsuite/pkg/gatewayapi"
	"github.com/kuadrant/testsuite/pkg/kuadrant"
	"github.com/kuadrant/testsuite/pkg/log"
	"github.com/kuadrant/testsuite/pkg/poll"
)

const (
	DefaultNamespace = "kuadrant"

	NamespaceEnv           = "KUADRANT_NAMESPACE"
	ConditionPrefixEnv     = "KUADRANT_CONDITION_PREFIX"
	GatewayClassEnv        = "KUADRANT_GATEWAY_CLASS"
	PollIntervalEnv        = "KUADRANT_POLL_INTERVAL_SECONDS"
	GatewayReadyTimeoutEnv = "KUADRANT_GATEWAY_READY_TIMEOUT_SECONDS"
	ReadyTimeoutEnv        = "KUADRANT_READY_TIMEOUT_SECONDS"
	LogLevelEnv            = "LOG_LEVEL"
	LogModeEnv             = "LOG_MODE"
)

// Settings of a testsuite run.
type Settings struct {
	// Namespace the Kuadrant CR and the test objects live in
	Namespace string `json:"namespace,omitempty"`
	// ConditionPrefix of the affectation condition types
	ConditionPrefix string `json:"conditionPrefix,omitempty"`
	GatewayClass    string `json:"gatewayClass,omitempty"`

	PollInterval        metav1.Duration `json:"pollInterval,omitempty"`
	GatewayReadyTimeout metav1.Duration `json:"gatewayReadyTimeout,omitempty"`
	ReadyTimeout        metav1.Duration `json:"readyTimeout,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`
	LogMode  string `json:"logMode,omitempty"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Namespace:           DefaultNamespace,
		ConditionPrefix:     affectation.DefaultPrefix,
		GatewayClass:        gatewayapi.DefaultGatewayClass,
		PollInterval:        metav1.Duration{Duration: poll.DefaultInterval},
		GatewayReadyTimeout: metav1.Duration{Duration: gatewayapi.DefaultGatewayReadyTimeout},
		ReadyTimeout:        metav1.Duration{Duration: kuadrant.DefaultReadyTimeout},
		LogLevel:            "info",
		LogMode:             "production",
	}
}

// FromEnv overrides the defaults with the environment.
func FromEnv() (Settings, error) {
	s := Default()
	s.Namespace = env.GetString(NamespaceEnv, s.Namespace)
	s.ConditionPrefix = env.GetString(ConditionPrefixEnv, s.ConditionPrefix)
	s.GatewayClass = env.GetString(GatewayClassEnv, s.GatewayClass)
	s.LogLevel = env.GetString(LogLevelEnv, s.LogLevel)
	s.LogMode = env.GetString(LogModeEnv, s.LogMode)

	for name, target := range map[string]*metav1.Duration{
		PollIntervalEnv:        &s.PollInterval,
		GatewayReadyTimeoutEnv: &s.GatewayReadyTimeout,
		ReadyTimeoutEnv:        &s.ReadyTimeout,
	} {
		seconds, err := env.GetInt(name, int(target.Seconds()))
		if err != nil {
			return s, fmt.Errorf("%s: %w", name, err)
		}
		target.Duration = time.Duration(seconds) * time.Second
	}
	return s, s.Validate()
}

// LoadFile overlays the settings with the fields set in a YAML file.
// Durations are written the Go way, e.g. 90s or 10m.
func (s Settings) LoadFile(path string) (Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	overlay := s
	if err := yaml.UnmarshalStrict(content, &overlay); err != nil {
		return s, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return overlay, overlay.Validate()
}

// Validate rejects settings no run could work with.
func (s Settings) Validate() error {
	var errs []error
	if s.Namespace == "" {
		errs = append(errs, errors.New("namespace must not be empty"))
	}
	if s.ConditionPrefix == "" {
		errs = append(errs, errors.New("condition prefix must not be empty"))
	}
	if s.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", s.PollInterval.Duration))
	}
	if s.GatewayReadyTimeout.Duration < 0 || s.ReadyTimeout.Duration < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseMode(s.LogMode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Resolver returns the affectation resolver for the configured prefix.
func (s Settings) Resolver() affectation.Resolver {
	return affectation.NewResolver(s.ConditionPrefix)
}

// PollOptions returns the poll options for the configured interval.
func (s Settings) PollOptions() []poll.Option {
	return []poll.Option{poll.WithInterval(s.PollInterval.Duration)}
}

// LogOptions returns the logger options for the configured level and mode.
func (s Settings) LogOptions() ([]log.Opts, error) {
	return log.Configure(s.LogLevel, s.LogMode)
}
