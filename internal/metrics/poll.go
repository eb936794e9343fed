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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// pollAttempts counts every refresh issued while waiting for a predicate.
	pollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kuadrant_testsuite_poll_attempts_total",
			Help: "Number of refreshes issued while waiting for a resource to converge",
		},
		[]string{"kind"})

	// pollOutcomes counts finished waits by result (ready, timed_out, error).
	pollOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kuadrant_testsuite_poll_outcomes_total",
			Help: "Number of finished waits by result",
		},
		[]string{"kind", "result"})

	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kuadrant_testsuite_poll_duration_seconds",
			Help:    "Time spent waiting for a resource to converge",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"})
)

const (
	ResultReady    = "ready"
	ResultTimedOut = "timed_out"
	ResultError    = "error"
)

func init() {
	// Register metrics with controller-runtime's Prometheus registry
	metrics.Registry.MustRegister(pollAttempts, pollOutcomes, pollDuration)
}

// RecordPoll records a finished wait on a resource of the given kind.
func RecordPoll(kind, result string, attempts int, elapsed time.Duration) {
	pollAttempts.WithLabelValues(kind).Add(float64(attempts))
	pollOutcomes.WithLabelValues(kind, result).Inc()
	pollDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
