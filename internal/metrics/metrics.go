// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes pipeline Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ticks tracks orchestrator invocations by outcome
	ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_ticks_total",
			Help: "Total orchestrator ticks by outcome",
		},
		[]string{"outcome"},
	)

	// stepOutcomes tracks step completions by step name and status
	stepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_step_outcomes_total",
			Help: "Total step outcomes by step name and status",
		},
		[]string{"step", "status"},
	)

	// stepRetries tracks worker-limit retries scheduled per step
	stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_step_retries_total",
			Help: "Total retries scheduled by step name",
		},
		[]string{"step"},
	)

	// chunkBytes tracks bytes fetched by the chunked material reader
	chunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_parse_merge_chunk_bytes_total",
			Help: "Total material bytes fetched via Range requests",
		},
	)

	// chunksFetched tracks chunk fetches by HTTP status class
	chunksFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_parse_merge_chunks_total",
			Help: "Total chunk fetches by HTTP status",
		},
		[]string{"status"},
	)

	// exportRows tracks rows emitted per export artifact
	exportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_export_rows_total",
			Help: "Total export rows emitted by marketplace",
		},
		[]string{"marketplace"},
	)

	// runsActive tracks runs currently in running status
	runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catsync_runs_active",
			Help: "Number of runs currently running",
		},
	)

	// lockContention tracks ticks refused because another invocation
	// holds the global lock
	lockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_lock_contention_total",
			Help: "Total ticks that yielded because the lock was held",
		},
	)
)

// RecordTick increments the tick counter for an outcome.
func RecordTick(outcome string) {
	ticks.WithLabelValues(outcome).Inc()
}

// RecordStepOutcome increments the step outcome counter.
func RecordStepOutcome(step, status string) {
	stepOutcomes.WithLabelValues(step, status).Inc()
}

// RecordRetry increments the retry counter for a step.
func RecordRetry(step string) {
	stepRetries.WithLabelValues(step).Inc()
}

// RecordChunk records one chunk fetch.
func RecordChunk(status string, bytes int) {
	chunksFetched.WithLabelValues(status).Inc()
	chunkBytes.Add(float64(bytes))
}

// RecordExportRows adds emitted rows for a marketplace artifact.
func RecordExportRows(marketplace string, rows int) {
	exportRows.WithLabelValues(marketplace).Add(float64(rows))
}

// SetRunsActive sets the active-run gauge.
func SetRunsActive(n int) {
	runsActive.Set(float64(n))
}

// RecordLockContention increments the lock contention counter.
func RecordLockContention() {
	lockContention.Inc()
}
