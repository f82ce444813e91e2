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

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/catsync/internal/metrics"
	"github.com/tombee/catsync/internal/store"
)

// backoffSeconds is the geometric backoff table for worker-limit
// retries, indexed by attempt-1 and capped at the last entry.
var backoffSeconds = []int64{60, 120, 240, 480, 600, 600, 600, 600}

// retryDelay returns the wait before attempt n (1-based) with ±10%
// uniform jitter.
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSeconds) {
		idx = len(backoffSeconds) - 1
	}
	base := time.Duration(backoffSeconds[idx]) * time.Second
	jitter := 1.0 + (o.Rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(base) * jitter)
}

// scheduleRetry persists the retry sub-key for a worker-limit fault and
// yields. Exhausting the retry budget fails the step and the run.
func (o *Orchestrator) scheduleRetry(ctx context.Context, run *store.Run, sess session, step string, outcome Outcome, logger *slog.Logger) (*TickResponse, error) {
	attempt := 1
	if rs, ok := store.RetryStateOf(run.Steps[step]); ok {
		attempt = rs.RetryAttempt + 1
	}

	if attempt > o.budgets.StepMaxRetries {
		logger.Error("worker limit retries exhausted", slog.Int("attempts", attempt-1))
		metrics.RecordStepOutcome(step, store.StepFailed)
		if err := o.store.MergeStep(ctx, run.ID, step, map[string]any{
			"status":     store.StepFailed,
			"error":      outcome.Message,
			"error_code": "worker_limit_exhausted",
		}); err != nil {
			return nil, err
		}
		o.event(ctx, run.ID, store.LevelError, "worker_limit_exhausted", map[string]any{
			"step": step, "attempts": attempt - 1,
		})
		return o.failRun(ctx, run, sess, step, "worker_limit_exhausted", logger)
	}

	nextRetryAt := o.Now().Add(o.retryDelay(attempt)).UTC()
	if err := o.store.MergeStep(ctx, run.ID, step, map[string]any{
		"status": store.StepRetryDelay,
		"retry": map[string]any{
			"retry_attempt":    attempt,
			"next_retry_at":    nextRetryAt.Format(time.RFC3339Nano),
			"last_http_status": outcome.HTTPStatus,
			"last_error":       "worker_limit_546",
			"status":           store.StepRetryDelay,
		},
	}); err != nil {
		return nil, err
	}

	logger.Warn("retry scheduled",
		slog.Int("attempt", attempt),
		slog.Time("next_retry_at", nextRetryAt),
		slog.Int("http_status", outcome.HTTPStatus))
	metrics.RecordRetry(step)
	o.event(ctx, run.ID, store.LevelWarn, "step_retry_scheduled", map[string]any{
		"step": step, "attempt": attempt, "next_retry_at": nextRetryAt.Format(time.RFC3339Nano),
	})

	wait := nextRetryAt.Sub(o.Now())
	return &TickResponse{
		Status:      StatusRetryDelay,
		RunID:       run.ID,
		CurrentStep: step,
		NeedsResume: true,
		WaitSeconds: int64(wait.Seconds()),
		NextRetryAt: &nextRetryAt,
	}, nil
}
