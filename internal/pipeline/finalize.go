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

	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/metrics"
	"github.com/tombee/catsync/internal/store"
)

// OperationalWarnings are WARN event messages that describe normal
// scheduling mechanics, not catalog problems. They are excluded from
// the run's warning_count at finalization.
var OperationalWarnings = []string{
	"orchestrator_yield_scheduled",
	"drain_loop_incomplete",
	"step_retry_scheduled",
	"resume_failed_http",
	"lock_ownership_lost",
	"yielded_locked",
	"multiple_running_detected",
	"cron_auth_failed",
}

// finalize runs the completeness gate after the step loop: success only
// when every canonical step completed, success_with_warning when any
// non-operational WARN events were logged along the way.
func (o *Orchestrator) finalize(ctx context.Context, run *store.Run, sess session, logger *slog.Logger) (*TickResponse, error) {
	fresh, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Terminal() {
		return &TickResponse{Status: StatusAlreadyFinished, RunID: fresh.ID}, nil
	}

	for _, step := range store.CanonicalSteps {
		if !store.IsStepDone(fresh.StepStatus(step)) {
			logger.Error("pipeline incomplete at finalization", slog.String(catsynclog.StepKey, step))
			o.event(ctx, fresh.ID, store.LevelError, "pipeline_incomplete", map[string]any{
				"step": step, "status": fresh.StepStatus(step),
			})
			return o.failRun(ctx, fresh, sess, step, "pipeline_incomplete", logger)
		}
	}

	warnCount, err := o.store.CountWarnEvents(ctx, fresh.ID, OperationalWarnings)
	if err != nil {
		return nil, err
	}

	status := store.RunSuccess
	if warnCount > 0 {
		status = store.RunSuccessWithWarning
	}

	if resp, err := o.renewOrAbort(ctx, fresh.ID, sess); resp != nil || err != nil {
		return resp, err
	}
	now := o.Now().UTC()
	if err := o.store.MergeRun(ctx, fresh.ID, map[string]any{
		"status":        status,
		"finished_at":   now.Format(time.RFC3339Nano),
		"runtime_ms":    now.Sub(fresh.StartedAt).Milliseconds(),
		"warning_count": warnCount,
	}); err != nil {
		return nil, err
	}

	logger.Info("run finalized",
		slog.String("status", status),
		slog.Int("warning_count", warnCount),
		catsynclog.Duration("runtime_ms", now.Sub(fresh.StartedAt).Milliseconds()))
	o.event(ctx, fresh.ID, store.LevelInfo, "run_finalized", map[string]any{
		"status": status, "warning_count": warnCount,
	})
	metrics.SetRunsActive(0)

	return &TickResponse{Status: StatusCompleted, RunID: fresh.ID}, nil
}

// failRun finalizes the run as failed. Unless the failing step was
// notification itself, the notification step still runs so operators
// hear about the failure; a notification failure never un-fails a run.
func (o *Orchestrator) failRun(ctx context.Context, run *store.Run, sess session, failedStep, reason string, logger *slog.Logger) (*TickResponse, error) {
	if failedStep != store.StepNotification {
		o.attemptNotification(ctx, run, logger)
	}

	warnCount, err := o.store.CountWarnEvents(ctx, run.ID, OperationalWarnings)
	if err != nil {
		warnCount = run.WarningCount
	}

	now := o.Now().UTC()
	if err := o.store.MergeRun(ctx, run.ID, map[string]any{
		"status":        store.RunFailed,
		"finished_at":   now.Format(time.RFC3339Nano),
		"runtime_ms":    now.Sub(run.StartedAt).Milliseconds(),
		"warning_count": warnCount,
		"error_message": reason,
	}); err != nil {
		return nil, err
	}

	logger.Error("run failed",
		slog.String(catsynclog.StepKey, failedStep),
		slog.String("reason", reason))
	o.event(ctx, run.ID, store.LevelError, "run_failed", map[string]any{
		"step": failedStep, "reason": reason,
	})
	metrics.SetRunsActive(0)

	return &TickResponse{Status: StatusFailedDefinitive, RunID: run.ID, CurrentStep: failedStep, Error: reason}, nil
}

// cancelRun honors a cooperative cancellation: the current step is
// marked failed, notification still runs, and the run finalizes as
// failed with a cancellation reason.
func (o *Orchestrator) cancelRun(ctx context.Context, run *store.Run, sess session, logger *slog.Logger) (*TickResponse, error) {
	step := run.CurrentStep
	if step == "" {
		step = store.StepImportFTP
	}
	logger.Info("cancellation observed", slog.String(catsynclog.StepKey, step))

	if err := o.store.MergeStep(ctx, run.ID, step, map[string]any{
		"status": store.StepFailed,
		"error":  "cancelled",
	}); err != nil {
		return nil, err
	}
	o.event(ctx, run.ID, store.LevelInfo, "run_cancelled", map[string]any{"step": step})

	if err := o.store.MergeRun(ctx, run.ID, map[string]any{"cancelled_by_user": true}); err != nil {
		return nil, err
	}
	return o.failRun(ctx, run, sess, step, "cancelled_by_user", logger)
}

// attemptNotification best-effort runs the notification step during a
// failure path. Its own outcome is recorded but cannot change the
// run's failed status.
func (o *Orchestrator) attemptNotification(ctx context.Context, run *store.Run, logger *slog.Logger) {
	if store.IsStepDone(run.StepStatus(store.StepNotification)) {
		return
	}
	if err := o.store.SetStepInProgress(ctx, run.ID, store.StepNotification); err != nil {
		logger.Warn("notification dispatch failed", catsynclog.Error(err))
		return
	}
	fresh, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		logger.Warn("notification dispatch failed", catsynclog.Error(err))
		return
	}
	outcome := o.runner.RunStep(ctx, fresh, store.StepNotification)
	patch := map[string]any{}
	switch outcome.Kind {
	case OutcomeCompleted:
		patch["status"] = store.StepCompleted
	default:
		patch["status"] = store.StepFailed
		if outcome.Message != "" {
			patch["error"] = outcome.Message
		}
	}
	if err := o.store.MergeStep(ctx, run.ID, store.StepNotification, patch); err != nil {
		logger.Warn("notification state write failed", catsynclog.Error(err))
	}
}
