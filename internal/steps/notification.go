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

package steps

import (
	"context"
	"log/slog"

	"github.com/tombee/catsync/internal/notify"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// runNotification sends the one-per-run completion email. The run is
// still formally running when this step executes, so the reported
// status is derived from the step states and the warning count.
func (r *Runner) runNotification(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	warnCount, err := r.store.CountWarnEvents(ctx, run.ID, pipeline.OperationalWarnings)
	if err != nil {
		warnCount = run.WarningCount
	}

	status := store.RunSuccess
	var errMsg string
	for _, step := range store.CanonicalSteps {
		if run.StepStatus(step) == store.StepFailed {
			status = store.RunFailed
			errMsg = store.Str(run.Steps[step], "error_code")
			if errMsg == "" {
				errMsg = store.Str(run.Steps[step], "error")
			}
			break
		}
	}
	if status == store.RunSuccess && run.ErrorMessage != "" {
		status = store.RunFailed
		errMsg = run.ErrorMessage
	}
	if status == store.RunSuccess && warnCount > 0 {
		status = store.RunSuccessWithWarning
	}

	summary := notify.Summary{
		RunID:        run.ID,
		Status:       status,
		TriggerType:  run.TriggerType,
		WarningCount: warnCount,
		RuntimeMS:    r.now().Sub(run.StartedAt).Milliseconds(),
		Metrics:      run.Metrics,
		Error:        errMsg,
	}
	if err := r.notifier.Notify(ctx, summary); err != nil {
		return pipeline.Fatal("notification_failed", err.Error())
	}

	logger.Info("notification delivered",
		slog.String("run_status", status),
		slog.Int("warnings", warnCount))
	return pipeline.Completed(map[string]any{
		"notified":      true,
		"run_status":    status,
		"warning_count": warnCount,
	})
}
