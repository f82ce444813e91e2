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
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/metrics"
	"github.com/tombee/catsync/internal/store"
)

// Budgets holds the orchestrator tuning knobs.
type Budgets struct {
	// Orchestrator bounds one tick for most steps.
	Orchestrator time.Duration

	// ParseMerge bounds one tick while parse_merge is the current step.
	ParseMerge time.Duration

	// LockTTL is the global lock lease duration.
	LockTTL time.Duration

	// StepMaxRetries bounds worker-limit retries per step.
	StepMaxRetries int
}

// DefaultBudgets returns the operational defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		Orchestrator:   25 * time.Second,
		ParseMerge:     50 * time.Second,
		LockTTL:        120 * time.Second,
		StepMaxRetries: 8,
	}
}

// Orchestrator drives the 13-step pipeline one tick at a time.
type Orchestrator struct {
	store   store.Store
	runner  StepRunner
	logger  *slog.Logger
	budgets Budgets

	// Now and Rand are injectable for deterministic tests.
	Now  func() time.Time
	Rand *rand.Rand
}

// New creates an orchestrator.
func New(st store.Store, runner StepRunner, logger *slog.Logger, budgets Budgets) *Orchestrator {
	if budgets.Orchestrator <= 0 {
		budgets = DefaultBudgets()
	}
	return &Orchestrator{
		store:   st,
		runner:  runner,
		logger:  catsynclog.WithComponent(logger, "orchestrator"),
		budgets: budgets,
		Now:     time.Now,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// session is one invocation's lock identity.
type session struct {
	runID        string
	invocationID string
}

// Tick performs one orchestrator invocation: admit or resume a run,
// hold the lock, advance at most one unit of work per step, and return
// a resumable status. The lock is released when the invocation returns;
// resumption relies on a fresh acquire, not on lease carry-over.
func (o *Orchestrator) Tick(ctx context.Context, req TickRequest) (*TickResponse, error) {
	if req.Mode == "diagnostics" {
		return o.diagnostics(ctx, req)
	}

	run, resp, err := o.admit(ctx, req)
	if err != nil || resp != nil {
		return resp, err
	}

	sess := session{runID: run.ID, invocationID: uuid.NewString()}
	logger := catsynclog.WithRunContext(o.logger, run.ID)
	logger.Info("tick started",
		slog.String(catsynclog.InvocationKey, sess.invocationID),
		slog.String("trigger", req.Trigger),
		slog.String(catsynclog.StepKey, run.CurrentStep))

	ok, err := o.store.TryAcquireLock(ctx, store.LockName, sess.runID, sess.invocationID, o.budgets.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !ok {
		metrics.RecordLockContention()
		o.event(ctx, run.ID, store.LevelWarn, "yielded_locked", map[string]any{
			"invocation_id": sess.invocationID,
		})
		metrics.RecordTick(StatusYieldedLocked)
		return &TickResponse{Status: StatusYieldedLocked, RunID: run.ID, CurrentStep: run.CurrentStep, NeedsResume: true}, nil
	}
	defer func() {
		if _, err := o.store.ReleaseLock(context.WithoutCancel(ctx), store.LockName, sess.runID); err != nil {
			logger.Warn("lock release failed", catsynclog.Error(err))
		}
	}()

	resp, err = o.runTick(ctx, run, sess, logger)
	if err != nil {
		return nil, err
	}
	metrics.RecordTick(resp.Status)
	return resp, nil
}

// admit resolves which run this tick operates on, creating a fresh one
// when nothing is running. Returns a non-nil response to short-circuit.
func (o *Orchestrator) admit(ctx context.Context, req TickRequest) (*store.Run, *TickResponse, error) {
	if req.ResumeRunID != "" {
		run, err := o.store.GetRun(ctx, req.ResumeRunID)
		if err != nil {
			return nil, nil, err
		}
		if run.Terminal() {
			return nil, &TickResponse{Status: StatusAlreadyFinished, RunID: run.ID}, nil
		}
		return run, nil, nil
	}

	running, err := o.store.ListRunning(ctx)
	if err != nil {
		return nil, nil, err
	}
	metrics.SetRunsActive(len(running))
	if len(running) > 1 {
		o.event(ctx, running[0].ID, store.LevelWarn, "multiple_running_detected", map[string]any{
			"count": len(running),
		})
	}
	if len(running) > 0 {
		// Deterministic current run: newest started_at, then id.
		return running[0], nil, nil
	}

	run := store.NewRun(req.Trigger, o.Now())
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	o.event(ctx, run.ID, store.LevelInfo, "run_created", map[string]any{
		"trigger": req.Trigger,
	})
	return run, nil, nil
}

func (o *Orchestrator) diagnostics(ctx context.Context, req TickRequest) (*TickResponse, error) {
	id := req.ResumeRunID
	if id == "" {
		running, err := o.store.ListRunning(ctx)
		if err != nil {
			return nil, err
		}
		if len(running) == 0 {
			return &TickResponse{Status: StatusAlreadyFinished}, nil
		}
		id = running[0].ID
	}
	run, err := o.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := o.store.ListEvents(ctx, id, 100)
	if err != nil {
		return nil, err
	}
	status := StatusYielded
	if run.Terminal() {
		status = StatusAlreadyFinished
	}
	return &TickResponse{
		Status:      status,
		RunID:       run.ID,
		CurrentStep: run.CurrentStep,
		Run:         run,
		Events:      events,
	}, nil
}

// runTick is the step loop. The lock is held on entry.
func (o *Orchestrator) runTick(ctx context.Context, run *store.Run, sess session, logger *slog.Logger) (*TickResponse, error) {
	tickStart := o.Now()

	if run.CancelRequested {
		return o.cancelRun(ctx, run, sess, logger)
	}

	startIdx := stepIndex(run.CurrentStep)
	for i := startIdx; i < len(store.CanonicalSteps); i++ {
		step := store.CanonicalSteps[i]

		if o.budgetExceeded(tickStart, step) {
			o.event(ctx, run.ID, store.LevelWarn, "orchestrator_yield_scheduled", map[string]any{
				"step":       step,
				"elapsed_ms": o.Now().Sub(tickStart).Milliseconds(),
			})
			return &TickResponse{Status: StatusYielded, RunID: run.ID, CurrentStep: step, NeedsResume: true}, nil
		}

		status := run.StepStatus(step)

		if status == store.StepRetryDelay {
			if rs, ok := store.RetryStateOf(run.Steps[step]); ok && rs.NextRetryAt.After(o.Now()) {
				wait := rs.NextRetryAt.Sub(o.Now())
				return &TickResponse{
					Status:      StatusRetryDelay,
					RunID:       run.ID,
					CurrentStep: step,
					NeedsResume: true,
					WaitSeconds: int64(wait.Seconds()),
					NextRetryAt: &rs.NextRetryAt,
				}, nil
			}
		}

		if store.IsStepDone(status) {
			continue
		}

		// Renew the lease before every state write; losing it means an
		// overlapping invocation took over.
		if resp, err := o.renewOrAbort(ctx, run.ID, sess); resp != nil || err != nil {
			return resp, err
		}

		if err := o.store.SetStepInProgress(ctx, run.ID, step); err != nil {
			return nil, err
		}

		fresh, err := o.store.GetRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		if fresh.CancelRequested {
			return o.cancelRun(ctx, fresh, sess, logger)
		}

		stepLogger := catsynclog.WithStepContext(o.logger, run.ID, step)
		stepStart := o.Now()
		outcome := o.runner.RunStep(ctx, fresh, step)
		elapsed := o.Now().Sub(stepStart).Milliseconds()

		switch outcome.Kind {
		case OutcomeRetryable:
			return o.scheduleRetry(ctx, fresh, sess, step, outcome, stepLogger)

		case OutcomeFatal:
			stepLogger.Error("step failed",
				slog.String("code", outcome.Code),
				slog.String("error", outcome.Message),
				catsynclog.Duration("duration_ms", elapsed))
			metrics.RecordStepOutcome(step, store.StepFailed)
			if err := o.store.MergeStep(ctx, run.ID, step, map[string]any{
				"status":     store.StepFailed,
				"error":      outcome.Message,
				"error_code": outcome.Code,
			}); err != nil {
				return nil, err
			}
			o.event(ctx, run.ID, store.LevelError, "step_failed", map[string]any{
				"step": step, "code": outcome.Code, "error": outcome.Message,
			})
			return o.failRun(ctx, fresh, sess, step, outcome.Message, logger)

		case OutcomeInProgress:
			if len(outcome.Delta) > 0 {
				if err := o.store.MergeStep(ctx, run.ID, step, outcome.Delta); err != nil {
					return nil, err
				}
			}
			stepLogger.Info("step yielded", catsynclog.Duration("duration_ms", elapsed))
			metrics.RecordStepOutcome(step, store.StepInProgress)
			return &TickResponse{Status: StatusYielded, RunID: run.ID, CurrentStep: step, NeedsResume: true}, nil

		case OutcomeCompleted:
			patch := map[string]any{"status": store.StepCompleted, "retry": nil}
			for k, v := range outcome.Delta {
				patch[k] = v
			}
			if resp, err := o.renewOrAbort(ctx, run.ID, sess); resp != nil || err != nil {
				return resp, err
			}
			if err := o.store.MergeStep(ctx, run.ID, step, patch); err != nil {
				return nil, err
			}
			stepLogger.Info("step completed", catsynclog.Duration("duration_ms", elapsed))
			metrics.RecordStepOutcome(step, store.StepCompleted)
			o.event(ctx, run.ID, store.LevelInfo, "step_completed", map[string]any{
				"step": step, "duration_ms": elapsed,
			})
		}

		run, err = o.store.GetRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
	}

	return o.finalize(ctx, run, sess, logger)
}

// renewOrAbort extends the lease; on refusal the tick aborts because an
// overlapping invocation owns the lock now.
func (o *Orchestrator) renewOrAbort(ctx context.Context, runID string, sess session) (*TickResponse, error) {
	ok, err := o.store.RenewLock(ctx, store.LockName, sess.runID, sess.invocationID, o.budgets.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		o.event(ctx, runID, store.LevelWarn, "lock_ownership_lost", map[string]any{
			"invocation_id": sess.invocationID,
		})
		return &TickResponse{Status: StatusYieldedLocked, RunID: runID, NeedsResume: true}, nil
	}
	return nil, nil
}

func (o *Orchestrator) budgetExceeded(tickStart time.Time, step string) bool {
	budget := o.budgets.Orchestrator
	if step == store.StepParseMerge {
		budget = o.budgets.ParseMerge
	}
	return o.Now().Sub(tickStart) > budget
}

func (o *Orchestrator) event(ctx context.Context, runID, level, message string, details map[string]any) {
	if err := o.store.LogEvent(ctx, runID, level, message, details); err != nil {
		o.logger.Warn("event log failed", slog.String("message", message), catsynclog.Error(err))
	}
}

func stepIndex(step string) int {
	for i, s := range store.CanonicalSteps {
		if s == step {
			return i
		}
	}
	return 0
}
