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

// Package pipeline implements the tick-driven orchestrator: a
// cooperative state machine that advances one run of the catalog
// pipeline by at most one step (or one chunk) per invocation, under a
// wall-clock budget and a TTL lease keyed by (run_id, invocation_id).
package pipeline

import (
	"context"
	"time"

	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/pkg/errors"
)

// Tick response statuses.
const (
	StatusCompleted        = "completed"
	StatusFailedDefinitive = "failed_definitive"
	StatusYielded          = "yielded"
	StatusRetryDelay       = "retry_delay"
	StatusAlreadyFinished  = "already_finished"
	StatusYieldedLocked    = "yielded_locked"
)

// TickRequest is one orchestrator invocation.
type TickRequest struct {
	// Trigger is "manual" or "cron".
	Trigger string `json:"trigger"`

	// ResumeRunID re-attaches to a specific running run.
	ResumeRunID string `json:"resume_run_id,omitempty"`

	// Mode "diagnostics" requests a read-only dump, no state change.
	Mode string `json:"mode,omitempty"`

	// Attempt is informational, echoed into events.
	Attempt int `json:"attempt,omitempty"`
}

// TickResponse reports what one invocation did.
type TickResponse struct {
	Status      string     `json:"status"`
	RunID       string     `json:"run_id,omitempty"`
	CurrentStep string     `json:"current_step,omitempty"`
	NeedsResume bool       `json:"needs_resume,omitempty"`
	WaitSeconds int64      `json:"wait_seconds,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Run and Events are populated in diagnostics mode only.
	Run    *store.Run    `json:"run,omitempty"`
	Events []store.Event `json:"events,omitempty"`
}

// OutcomeKind classifies a step runner result.
type OutcomeKind int

const (
	// OutcomeCompleted means the step finished this tick.
	OutcomeCompleted OutcomeKind = iota

	// OutcomeInProgress means the step persisted partial progress and
	// needs more ticks.
	OutcomeInProgress

	// OutcomeRetryable means the step hit a transient worker eviction
	// and should be retried with backoff.
	OutcomeRetryable

	// OutcomeFatal means the step failed definitively.
	OutcomeFatal
)

// Outcome is the result of dispatching one step.
type Outcome struct {
	Kind OutcomeKind

	// Delta is merged into the step state. For OutcomeInProgress it
	// must include the step-private cursor fields; for OutcomeCompleted
	// it may carry step metrics.
	Delta map[string]any

	// Code is a stable failure code (OutcomeFatal).
	Code string

	// Message is a human-readable detail.
	Message string

	// HTTPStatus is the upstream status for OutcomeRetryable.
	HTTPStatus int
}

// Completed returns a completed outcome with optional metrics delta.
func Completed(delta map[string]any) Outcome {
	return Outcome{Kind: OutcomeCompleted, Delta: delta}
}

// InProgress returns an in-progress outcome carrying the state delta
// already persisted (or to persist) for resumption.
func InProgress(delta map[string]any) Outcome {
	return Outcome{Kind: OutcomeInProgress, Delta: delta}
}

// Retryable returns a worker-limit outcome.
func Retryable(httpStatus int, message string) Outcome {
	return Outcome{Kind: OutcomeRetryable, HTTPStatus: httpStatus, Message: message}
}

// Fatal returns a definitive failure outcome.
func Fatal(code, message string) Outcome {
	return Outcome{Kind: OutcomeFatal, Code: code, Message: message}
}

// FromError classifies an error into a retryable or fatal outcome.
func FromError(code string, err error) Outcome {
	if errors.IsWorkerLimit(err) {
		status := errors.HTTPStatusWorkerLimit
		var wle *errors.WorkerLimitError
		if errors.As(err, &wle) && wle.HTTPStatus != 0 {
			status = wle.HTTPStatus
		}
		return Retryable(status, err.Error())
	}
	return Fatal(code, err.Error())
}

// StepRunner executes one step (or one chunk of it) against a freshly
// loaded run record. Implementations persist their own step-private
// state through the store's merge RPCs and never block longer than the
// in-step chunk budget.
type StepRunner interface {
	RunStep(ctx context.Context, run *store.Run, step string) Outcome
}
