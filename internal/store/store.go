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

package store

import (
	"context"
	"time"
)

// Store is the persistence contract for run records, the global lock,
// and the event log. All step mutations go through SetStepInProgress
// and MergeStep; application-level read-modify-write is forbidden.
type Store interface {
	// CreateRun persists a new run record.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun returns the run record, or a NotFoundError.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRunning returns all runs with status "running", newest by
	// started_at first, then by id (the deterministic tiebreak).
	ListRunning(ctx context.Context) ([]*Run, error)

	// MergeRun deep-merges a document-level patch into the run.
	MergeRun(ctx context.Context, id string, patch map[string]any) error

	// SetStepInProgress atomically sets current_step and merges
	// {status: in_progress} into steps[step]. Idempotent.
	SetStepInProgress(ctx context.Context, id, step string) error

	// MergeStep deep-merges a patch into steps[step]. A sub-key set to
	// nil deletes it.
	MergeStep(ctx context.Context, id, step string, patch map[string]any) error

	// TryAcquireLock admits (runID, invocationID) as the lock owner
	// when the row is absent, expired, or already owned by the same
	// pair. Returns false without error when the lock is held.
	TryAcquireLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error)

	// RenewLock extends the lease only for the current owner pair.
	RenewLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock held for runID.
	ReleaseLock(ctx context.Context, name, runID string) (bool, error)

	// LockOwner returns the current lock row, or nil when absent.
	LockOwner(ctx context.Context, name string) (*LockRecord, error)

	// LogEvent appends one structured event.
	LogEvent(ctx context.Context, runID, level, message string, details map[string]any) error

	// ListEvents returns the most recent events for a run.
	ListEvents(ctx context.Context, runID string, limit int) ([]Event, error)

	// CountWarnEvents counts WARN events whose message is not in the
	// exclusion list.
	CountWarnEvents(ctx context.Context, runID string, exclude []string) (int, error)

	// Close releases store resources.
	Close() error
}
