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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/pkg/errors"
)

func TestStore_RunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	run := store.NewRun(store.TriggerManual, time.Now())
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, got.Status)
	assert.Equal(t, store.StepImportFTP, got.CurrentStep)

	// Returned run is a copy; mutating it must not leak into the store.
	got.Status = store.RunFailed
	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, again.Status)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetRun(context.Background(), "missing")
	var nfe *errors.NotFoundError
	require.True(t, errors.As(err, &nfe))
}

func TestStore_SetStepInProgress(t *testing.T) {
	s := New()
	ctx := context.Background()
	run := store.NewRun(store.TriggerCron, time.Now())
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.SetStepInProgress(ctx, run.ID, store.StepParseMerge))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StepParseMerge, got.CurrentStep)
	assert.Equal(t, store.StepInProgress, got.StepStatus(store.StepParseMerge))
	require.NoError(t, got.Validate())

	// Idempotent.
	require.NoError(t, s.SetStepInProgress(ctx, run.ID, store.StepParseMerge))
}

func TestStore_MergeStep_RetryClear(t *testing.T) {
	s := New()
	ctx := context.Background()
	run := store.NewRun(store.TriggerManual, time.Now())
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.MergeStep(ctx, run.ID, store.StepExportMW, map[string]any{
		"status": store.StepRetryDelay,
		"retry": map[string]any{
			"retry_attempt":    1,
			"last_http_status": 546,
		},
	}))

	got, _ := s.GetRun(ctx, run.ID)
	_, ok := store.RetryStateOf(got.Steps[store.StepExportMW])
	require.True(t, ok)

	// Clearing via nil sub-key.
	require.NoError(t, s.MergeStep(ctx, run.ID, store.StepExportMW, map[string]any{
		"status": store.StepCompleted,
		"retry":  nil,
	}))

	got, _ = s.GetRun(ctx, run.ID)
	_, ok = store.RetryStateOf(got.Steps[store.StepExportMW])
	assert.False(t, ok, "retry sub-key must be deleted")
	assert.Equal(t, store.StepCompleted, got.StepStatus(store.StepExportMW))
}

func TestStore_ListRunning_Tiebreak(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	older := store.NewRun(store.TriggerCron, base)
	older.ID = "aaa"
	newer := store.NewRun(store.TriggerCron, base.Add(time.Minute))
	newer.ID = "bbb"
	sameTime := store.NewRun(store.TriggerCron, base.Add(time.Minute))
	sameTime.ID = "ccc"
	done := store.NewRun(store.TriggerCron, base.Add(2*time.Minute))
	done.Status = store.RunSuccess

	for _, r := range []*store.Run{older, newer, sameTime, done} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	runs, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "ccc", runs[0].ID, "newest started_at, higher id wins the tie")
	assert.Equal(t, "bbb", runs[1].ID)
	assert.Equal(t, "aaa", runs[2].ID)
}

func TestStore_LockProtocol(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	ok, err := s.TryAcquireLock(ctx, store.LockName, "run-1", "inv-1", 120*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// A different invocation of the same run must NOT win.
	ok, err = s.TryAcquireLock(ctx, store.LockName, "run-1", "inv-2", 120*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "ownership is the (run_id, invocation_id) pair")

	// The owner can re-acquire (renew path).
	ok, _ = s.TryAcquireLock(ctx, store.LockName, "run-1", "inv-1", 120*time.Second)
	assert.True(t, ok)

	// Renew for the owner succeeds, for others fails.
	ok, _ = s.RenewLock(ctx, store.LockName, "run-1", "inv-1", 120*time.Second)
	assert.True(t, ok)
	ok, _ = s.RenewLock(ctx, store.LockName, "run-1", "inv-2", 120*time.Second)
	assert.False(t, ok)

	// After expiry anyone can acquire.
	now = now.Add(121 * time.Second)
	ok, _ = s.TryAcquireLock(ctx, store.LockName, "run-2", "inv-9", 120*time.Second)
	assert.True(t, ok)

	owner, err := s.LockOwner(ctx, store.LockName)
	require.NoError(t, err)
	assert.Equal(t, "run-2", owner.RunID)

	released, _ := s.ReleaseLock(ctx, store.LockName, "run-2")
	assert.True(t, released)
	owner, _ = s.LockOwner(ctx, store.LockName)
	assert.Nil(t, owner)
}

func TestStore_CountWarnEvents_Whitelist(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.LogEvent(ctx, "run-1", store.LevelWarn, "orchestrator_yield_scheduled", nil))
	require.NoError(t, s.LogEvent(ctx, "run-1", store.LevelWarn, "mpnScientificNotationPrefilled", nil))
	require.NoError(t, s.LogEvent(ctx, "run-1", store.LevelInfo, "step_completed", nil))
	require.NoError(t, s.LogEvent(ctx, "run-2", store.LevelWarn, "unrelated", nil))

	count, err := s.CountWarnEvents(ctx, "run-1", []string{"orchestrator_yield_scheduled"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_ListEvents_NewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.LogEvent(ctx, "run-1", store.LevelInfo, "first", nil))
	require.NoError(t, s.LogEvent(ctx, "run-1", store.LevelInfo, "second", nil))

	events, err := s.ListEvents(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].Message)
}
