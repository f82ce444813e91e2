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
	"math/rand"
	"testing"
	"time"

	"github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/internal/store/memory"
	"github.com/tombee/catsync/pkg/errors"
)

// fakeRunner replays queued outcomes per step and defaults to
// completing everything else immediately.
type fakeRunner struct {
	outcomes map[string][]Outcome
	calls    []string
}

func (f *fakeRunner) RunStep(ctx context.Context, run *store.Run, step string) Outcome {
	f.calls = append(f.calls, step)
	if q := f.outcomes[step]; len(q) > 0 {
		out := q[0]
		f.outcomes[step] = q[1:]
		return out
	}
	return Completed(nil)
}

func (f *fakeRunner) callCount(step string) int {
	n := 0
	for _, s := range f.calls {
		if s == step {
			n++
		}
	}
	return n
}

type harness struct {
	store  *memory.Store
	runner *fakeRunner
	orch   *Orchestrator
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		runner: &fakeRunner{outcomes: map[string][]Outcome{}},
		clock:  time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC),
	}
	h.store.Now = func() time.Time { return h.clock }
	h.orch = New(h.store, h.runner, log.New(log.DefaultConfig()), DefaultBudgets())
	h.orch.Now = func() time.Time { return h.clock }
	h.orch.Rand = rand.New(rand.NewSource(1))
	return h
}

func (h *harness) tick(t *testing.T, req TickRequest) *TickResponse {
	t.Helper()
	resp, err := h.orch.Tick(context.Background(), req)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	return resp
}

func TestTick_HappyPath(t *testing.T) {
	h := newHarness(t)

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	if resp.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", resp.Status, resp.Error)
	}

	run, err := h.store.GetRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunSuccess {
		t.Errorf("expected success, got %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
	for _, step := range store.CanonicalSteps {
		if run.StepStatus(step) != store.StepCompleted {
			t.Errorf("step %s not completed: %s", step, run.StepStatus(step))
		}
	}
	if got := len(h.runner.calls); got != len(store.CanonicalSteps) {
		t.Errorf("expected %d step calls, got %d", len(store.CanonicalSteps), got)
	}

	// Lock released at invocation end.
	owner, _ := h.store.LockOwner(context.Background(), store.LockName)
	if owner != nil {
		t.Errorf("expected lock released, owner=%v", owner)
	}
}

func TestTick_SuccessWithWarning(t *testing.T) {
	h := newHarness(t)

	// A catalog warning counts; operational warnings do not.
	run := store.NewRun(store.TriggerManual, h.clock)
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	h.store.LogEvent(context.Background(), run.ID, store.LevelWarn, "orphan_4255", nil)
	h.store.LogEvent(context.Background(), run.ID, store.LevelWarn, "step_retry_scheduled", nil)

	resp := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", resp.Status)
	}

	got, _ := h.store.GetRun(context.Background(), run.ID)
	if got.Status != store.RunSuccessWithWarning {
		t.Errorf("expected success_with_warning, got %s", got.Status)
	}
	if got.WarningCount != 1 {
		t.Errorf("expected warning_count 1, got %d", got.WarningCount)
	}
}

func TestTick_WorkerLimitRetry(t *testing.T) {
	h := newHarness(t)
	h.runner.outcomes[store.StepPricing] = []Outcome{
		Retryable(errors.HTTPStatusWorkerLimit, "worker evicted"),
	}

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	if resp.Status != StatusRetryDelay {
		t.Fatalf("expected retry_delay, got %s", resp.Status)
	}
	if resp.WaitSeconds < 50 || resp.WaitSeconds > 70 {
		t.Errorf("first attempt wait outside 60s ±10%%: %d", resp.WaitSeconds)
	}

	run, _ := h.store.GetRun(context.Background(), resp.RunID)
	rs, ok := store.RetryStateOf(run.Steps[store.StepPricing])
	if !ok {
		t.Fatal("expected retry state persisted")
	}
	if rs.RetryAttempt != 1 || rs.LastHTTPStatus != 546 || rs.LastError != "worker_limit_546" {
		t.Errorf("unexpected retry state: %+v", rs)
	}

	// A tick before next_retry_at waits without dispatching.
	before := h.runner.callCount(store.StepPricing)
	resp2 := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp2.Status != StatusRetryDelay {
		t.Fatalf("expected retry_delay, got %s", resp2.Status)
	}
	if h.runner.callCount(store.StepPricing) != before {
		t.Error("step dispatched during backoff window")
	}

	// Past the backoff the run completes; retry sub-key is cleared.
	h.clock = rs.NextRetryAt.Add(time.Second)
	resp3 := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp3.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", resp3.Status)
	}
	run, _ = h.store.GetRun(context.Background(), resp.RunID)
	if _, ok := store.RetryStateOf(run.Steps[store.StepPricing]); ok {
		t.Error("expected retry sub-key deleted after success")
	}
	// Retry scheduling is operational noise, not a catalog warning.
	if run.Status != store.RunSuccess {
		t.Errorf("expected success, got %s", run.Status)
	}
}

func TestTick_WorkerLimitExhausted(t *testing.T) {
	h := newHarness(t)
	var faults []Outcome
	for i := 0; i < 9; i++ {
		faults = append(faults, Retryable(546, "WORKER_LIMIT"))
	}
	h.runner.outcomes[store.StepParseMerge] = faults

	var resp *TickResponse
	for i := 0; i < 20; i++ {
		resp = h.tick(t, TickRequest{Trigger: store.TriggerCron})
		if resp.Status == StatusFailedDefinitive {
			break
		}
		if resp.NextRetryAt != nil {
			h.clock = resp.NextRetryAt.Add(time.Second)
		}
	}
	if resp.Status != StatusFailedDefinitive {
		t.Fatalf("expected failed_definitive, got %s", resp.Status)
	}

	run, _ := h.store.GetRun(context.Background(), resp.RunID)
	if run.Status != store.RunFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if run.StepStatus(store.StepParseMerge) != store.StepFailed {
		t.Errorf("expected step failed, got %s", run.StepStatus(store.StepParseMerge))
	}
	if code := store.Str(run.Steps[store.StepParseMerge], "error_code"); code != "worker_limit_exhausted" {
		t.Errorf("expected worker_limit_exhausted, got %q", code)
	}
	// Failure path still notifies.
	if run.StepStatus(store.StepNotification) != store.StepCompleted {
		t.Errorf("expected notification attempted, got %s", run.StepStatus(store.StepNotification))
	}
}

func TestTick_FatalStepFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.outcomes[store.StepExportAmazon] = []Outcome{
		Fatal("artifact_mismatch", "xlsm rows != txt rows"),
	}

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	if resp.Status != StatusFailedDefinitive {
		t.Fatalf("expected failed_definitive, got %s", resp.Status)
	}

	run, _ := h.store.GetRun(context.Background(), resp.RunID)
	if run.Status != store.RunFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if got := store.Str(run.Steps[store.StepExportAmazon], "error_code"); got != "artifact_mismatch" {
		t.Errorf("unexpected error_code %q", got)
	}
	// Steps after the failure never ran, except notification.
	if h.runner.callCount(store.StepUploadSFTP) != 0 {
		t.Error("upload_sftp dispatched after failure")
	}
	if h.runner.callCount(store.StepNotification) != 1 {
		t.Errorf("expected one notification attempt, got %d", h.runner.callCount(store.StepNotification))
	}
}

func TestTick_InProgressYields(t *testing.T) {
	h := newHarness(t)
	h.runner.outcomes[store.StepParseMerge] = []Outcome{
		InProgress(map[string]any{"status": store.StepBuildingStockIndex}),
		InProgress(map[string]any{"status": store.StepInProgress, "cursor_pos": 2097152, "chunk_index": 1}),
	}

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	if resp.Status != StatusYielded {
		t.Fatalf("expected yielded, got %s", resp.Status)
	}
	if resp.CurrentStep != store.StepParseMerge {
		t.Errorf("expected parse_merge current, got %s", resp.CurrentStep)
	}

	run, _ := h.store.GetRun(context.Background(), resp.RunID)
	if run.StepStatus(store.StepParseMerge) != store.StepBuildingStockIndex {
		t.Errorf("sub-phase not persisted: %s", run.StepStatus(store.StepParseMerge))
	}

	resp2 := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp2.Status != StatusYielded {
		t.Fatalf("expected yielded, got %s", resp2.Status)
	}
	run, _ = h.store.GetRun(context.Background(), resp.RunID)
	if got := store.Int(run.Steps[store.StepParseMerge], "cursor_pos"); got != 2097152 {
		t.Errorf("cursor_pos not persisted: %d", got)
	}

	resp3 := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp3.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", resp3.Status)
	}
}

func TestTick_Cancellation(t *testing.T) {
	h := newHarness(t)

	run := store.NewRun(store.TriggerManual, h.clock)
	run.CancelRequested = true
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	resp := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp.Status != StatusFailedDefinitive {
		t.Fatalf("expected failed_definitive, got %s", resp.Status)
	}

	got, _ := h.store.GetRun(context.Background(), run.ID)
	if got.Status != store.RunFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "cancelled_by_user" {
		t.Errorf("expected cancelled_by_user, got %q", got.ErrorMessage)
	}
	if !got.CancelledByUser {
		t.Error("cancelled_by_user marker not set on the run")
	}
	if h.runner.callCount(store.StepNotification) != 1 {
		t.Error("expected notification attempted on cancellation")
	}
	// No business step ran.
	if h.runner.callCount(store.StepImportFTP) != 0 {
		t.Error("import_ftp dispatched despite cancellation")
	}
}

func TestTick_YieldedLocked(t *testing.T) {
	h := newHarness(t)

	run := store.NewRun(store.TriggerManual, h.clock)
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	// Another invocation holds a live lease.
	ok, err := h.store.TryAcquireLock(context.Background(), store.LockName, run.ID, "other-invocation", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	resp := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp.Status != StatusYieldedLocked {
		t.Fatalf("expected yielded_locked, got %s", resp.Status)
	}
	if len(h.runner.calls) != 0 {
		t.Error("no step may run without the lock")
	}

	// After lease expiry the pipeline proceeds.
	h.clock = h.clock.Add(2 * time.Minute)
	resp2 := h.tick(t, TickRequest{Trigger: store.TriggerCron})
	if resp2.Status != StatusCompleted {
		t.Fatalf("expected completed after expiry, got %s", resp2.Status)
	}
}

func TestTick_ResumeTerminalRun(t *testing.T) {
	h := newHarness(t)

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	if resp.Status != StatusCompleted {
		t.Fatalf("setup run failed: %s", resp.Status)
	}

	resp2 := h.tick(t, TickRequest{Trigger: store.TriggerCron, ResumeRunID: resp.RunID})
	if resp2.Status != StatusAlreadyFinished {
		t.Errorf("expected already_finished, got %s", resp2.Status)
	}
}

func TestTick_Diagnostics(t *testing.T) {
	h := newHarness(t)

	resp := h.tick(t, TickRequest{Trigger: store.TriggerManual})
	diag := h.tick(t, TickRequest{Mode: "diagnostics", ResumeRunID: resp.RunID})
	if diag.Run == nil {
		t.Fatal("expected run dump")
	}
	if diag.Status != StatusAlreadyFinished {
		t.Errorf("expected already_finished, got %s", diag.Status)
	}
	if len(diag.Events) == 0 {
		t.Error("expected events in diagnostics dump")
	}
}

func TestRetryDelay_Table(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		attempt int
		baseSec float64
	}{
		{1, 60}, {2, 120}, {3, 240}, {4, 480}, {5, 600}, {8, 600}, {12, 600},
	}
	for _, tt := range tests {
		d := h.orch.retryDelay(tt.attempt)
		lo := time.Duration(tt.baseSec*0.9) * time.Second
		hi := time.Duration(tt.baseSec*1.1) * time.Second
		if d < lo || d > hi {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, lo, hi)
		}
	}
}
