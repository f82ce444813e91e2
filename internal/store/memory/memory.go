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

// Package memory provides an in-memory store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/pkg/errors"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu     sync.Mutex
	runs   map[string]*store.Run
	locks  map[string]*store.LockRecord
	events []store.Event
	nextID int64

	// Now is the clock, injectable for lease tests.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:   map[string]*store.Run{},
		locks:  map[string]*store.LockRecord{},
		nextID: 1,
		Now:    time.Now,
	}
}

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return &errors.ValidationError{Field: "id", Message: "run already exists"}
	}
	s.runs[run.ID] = store.CloneRun(run)
	return nil
}

// GetRun returns a copy of the run record.
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return store.CloneRun(run), nil
}

// ListRunning returns running runs newest first, then by id.
func (s *Store) ListRunning(ctx context.Context) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Run
	for _, run := range s.runs {
		if run.Status == store.RunRunning {
			out = append(out, store.CloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// MergeRun deep-merges a document-level patch into the run.
func (s *Store) MergeRun(ctx context.Context, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	merged, err := store.MergeRunDoc(run, patch)
	if err != nil {
		return err
	}
	s.runs[id] = merged
	return nil
}

// SetStepInProgress sets current_step and marks the step in_progress.
func (s *Store) SetStepInProgress(ctx context.Context, id, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	if run.Steps == nil {
		run.Steps = map[string]map[string]any{}
	}
	run.CurrentStep = step
	run.Steps[step] = store.DeepMerge(run.Steps[step], map[string]any{"status": store.StepInProgress})
	return run.Validate()
}

// MergeStep deep-merges a patch into steps[step].
func (s *Store) MergeStep(ctx context.Context, id, step string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	if run.Steps == nil {
		run.Steps = map[string]map[string]any{}
	}
	run.Steps[step] = store.DeepMerge(run.Steps[step], store.CloneMap(patch))
	return nil
}

// TryAcquireLock admits a new owner if the lock is absent, expired, or
// already owned by the same (runID, invocationID) pair.
func (s *Store) TryAcquireLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	cur, ok := s.locks[name]
	if ok && cur.LeaseUntil.After(now) {
		if cur.RunID != runID || cur.InvocationID != invocationID {
			return false, nil
		}
	}
	s.locks[name] = &store.LockRecord{
		Name:         name,
		RunID:        runID,
		InvocationID: invocationID,
		LeaseUntil:   now.Add(ttl),
		UpdatedAt:    now,
	}
	return true, nil
}

// RenewLock extends the lease for the current owner pair only.
func (s *Store) RenewLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	cur, ok := s.locks[name]
	if !ok || cur.RunID != runID || cur.InvocationID != invocationID {
		return false, nil
	}
	cur.LeaseUntil = now.Add(ttl)
	cur.UpdatedAt = now
	return true, nil
}

// ReleaseLock removes the lock row held for runID.
func (s *Store) ReleaseLock(ctx context.Context, name, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[name]
	if !ok || cur.RunID != runID {
		return false, nil
	}
	delete(s.locks, name)
	return true, nil
}

// LockOwner returns a copy of the lock row, or nil.
func (s *Store) LockOwner(ctx context.Context, name string) (*store.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[name]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

// LogEvent appends one structured event.
func (s *Store) LogEvent(ctx context.Context, runID, level, message string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, store.Event{
		ID:        s.nextID,
		RunID:     runID,
		Level:     level,
		Message:   message,
		Details:   store.CloneMap(details),
		CreatedAt: s.Now().UTC(),
	})
	s.nextID++
	return nil
}

// ListEvents returns the most recent events for a run, newest first.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Event
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.events[i].RunID == runID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// CountWarnEvents counts WARN events outside the exclusion list.
func (s *Store) CountWarnEvents(ctx context.Context, runID string, exclude []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	excluded := make(map[string]bool, len(exclude))
	for _, m := range exclude {
		excluded[m] = true
	}
	count := 0
	for _, e := range s.events {
		if e.RunID == runID && e.Level == store.LevelWarn && !excluded[e.Message] {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
