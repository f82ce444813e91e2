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

// Package sqlite provides a SQLite store implementation for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/pkg/errors"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is a SQLite-backed store. The full run document lives in a
// JSON TEXT column; merges happen inside an IMMEDIATE transaction on a
// single write connection, which serializes them.
type Store struct {
	db *sql.DB

	// Now is the clock, injectable for lease tests.
	Now func() time.Time
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, Now: time.Now}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS sync_locks (
			name TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			invocation_id TEXT NOT NULL,
			lease_until TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_events_run_id ON sync_events(run_id)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, status, started_at, doc) VALUES (?, ?, ?, ?)`,
		run.ID, run.Status, run.StartedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun returns the run record.
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sync_runs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	var run store.Run
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRunning returns running runs, newest started_at first, then id.
func (s *Store) ListRunning(ctx context.Context) ([]*store.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sync_runs WHERE status = ? ORDER BY started_at DESC, id DESC`,
		store.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}
	defer rows.Close()

	var out []*store.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var run store.Run
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

// mutateRun loads, mutates, and writes back the run document inside an
// IMMEDIATE transaction.
func (s *Store) mutateRun(ctx context.Context, id string, mutate func(*store.Run) (*store.Run, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM sync_runs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}

	var run store.Run
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return fmt.Errorf("failed to unmarshal run: %w", err)
	}

	updated, err := mutate(&run)
	if err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, doc = ? WHERE id = ?`,
		updated.Status, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return tx.Commit()
}

// MergeRun deep-merges a document-level patch into the run.
func (s *Store) MergeRun(ctx context.Context, id string, patch map[string]any) error {
	return s.mutateRun(ctx, id, func(run *store.Run) (*store.Run, error) {
		return store.MergeRunDoc(run, patch)
	})
}

// SetStepInProgress sets current_step and marks the step in_progress.
func (s *Store) SetStepInProgress(ctx context.Context, id, step string) error {
	return s.mutateRun(ctx, id, func(run *store.Run) (*store.Run, error) {
		if run.Steps == nil {
			run.Steps = map[string]map[string]any{}
		}
		run.CurrentStep = step
		run.Steps[step] = store.DeepMerge(run.Steps[step], map[string]any{"status": store.StepInProgress})
		return run, nil
	})
}

// MergeStep deep-merges a patch into steps[step].
func (s *Store) MergeStep(ctx context.Context, id, step string, patch map[string]any) error {
	return s.mutateRun(ctx, id, func(run *store.Run) (*store.Run, error) {
		if run.Steps == nil {
			run.Steps = map[string]map[string]any{}
		}
		run.Steps[step] = store.DeepMerge(run.Steps[step], store.CloneMap(patch))
		return run, nil
	})
}

// TryAcquireLock admits a new owner if the lock row is absent, expired,
// or already owned by the same (runID, invocationID) pair.
func (s *Store) TryAcquireLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.Now().UTC()

	var curRun, curInv, curLease string
	err = tx.QueryRowContext(ctx,
		`SELECT run_id, invocation_id, lease_until FROM sync_locks WHERE name = ?`, name).
		Scan(&curRun, &curInv, &curLease)
	switch {
	case err == sql.ErrNoRows:
		// No row, insert.
	case err != nil:
		return false, fmt.Errorf("failed to query lock: %w", err)
	default:
		lease, perr := time.Parse(time.RFC3339Nano, curLease)
		if perr == nil && lease.After(now) && (curRun != runID || curInv != invocationID) {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_locks (name, run_id, invocation_id, lease_until, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   run_id = excluded.run_id,
		   invocation_id = excluded.invocation_id,
		   lease_until = excluded.lease_until,
		   updated_at = excluded.updated_at`,
		name, runID, invocationID,
		now.Add(ttl).Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to upsert lock: %w", err)
	}
	return true, tx.Commit()
}

// RenewLock extends the lease for the current owner pair only.
func (s *Store) RenewLock(ctx context.Context, name, runID, invocationID string, ttl time.Duration) (bool, error) {
	now := s.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_locks SET lease_until = ?, updated_at = ?
		 WHERE name = ? AND run_id = ? AND invocation_id = ?`,
		now.Add(ttl).Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		name, runID, invocationID)
	if err != nil {
		return false, fmt.Errorf("failed to renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLock removes the lock row held for runID.
func (s *Store) ReleaseLock(ctx context.Context, name, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_locks WHERE name = ? AND run_id = ?`, name, runID)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LockOwner returns the current lock row, or nil.
func (s *Store) LockOwner(ctx context.Context, name string) (*store.LockRecord, error) {
	var rec store.LockRecord
	var lease, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, run_id, invocation_id, lease_until, updated_at FROM sync_locks WHERE name = ?`, name).
		Scan(&rec.Name, &rec.RunID, &rec.InvocationID, &lease, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lock: %w", err)
	}
	rec.LeaseUntil, _ = time.Parse(time.RFC3339Nano, lease)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

// LogEvent appends one structured event.
func (s *Store) LogEvent(ctx context.Context, runID, level, message string, details map[string]any) error {
	var detailsJSON []byte
	var err error
	if details != nil {
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_events (run_id, level, message, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, level, message, string(detailsJSON), s.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for a run, newest first.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, level, message, details, created_at FROM sync_events
		 WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var e store.Event
		var details, created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Level, &e.Message, &details, &created); err != nil {
			return nil, err
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountWarnEvents counts WARN events outside the exclusion list.
func (s *Store) CountWarnEvents(ctx context.Context, runID string, exclude []string) (int, error) {
	query := `SELECT COUNT(*) FROM sync_events WHERE run_id = ? AND level = ?`
	args := []any{runID, store.LevelWarn}
	if len(exclude) > 0 {
		query += ` AND message NOT IN (?` + strings.Repeat(",?", len(exclude)-1) + `)`
		for _, m := range exclude {
			args = append(args, m)
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count warnings: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
