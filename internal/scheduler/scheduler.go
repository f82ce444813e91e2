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

// Package scheduler drives the orchestrator on cron cadence: the tick
// schedule resumes in-flight runs, the trigger schedule starts fresh
// ones.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/catsync/internal/config"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// maxDrainTicks bounds how many consecutive yields one schedule firing
// will chase before handing the run back to the next firing.
const maxDrainTicks = 30

// Ticker is the orchestrator surface the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context, req pipeline.TickRequest) (*pipeline.TickResponse, error)
}

// Scheduler fires orchestrator ticks from cron expressions.
type Scheduler struct {
	ticker Ticker
	store  store.Store
	cfg    config.SchedulerConfig
	logger *slog.Logger

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// New creates a scheduler.
func New(ticker Ticker, st store.Store, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ticker: ticker,
		store:  st,
		cfg:    cfg,
		logger: catsynclog.WithComponent(logger, "scheduler"),
		Now:    time.Now,
	}
}

// Run blocks until the context is cancelled, firing resume ticks and
// trigger ticks at their scheduled minutes.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	tickExpr, err := Parse(s.cfg.TickSchedule)
	if err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", s.cfg.TickSchedule, err)
	}
	var triggerExpr *Expr
	if s.cfg.TriggerSchedule != "" {
		triggerExpr, err = Parse(s.cfg.TriggerSchedule)
		if err != nil {
			return fmt.Errorf("invalid trigger schedule %q: %w", s.cfg.TriggerSchedule, err)
		}
	}
	s.logger.Info("scheduler started",
		slog.String("tick_schedule", s.cfg.TickSchedule),
		slog.String("trigger_schedule", s.cfg.TriggerSchedule))

	for {
		now := s.Now()
		next := tickExpr.Next(now)
		trigger := false
		if triggerExpr != nil {
			if tn := triggerExpr.Next(now); !tn.IsZero() && !tn.After(next) {
				next = tn
				trigger = true
			}
		}
		if next.IsZero() {
			return fmt.Errorf("schedule %q never fires", s.cfg.TickSchedule)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if trigger {
			s.fireTrigger(ctx)
		} else {
			s.fireResume(ctx)
		}
	}
}

// fireTrigger starts (or re-attaches to) a run and drains it.
func (s *Scheduler) fireTrigger(ctx context.Context) {
	resp, err := s.ticker.Tick(ctx, pipeline.TickRequest{Trigger: store.TriggerCron})
	if err != nil {
		s.logger.Error("trigger tick failed", catsynclog.Error(err))
		return
	}
	s.logger.Info("trigger tick",
		slog.String("status", resp.Status),
		slog.String(catsynclog.RunIDKey, resp.RunID))
	if resp.NeedsResume && resp.Status == pipeline.StatusYielded {
		s.drain(ctx, resp.RunID, 1)
	}
}

// fireResume advances the current running run, if any. Fresh runs are
// only started by the trigger schedule or the HTTP surface.
func (s *Scheduler) fireResume(ctx context.Context) {
	running, err := s.store.ListRunning(ctx)
	if err != nil {
		s.logger.Error("running lookup failed", catsynclog.Error(err))
		return
	}
	if len(running) == 0 {
		return
	}
	s.drain(ctx, running[0].ID, 0)
}

// drain chases yields on one run until it parks: a terminal status, a
// retry window, a lock refusal, or the drain bound.
func (s *Scheduler) drain(ctx context.Context, runID string, used int) {
	for attempt := used; attempt < maxDrainTicks; attempt++ {
		resp, err := s.ticker.Tick(ctx, pipeline.TickRequest{
			Trigger:     store.TriggerCron,
			ResumeRunID: runID,
			Attempt:     attempt,
		})
		if err != nil {
			s.logger.Error("resume tick failed",
				slog.String(catsynclog.RunIDKey, runID),
				catsynclog.Error(err))
			return
		}

		switch resp.Status {
		case pipeline.StatusYielded:
			continue
		case pipeline.StatusRetryDelay:
			s.logger.Info("run in retry window",
				slog.String(catsynclog.RunIDKey, runID),
				slog.Int64("wait_seconds", resp.WaitSeconds))
			return
		case pipeline.StatusCompleted,
			pipeline.StatusFailedDefinitive,
			pipeline.StatusAlreadyFinished,
			pipeline.StatusYieldedLocked:
			s.logger.Info("run parked",
				slog.String(catsynclog.RunIDKey, runID),
				slog.String("status", resp.Status))
			return
		default:
			s.logger.Warn("unexpected tick status",
				slog.String(catsynclog.RunIDKey, runID),
				slog.String("status", resp.Status))
			return
		}
	}

	// Still yielding after the bound; the next firing picks it up.
	if err := s.store.LogEvent(ctx, runID, store.LevelWarn, "drain_loop_incomplete", map[string]any{
		"ticks": maxDrainTicks,
	}); err != nil {
		s.logger.Warn("event log failed", catsynclog.Error(err))
	}
}
