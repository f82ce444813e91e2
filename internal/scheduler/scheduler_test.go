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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/tombee/catsync/internal/config"
	"github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
	memstore "github.com/tombee/catsync/internal/store/memory"
)

// scriptedTicker returns canned responses in order, then parks.
type scriptedTicker struct {
	responses []pipeline.TickResponse
	requests  []pipeline.TickRequest
}

func (s *scriptedTicker) Tick(ctx context.Context, req pipeline.TickRequest) (*pipeline.TickResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &pipeline.TickResponse{Status: pipeline.StatusCompleted}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &resp, nil
}

func newScheduler(t *testing.T, ticker Ticker, st store.Store) *Scheduler {
	t.Helper()
	cfg := config.SchedulerConfig{Enabled: true, TickSchedule: "* * * * *"}
	return New(ticker, st, cfg, log.New(log.DefaultConfig()))
}

func TestDrain_ChasesYieldsUntilParked(t *testing.T) {
	ticker := &scriptedTicker{responses: []pipeline.TickResponse{
		{Status: pipeline.StatusYielded, RunID: "r1", NeedsResume: true},
		{Status: pipeline.StatusYielded, RunID: "r1", NeedsResume: true},
		{Status: pipeline.StatusCompleted, RunID: "r1"},
	}}
	s := newScheduler(t, ticker, memstore.New())

	s.drain(context.Background(), "r1", 0)

	if len(ticker.requests) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticker.requests))
	}
	for _, req := range ticker.requests {
		if req.ResumeRunID != "r1" || req.Trigger != store.TriggerCron {
			t.Errorf("unexpected request %+v", req)
		}
	}
}

func TestDrain_StopsOnRetryWindow(t *testing.T) {
	ticker := &scriptedTicker{responses: []pipeline.TickResponse{
		{Status: pipeline.StatusRetryDelay, RunID: "r1", WaitSeconds: 60},
		{Status: pipeline.StatusCompleted, RunID: "r1"},
	}}
	s := newScheduler(t, ticker, memstore.New())

	s.drain(context.Background(), "r1", 0)

	if len(ticker.requests) != 1 {
		t.Fatalf("drain kept going through a retry window: %d ticks", len(ticker.requests))
	}
}

func TestDrain_LogsIncompleteAfterBound(t *testing.T) {
	var responses []pipeline.TickResponse
	for i := 0; i < maxDrainTicks+5; i++ {
		responses = append(responses, pipeline.TickResponse{Status: pipeline.StatusYielded, RunID: "r1", NeedsResume: true})
	}
	ticker := &scriptedTicker{responses: responses}
	st := memstore.New()
	s := newScheduler(t, ticker, st)

	s.drain(context.Background(), "r1", 0)

	if len(ticker.requests) != maxDrainTicks {
		t.Fatalf("expected %d ticks, got %d", maxDrainTicks, len(ticker.requests))
	}
	events, err := st.ListEvents(context.Background(), "r1", 10)
	if err != nil {
		t.Fatalf("event list failed: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Message == "drain_loop_incomplete" {
			found = true
		}
	}
	if !found {
		t.Error("drain_loop_incomplete event missing")
	}
}

func TestFireResume_NoRunningRun(t *testing.T) {
	ticker := &scriptedTicker{}
	s := newScheduler(t, ticker, memstore.New())

	s.fireResume(context.Background())

	if len(ticker.requests) != 0 {
		t.Fatalf("resume fired without a running run: %+v", ticker.requests)
	}
}

func TestFireResume_DrivesRunningRun(t *testing.T) {
	st := memstore.New()
	run := store.NewRun(store.TriggerCron, time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC))
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("run create failed: %v", err)
	}
	ticker := &scriptedTicker{responses: []pipeline.TickResponse{
		{Status: pipeline.StatusCompleted, RunID: run.ID},
	}}
	s := newScheduler(t, ticker, st)

	s.fireResume(context.Background())

	if len(ticker.requests) != 1 || ticker.requests[0].ResumeRunID != run.ID {
		t.Fatalf("unexpected requests %+v", ticker.requests)
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := New(&scriptedTicker{}, memstore.New(),
		config.SchedulerConfig{Enabled: true, TickSchedule: "nope"},
		log.New(log.DefaultConfig()))
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("invalid schedule accepted")
	}
}
