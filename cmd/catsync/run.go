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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// maxCLITicks bounds a foreground drive loop. A full run is a few
// hundred ticks at worst (parse_merge chunking dominates).
const maxCLITicks = 2000

// newRunCommand starts a fresh run and drives it to a terminal state.
func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a synchronization run and drive it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return driveRun(cmd.Context(), *configPath, "")
		},
	}
}

// newResumeCommand re-attaches to a run and drives it to a terminal
// state.
func newResumeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Resume a run (the current one when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) > 0 {
				runID = args[0]
			}
			return driveRun(cmd.Context(), *configPath, runID)
		},
	}
}

// driveRun ticks the orchestrator until the run parks in a terminal
// state, sleeping through retry windows.
func driveRun(parent context.Context, configPath, resumeID string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, configPath)
	if err != nil {
		return err
	}
	defer d.Close()

	req := pipeline.TickRequest{Trigger: store.TriggerManual, ResumeRunID: resumeID}
	for attempt := 0; attempt < maxCLITicks; attempt++ {
		req.Attempt = attempt
		resp, err := d.orch.Tick(ctx, req)
		if err != nil {
			return err
		}
		req.ResumeRunID = resp.RunID

		switch resp.Status {
		case pipeline.StatusYielded, pipeline.StatusYieldedLocked:
			continue

		case pipeline.StatusRetryDelay:
			wait := time.Duration(resp.WaitSeconds) * time.Second
			d.logger.Info("waiting out retry window",
				slog.String(catsynclog.RunIDKey, resp.RunID),
				slog.String(catsynclog.StepKey, resp.CurrentStep),
				slog.Int64("wait_seconds", resp.WaitSeconds))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

		case pipeline.StatusCompleted, pipeline.StatusAlreadyFinished:
			fmt.Printf("run %s: %s\n", resp.RunID, resp.Status)
			return nil

		case pipeline.StatusFailedDefinitive:
			return fmt.Errorf("run %s failed: %s", resp.RunID, resp.Error)

		default:
			return fmt.Errorf("unexpected tick status %q", resp.Status)
		}
	}
	return fmt.Errorf("run did not finish within %d ticks", maxCLITicks)
}

// newDiagnosticsCommand dumps a run record and its recent events as
// JSON without advancing the pipeline.
func newDiagnosticsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics [run-id]",
		Short: "Dump run state and events (the current run when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer d.Close()

			req := pipeline.TickRequest{Mode: "diagnostics"}
			if len(args) > 0 {
				req.ResumeRunID = args[0]
			}
			resp, err := d.orch.Tick(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}
