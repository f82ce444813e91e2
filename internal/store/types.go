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

// Package store defines the persistent run record, the global sync lock,
// and the append-only event log, together with the atomic deep-merge
// contract every mutation goes through.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/catsync/pkg/errors"
)

// LockName is the single named lock guarding the pipeline.
const LockName = "global_sync"

// Run statuses. Once a run leaves "running" it never returns.
const (
	RunRunning            = "running"
	RunSuccess            = "success"
	RunSuccessWithWarning = "success_with_warning"
	RunFailed             = "failed"
	RunCancelled          = "cancelled"
)

// Trigger types.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
)

// Step statuses, including the parse_merge sub-phases.
const (
	StepPending            = "pending"
	StepInProgress         = "in_progress"
	StepRetryDelay         = "retry_delay"
	StepCompleted          = "completed"
	StepSuccess            = "success"
	StepFailed             = "failed"
	StepBuildingStockIndex = "building_stock_index"
	StepBuildingPriceIndex = "building_price_index"
	StepPreparingMaterial  = "preparing_material"
	StepFinalizing         = "finalizing"
)

// Canonical step names in pipeline order.
const (
	StepImportFTP       = "import_ftp"
	StepParseMerge      = "parse_merge"
	StepEANMapping      = "ean_mapping"
	StepPricing         = "pricing"
	StepOverrideProduct = "override_products"
	StepExportEAN       = "export_ean"
	StepExportEANXLSX   = "export_ean_xlsx"
	StepExportAmazon    = "export_amazon"
	StepExportMW        = "export_mediaworld"
	StepExportEPrice    = "export_eprice"
	StepUploadSFTP      = "upload_sftp"
	StepVersioning      = "versioning"
	StepNotification    = "notification"
)

// CanonicalSteps is the 13-step pipeline in execution order.
var CanonicalSteps = []string{
	StepImportFTP,
	StepParseMerge,
	StepEANMapping,
	StepPricing,
	StepOverrideProduct,
	StepExportEAN,
	StepExportEANXLSX,
	StepExportAmazon,
	StepExportMW,
	StepExportEPrice,
	StepUploadSFTP,
	StepVersioning,
	StepNotification,
}

// Event levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Run is the persistent record of one pipeline run. Step states are
// kept as open maps so the deep-merge contract matches the serialized
// document exactly; step-private fields stay opaque to the orchestrator.
type Run struct {
	ID              string                    `json:"id"`
	Status          string                    `json:"status"`
	TriggerType     string                    `json:"trigger_type"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      *time.Time                `json:"finished_at,omitempty"`
	RuntimeMS       int64                     `json:"runtime_ms,omitempty"`
	CurrentStep     string                    `json:"current_step,omitempty"`
	Steps           map[string]map[string]any `json:"steps"`
	Metrics         map[string]int64          `json:"metrics,omitempty"`
	LocationWarns   map[string]int64          `json:"location_warnings,omitempty"`
	WarningCount    int                       `json:"warning_count"`
	FileManifest    map[string]string         `json:"file_manifest,omitempty"`
	CancelRequested bool                      `json:"cancel_requested,omitempty"`
	CancelledByUser bool                      `json:"cancelled_by_user,omitempty"`
	ErrorMessage    string                    `json:"error_message,omitempty"`
}

// NewRun creates a fresh running record positioned at the first
// canonical step.
func NewRun(trigger string, now time.Time) *Run {
	return &Run{
		ID:          uuid.NewString(),
		Status:      RunRunning,
		TriggerType: trigger,
		StartedAt:   now.UTC(),
		CurrentStep: StepImportFTP,
		Steps: map[string]map[string]any{
			StepImportFTP: {"status": StepPending},
		},
		Metrics: map[string]int64{},
	}
}

// StepStatus returns the status of the named step, or "pending" when
// the step has no state yet.
func (r *Run) StepStatus(step string) string {
	if st, ok := r.Steps[step]; ok {
		if s, ok := st["status"].(string); ok {
			return s
		}
	}
	return StepPending
}

// Terminal reports whether the run has left the running state.
func (r *Run) Terminal() bool {
	return r.Status != RunRunning
}

// Validate checks the structural invariants that must hold at every
// persisted state.
func (r *Run) Validate() error {
	if r.CurrentStep != "" {
		if _, ok := r.Steps[r.CurrentStep]; !ok {
			return &errors.ValidationError{
				Field:   "current_step",
				Message: "steps[" + r.CurrentStep + "] does not exist",
			}
		}
	}
	return nil
}

// IsStepDone reports whether a step status is terminal-success.
func IsStepDone(status string) bool {
	return status == StepCompleted || status == StepSuccess
}

// RetryState is the retry sub-key persisted while a retry is scheduled.
type RetryState struct {
	RetryAttempt   int       `json:"retry_attempt"`
	NextRetryAt    time.Time `json:"next_retry_at"`
	LastHTTPStatus int       `json:"last_http_status"`
	LastError      string    `json:"last_error"`
	Status         string    `json:"status"`
}

// RetryStateOf decodes the retry sub-key of a step state, if present.
func RetryStateOf(step map[string]any) (*RetryState, bool) {
	raw, ok := step["retry"]
	if !ok || raw == nil {
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var rs RetryState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, false
	}
	return &rs, true
}

// LockRecord is the single named lock row. Ownership is the pair
// (RunID, InvocationID), never RunID alone.
type LockRecord struct {
	Name         string    `json:"name"`
	RunID        string    `json:"run_id"`
	InvocationID string    `json:"invocation_id"`
	LeaseUntil   time.Time `json:"lease_until"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Event is one append-only observability record.
type Event struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Int reads an integer field from a step-state map, tolerating the
// numeric types a JSON round trip can produce.
func Int(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Str reads a string field from a step-state map.
func Str(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// TimeAt reads an RFC3339 timestamp field from a step-state map.
func TimeAt(m map[string]any, key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			t, err = time.Parse(time.RFC3339, v)
		}
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
