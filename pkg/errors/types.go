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

// Package errors provides typed errors for the catalog sync pipeline.
package errors

import (
	"fmt"
	"strings"
)

// ValidationError represents input validation failures.
// Use this for malformed feed data or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "object", "lock")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for missing environment variables or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "SFTP_HOST")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// StepError represents an application-level failure of a pipeline step.
// The Code is a stable machine-readable identifier persisted into the
// step state (e.g. "range_not_honored", "partial_line_too_large").
type StepError struct {
	// Step is the canonical step name
	Step string

	// Code is the stable failure code
	Code string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %s failed", e.Step)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// WorkerLimitError represents a transient worker-eviction fault
// (HTTP 546 or a WORKER_LIMIT body). It is the only error kind the
// orchestrator schedules retries for.
type WorkerLimitError struct {
	// HTTPStatus is the status code observed (usually 546)
	HTTPStatus int

	// Body is the response body, used for WORKER_LIMIT detection
	Body string
}

// Error implements the error interface.
func (e *WorkerLimitError) Error() string {
	return fmt.Sprintf("worker limit reached [HTTP %d]", e.HTTPStatus)
}

// HTTPStatusWorkerLimit is the non-standard status code emitted when an
// executor is evicted mid-invocation.
const HTTPStatusWorkerLimit = 546

// IsWorkerLimit reports whether err represents a transient worker
// eviction: either a WorkerLimitError, an HTTP 546 status, or a body
// containing the WORKER_LIMIT marker.
func IsWorkerLimit(err error) bool {
	if err == nil {
		return false
	}
	var wle *WorkerLimitError
	if As(err, &wle) {
		return true
	}
	return strings.Contains(err.Error(), "WORKER_LIMIT")
}
