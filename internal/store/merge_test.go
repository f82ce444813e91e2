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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMerge_NestedMaps(t *testing.T) {
	dst := map[string]any{
		"status": "in_progress",
		"retry":  map[string]any{"retry_attempt": 1, "last_error": "worker_limit_546"},
	}
	patch := map[string]any{
		"retry": map[string]any{"retry_attempt": 2},
	}

	got := DeepMerge(dst, patch)

	retry := got["retry"].(map[string]any)
	assert.Equal(t, 2, retry["retry_attempt"])
	assert.Equal(t, "worker_limit_546", retry["last_error"], "untouched sibling keys survive")
}

func TestDeepMerge_NilDeletes(t *testing.T) {
	dst := map[string]any{
		"status": "completed",
		"retry":  map[string]any{"retry_attempt": 3},
	}

	got := DeepMerge(dst, map[string]any{"retry": nil})

	_, exists := got["retry"]
	assert.False(t, exists, "nil patch value must delete the sub-key")
	assert.Equal(t, "completed", got["status"])
}

func TestDeepMerge_ScalarsReplace(t *testing.T) {
	dst := map[string]any{"cursor_pos": int64(100), "mode": "range"}
	got := DeepMerge(dst, map[string]any{"cursor_pos": int64(2097252)})
	assert.Equal(t, int64(2097252), got["cursor_pos"])
	assert.Equal(t, "range", got["mode"])
}

func TestDeepMerge_NilDst(t *testing.T) {
	got := DeepMerge(nil, map[string]any{"status": "pending"})
	assert.Equal(t, "pending", got["status"])
}

func TestDeepMerge_PatchMapIsCopied(t *testing.T) {
	patch := map[string]any{"inner": map[string]any{"a": 1}}
	got := DeepMerge(nil, patch)

	got["inner"].(map[string]any)["a"] = 2
	assert.Equal(t, 1, patch["inner"].(map[string]any)["a"], "merge must not alias the patch")
}

func TestMergeRunDoc(t *testing.T) {
	run := NewRun(TriggerManual, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	run.Metrics["products_total"] = 3

	merged, err := MergeRunDoc(run, map[string]any{
		"status":        RunFailed,
		"error_message": "pipeline_incomplete",
		"metrics":       map[string]any{"exported_rows": 0},
	})
	require.NoError(t, err)

	assert.Equal(t, RunFailed, merged.Status)
	assert.Equal(t, "pipeline_incomplete", merged.ErrorMessage)
	assert.Equal(t, int64(3), merged.Metrics["products_total"], "existing metrics survive")
	assert.Equal(t, int64(0), merged.Metrics["exported_rows"])
	assert.Equal(t, run.ID, merged.ID)
}

func TestRun_Validate(t *testing.T) {
	run := NewRun(TriggerCron, time.Now())
	require.NoError(t, run.Validate())

	run.CurrentStep = "pricing"
	err := run.Validate()
	require.Error(t, err, "current_step without step state must fail validation")
}

func TestRetryStateOf(t *testing.T) {
	step := map[string]any{
		"status": StepRetryDelay,
		"retry": map[string]any{
			"retry_attempt":    2,
			"next_retry_at":    "2026-08-24T10:02:00Z",
			"last_http_status": 546,
			"last_error":       "worker_limit_546",
			"status":           StepRetryDelay,
		},
	}

	rs, ok := RetryStateOf(step)
	require.True(t, ok)
	assert.Equal(t, 2, rs.RetryAttempt)
	assert.Equal(t, 546, rs.LastHTTPStatus)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 2, 0, 0, time.UTC), rs.NextRetryAt)

	_, ok = RetryStateOf(map[string]any{"status": StepInProgress})
	assert.False(t, ok)
}
