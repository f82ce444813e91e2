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

package notify

import (
	"context"
	"strings"
	"testing"
)

func TestSubjectAndBody(t *testing.T) {
	s := Summary{
		RunID:        "run-7",
		Status:       "success_with_warning",
		TriggerType:  "cron",
		WarningCount: 3,
		RuntimeMS:    91234,
		Metrics:      map[string]int64{"product_count": 1412, "skipped_no_stock": 88},
	}

	if got := Subject(s); got != "[catsync] run run-7: success_with_warning" {
		t.Errorf("unexpected subject %q", got)
	}

	body := Body(s)
	for _, want := range []string{"run-7", "success_with_warning", "Warnings: 3", "product_count", "1412"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "Error:") {
		t.Error("error line rendered for successful run")
	}

	s.Error = "pipeline_incomplete"
	if !strings.Contains(Body(s), "Error:    pipeline_incomplete") {
		t.Error("error line missing for failed run")
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), Summary{RunID: "x"}); err != nil {
		t.Fatalf("nop notifier errored: %v", err)
	}
}
