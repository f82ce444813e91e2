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

package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/catsync/internal/export"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// exportSteps are the steps whose validation state gates the upload.
var exportSteps = []string{
	store.StepExportEAN,
	store.StepExportEANXLSX,
	store.StepExportAmazon,
	store.StepExportMW,
	store.StepExportEPrice,
}

// runUploadSFTP ships the published artifacts. The preflight refuses to
// touch the network while anything is off: missing credentials, a
// missing artifact, a CSV in the selection, or an export that did not
// validate cleanly.
func (r *Runner) runUploadSFTP(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	if !r.cfg.SFTP.Complete() {
		return pipeline.Fatal("missing_env",
			fmt.Sprintf("sftp settings incomplete: %v", r.cfg.SFTP.MissingKeys()))
	}

	for _, step := range exportSteps {
		st := run.Steps[step]
		if st == nil {
			return pipeline.Fatal("validation_gate_failed", step+" has no recorded state")
		}
		passed, _ := st["validation_passed"].(bool)
		if !passed || store.Int(st, "validation_warnings") != 0 {
			return pipeline.Fatal("validation_gate_failed", step+" did not validate cleanly")
		}
	}

	files := make(map[string][]byte, len(export.PublishedFiles))
	var total int64
	for _, name := range export.PublishedFiles {
		if strings.HasSuffix(strings.ToLower(name), ".csv") {
			return pipeline.Fatal("csv_in_selection", name+" must not be shipped")
		}
		data, err := r.objects.Get(ctx, outputKey(run.ID, name))
		if err != nil {
			if isNotFound(err) {
				return pipeline.Fatal("artifact_missing", name+" was not produced")
			}
			return pipeline.FromError("artifact_read_failed", err)
		}
		files[name] = data
		total += int64(len(data))
	}

	if err := r.sftp.Upload(ctx, files); err != nil {
		return pipeline.FromError("sftp_upload_failed", err)
	}

	logger.Info("exports shipped",
		slog.Int("files", len(files)),
		slog.Int64("bytes_total", total))
	r.mergeMetrics(ctx, run.ID, map[string]any{"upload_bytes_total": total})
	return pipeline.Completed(map[string]any{
		"files_uploaded": len(files),
		"bytes_total":    total,
	})
}
