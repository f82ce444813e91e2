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
	"log/slog"

	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// runImportFTP pulls the supplier feeds into per-run object keys. The
// material, stock, and price feeds are required; locations is optional.
func (r *Runner) runImportFTP(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	results, err := r.ftp.FetchInputs(ctx, r.objects, run.ID)
	if err != nil {
		return pipeline.FromError("ftp_fetch_failed", err)
	}

	delta := map[string]any{
		"files_fetched": len(results),
		"has_locations": false,
	}
	var total int64
	for _, res := range results {
		delta["bytes_"+res.Kind] = res.Bytes
		total += res.Bytes
		if res.Kind == "locations" {
			delta["has_locations"] = true
		}
	}
	logger.Info("supplier feeds imported",
		slog.Int("files", len(results)),
		slog.Int64("bytes_total", total))
	r.mergeMetrics(ctx, run.ID, map[string]any{"input_bytes_total": total})
	return pipeline.Completed(delta)
}
