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
	"sort"
	"strings"
	"time"

	"github.com/tombee/catsync/internal/export"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

const (
	// versionTimeLayout names a version snapshot directory.
	versionTimeLayout = "20060102T150405Z"

	// retainVersions is how many snapshots survive per file name.
	retainVersions = 3

	// retainMinAge protects young snapshots from pruning even beyond
	// the retention count.
	retainMinAge = 7 * 24 * time.Hour

	// pruneBatch bounds deletions per versioning tick.
	pruneBatch = 20
)

// runVersioning publishes the run's artifacts to the latest/ tree and a
// timestamped snapshot, records the file manifest on the run, and
// prunes old snapshots.
func (r *Runner) runVersioning(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	stamp := r.now().UTC().Format(versionTimeLayout)

	manifest := map[string]any{}
	for _, name := range export.PublishedFiles {
		data, err := r.objects.Get(ctx, outputKey(run.ID, name))
		if err != nil {
			if isNotFound(err) {
				return pipeline.Fatal("artifact_missing", name+" was not produced")
			}
			return pipeline.FromError("artifact_read_failed", err)
		}
		if err := r.objects.Put(ctx, "outputs/latest/"+name, data); err != nil {
			return pipeline.FromError("latest_write_failed", err)
		}
		versionKey := "outputs/versions/" + stamp + "/" + name
		if err := r.objects.Put(ctx, versionKey, data); err != nil {
			return pipeline.FromError("version_write_failed", err)
		}
		manifest[name] = versionKey
	}

	if err := r.store.MergeRun(ctx, run.ID, map[string]any{"file_manifest": manifest}); err != nil {
		return pipeline.FromError("manifest_write_failed", err)
	}

	pruned, err := r.pruneVersions(ctx, logger)
	if err != nil {
		// Pruning is housekeeping; a failure must not undo a published
		// run.
		r.event(ctx, run.ID, store.LevelWarn, "version_prune_failed", map[string]any{"error": err.Error()})
	}

	logger.Info("artifacts versioned",
		slog.String("snapshot", stamp),
		slog.Int("files", len(manifest)),
		slog.Int("pruned", pruned))
	return pipeline.Completed(map[string]any{
		"snapshot":        stamp,
		"files_versioned": len(manifest),
		"versions_pruned": pruned,
	})
}

// pruneVersions deletes snapshots beyond the per-file retention count,
// but only once they are older than the minimum age, and never more
// than one batch per tick.
func (r *Runner) pruneVersions(ctx context.Context, logger *slog.Logger) (int, error) {
	keys, err := r.objects.List(ctx, "outputs/versions/")
	if err != nil {
		return 0, err
	}

	type snapshot struct {
		key   string
		stamp time.Time
	}
	byFile := map[string][]snapshot{}
	for _, key := range keys {
		parts := strings.SplitN(strings.TrimPrefix(key, "outputs/versions/"), "/", 2)
		if len(parts) != 2 {
			continue
		}
		stamp, err := time.Parse(versionTimeLayout, parts[0])
		if err != nil {
			continue
		}
		byFile[parts[1]] = append(byFile[parts[1]], snapshot{key: key, stamp: stamp})
	}

	cutoff := r.now().UTC().Add(-retainMinAge)
	var doomed []string
	for _, snaps := range byFile {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].stamp.After(snaps[j].stamp) })
		for _, s := range snaps[min(retainVersions, len(snaps)):] {
			if s.stamp.Before(cutoff) {
				doomed = append(doomed, s.key)
			}
		}
	}
	sort.Strings(doomed)
	if len(doomed) > pruneBatch {
		doomed = doomed[:pruneBatch]
	}

	pruned := 0
	for _, key := range doomed {
		if err := r.objects.Delete(ctx, key); err != nil {
			logger.Warn("snapshot delete failed", slog.String("key", key), catsynclog.Error(err))
			continue
		}
		pruned++
	}
	return pruned, nil
}
