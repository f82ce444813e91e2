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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/catsync/internal/export"
	"github.com/tombee/catsync/internal/feed"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/internal/metrics"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/stock"
	"github.com/tombee/catsync/internal/store"
	"github.com/tombee/catsync/internal/transfer"
	"github.com/tombee/catsync/pkg/errors"
)

// probeWindow is the Range window of the header probe.
const probeWindow = 8192

// signedURLTTL is the validity window requested for material URLs. A
// fresh URL is signed every tick, so the TTL only needs to outlive one
// chunk loop.
const signedURLTTL = 10 * time.Minute

// materialMeta is the parse geometry persisted between chunk ticks.
type materialMeta struct {
	TotalBytes int64          `json:"total_bytes"`
	Delimiter  string         `json:"delimiter"`
	Columns    map[string]int `json:"columns"`
	HeaderEnd  int64          `json:"header_end"`
}

// runParseMerge advances the chunked material parse by one phase or one
// budgeted batch of chunks. The sub-phase lives in the step-private
// "phase" field because the orchestrator resets "status" to in_progress
// on every dispatch.
func (r *Runner) runParseMerge(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	st := run.Steps[store.StepParseMerge]
	if st == nil {
		st = map[string]any{}
	}

	switch phase := store.Str(st, "phase"); phase {
	case "", store.StepPending:
		return r.pmBuildStockIndex(ctx, run, logger)
	case store.StepBuildingStockIndex:
		return r.pmBuildStockIndex(ctx, run, logger)
	case store.StepBuildingPriceIndex:
		return r.pmBuildPriceIndex(ctx, run, logger)
	case store.StepPreparingMaterial:
		return r.pmPrepareMaterial(ctx, run, logger)
	case store.StepInProgress:
		return r.pmChunkLoop(ctx, run, st, logger)
	case store.StepFinalizing:
		return r.pmFinalize(ctx, run, st, logger)
	default:
		return pipeline.Fatal("parse_merge_bad_phase", "unknown phase "+phase)
	}
}

// pmBuildStockIndex parses the stock feed (and the optional locations
// feed) into object-store indexes.
func (r *Runner) pmBuildStockIndex(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	data, err := r.objects.Get(ctx, transfer.InputKey(run.ID, "stock"))
	if err != nil {
		if isNotFound(err) {
			return pipeline.Fatal("stock_feed_missing", err.Error())
		}
		return pipeline.FromError("stock_feed_read_failed", err)
	}

	index, warns, err := feed.BuildStockIndex(data)
	if err != nil {
		return pipeline.Fatal("stock_parse_failed", err.Error())
	}
	for msg, count := range warns {
		r.event(ctx, run.ID, store.LevelWarn, msg, map[string]any{"count": count, "feed": "stock"})
	}

	payload, err := feed.MarshalStockIndex(index)
	if err != nil {
		return pipeline.Fatal("stock_index_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, stateKey(run.ID, "stock_index.json"), payload); err != nil {
		return pipeline.FromError("stock_index_write_failed", err)
	}

	if outcome, ok := r.pmBuildLocations(ctx, run); !ok {
		return outcome
	}

	logger.Info("stock index built", slog.Int("rows", len(index)))
	return pipeline.InProgress(map[string]any{
		"phase":      store.StepBuildingPriceIndex,
		"status":     store.StepBuildingPriceIndex,
		"stock_rows": len(index),
	})
}

// pmBuildLocations parses the optional locations feed into per-material
// IT/EU splits. A missing feed is not an error.
func (r *Runner) pmBuildLocations(ctx context.Context, run *store.Run) (pipeline.Outcome, bool) {
	data, err := r.objects.Get(ctx, transfer.InputKey(run.ID, "locations"))
	if err != nil {
		if isNotFound(err) {
			return pipeline.Outcome{}, true
		}
		return pipeline.FromError("locations_read_failed", err), false
	}

	splits, warns, err := stock.ParseLocations(bytes.NewReader(data))
	if err != nil {
		return pipeline.Fatal("locations_parse_failed", err.Error()), false
	}
	for msg, count := range warns {
		r.event(ctx, run.ID, store.LevelWarn, msg, map[string]any{"count": count, "feed": "locations"})
	}

	payload, err := json.Marshal(splits)
	if err != nil {
		return pipeline.Fatal("locations_encode_failed", err.Error()), false
	}
	if err := r.objects.Put(ctx, stateKey(run.ID, "locations.json"), payload); err != nil {
		return pipeline.FromError("locations_write_failed", err), false
	}
	return pipeline.Outcome{}, true
}

// pmBuildPriceIndex parses the price feed into the per-material price
// component index.
func (r *Runner) pmBuildPriceIndex(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	data, err := r.objects.Get(ctx, transfer.InputKey(run.ID, "price"))
	if err != nil {
		if isNotFound(err) {
			return pipeline.Fatal("price_feed_missing", err.Error())
		}
		return pipeline.FromError("price_feed_read_failed", err)
	}

	index, err := feed.BuildPriceIndex(data)
	if err != nil {
		return pipeline.Fatal("price_parse_failed", err.Error())
	}

	payload, err := feed.MarshalPriceIndex(index)
	if err != nil {
		return pipeline.Fatal("price_index_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, stateKey(run.ID, "price_index.json"), payload); err != nil {
		return pipeline.FromError("price_index_write_failed", err)
	}

	logger.Info("price index built", slog.Int("rows", len(index)))
	return pipeline.InProgress(map[string]any{
		"phase":      store.StepPreparingMaterial,
		"status":     store.StepPreparingMaterial,
		"price_rows": len(index),
	})
}

// pmPrepareMaterial probes the material file: size, header geometry,
// delimiter, and column positions. The cursor starts just past the
// header line.
func (r *Runner) pmPrepareMaterial(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	url, err := r.objects.SignedURL(ctx, transfer.InputKey(run.ID, "material"), signedURLTTL)
	if err != nil {
		return pipeline.FromError("material_url_failed", err)
	}

	head, err := r.fetch.Head(ctx, url)
	if err != nil {
		return pipeline.FromError("material_head_failed", err)
	}
	if head.StatusCode == errors.HTTPStatusWorkerLimit {
		return pipeline.Retryable(head.StatusCode, "worker_limit_546")
	}
	total := head.ContentLength

	probe, err := r.fetch.GetRange(ctx, url, 0, probeWindow-1)
	if err != nil {
		return pipeline.FromError("material_probe_failed", err)
	}
	switch probe.StatusCode {
	case http.StatusPartialContent, http.StatusOK:
	case errors.HTTPStatusWorkerLimit:
		return pipeline.Retryable(probe.StatusCode, "worker_limit_546")
	default:
		return pipeline.Fatal("material_probe_failed",
			fmt.Sprintf("unexpected status %d on header probe", probe.StatusCode))
	}

	if total < 0 {
		total = totalFromContentRange(probe.ContentRange)
	}
	if total < 0 && probe.StatusCode == http.StatusOK && !probe.Truncated {
		total = int64(len(probe.Body))
	}
	if total <= 0 {
		return pipeline.Fatal("material_size_unknown", "server reported no usable size")
	}
	if total > r.cfg.Sync.MaxTotalSizeBytes {
		return pipeline.Fatal("material_too_large",
			fmt.Sprintf("material file is %d bytes, limit %d", total, r.cfg.Sync.MaxTotalSizeBytes))
	}

	nl := bytes.IndexByte(probe.Body, '\n')
	if nl < 0 {
		return pipeline.Fatal("material_header_missing",
			fmt.Sprintf("no newline in the first %d bytes", probeWindow))
	}
	headerLine := strings.TrimRight(string(probe.Body[:nl]), "\r")
	delim := feed.DetectDelimiter(headerLine)
	cols, err := feed.ResolveColumns(strings.Split(headerLine, string(delim)), feed.MaterialAliases)
	if err != nil {
		return pipeline.Fatal("material_columns_unresolved", err.Error())
	}

	meta := materialMeta{
		TotalBytes: total,
		Delimiter:  string(delim),
		Columns:    cols,
		HeaderEnd:  int64(nl + 1),
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return pipeline.Fatal("material_meta_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, stateKey(run.ID, "material_meta.json"), payload); err != nil {
		return pipeline.FromError("material_meta_write_failed", err)
	}

	logger.Info("material prepared",
		slog.Int64("total_bytes", total),
		slog.String("delimiter", strconv.QuoteRune(delim)),
		slog.Int64("header_end", meta.HeaderEnd))
	return pipeline.InProgress(map[string]any{
		"phase":        store.StepInProgress,
		"status":       store.StepInProgress,
		"total_bytes":  total,
		"cursor_pos":   meta.HeaderEnd,
		"chunk_index":  0,
		"partial_line": "",
	})
}

// pmChunkLoop fetches Range windows and merges material rows with the
// stock and price indexes until the chunk budget or EOF. Progress is
// persisted after every chunk so a killed invocation resumes at the
// exact byte cursor.
func (r *Runner) pmChunkLoop(ctx context.Context, run *store.Run, st map[string]any, logger *slog.Logger) pipeline.Outcome {
	meta, stockIdx, priceIdx, outcome, ok := r.pmLoadState(ctx, run.ID)
	if !ok {
		return outcome
	}

	cursor := store.Int(st, "cursor_pos")
	chunkIdx := int(store.Int(st, "chunk_index"))
	partial := store.Str(st, "partial_line")
	counters := map[string]int64{}
	for _, key := range counterKeys {
		counters[key] = store.Int(st, key)
	}
	skips := loadSkips(st)

	url, err := r.objects.SignedURL(ctx, transfer.InputKey(run.ID, "material"), signedURLTTL)
	if err != nil {
		return pipeline.FromError("material_url_failed", err)
	}

	deadline := r.now().Add(r.cfg.Sync.ChunkTimeBudget)
	firstCursor := meta.HeaderEnd

	for {
		if chunkIdx > r.cfg.Sync.MaxTotalChunks {
			r.event(ctx, run.ID, store.LevelError, "too_many_chunks", map[string]any{
				"chunk_index": chunkIdx, "limit": r.cfg.Sync.MaxTotalChunks,
			})
			return pipeline.Fatal("too_many_chunks",
				fmt.Sprintf("material needs more than %d chunks", r.cfg.Sync.MaxTotalChunks))
		}

		res, err := r.fetch.GetRange(ctx, url, cursor, cursor+r.cfg.Sync.MaxFetchBytes-1)
		if err != nil {
			return pipeline.FromError("material_fetch_failed", err)
		}

		var body []byte
		eof := false
		switch res.StatusCode {
		case http.StatusPartialContent:
			body = res.Body
		case http.StatusRequestedRangeNotSatisfiable:
			eof = true
		case errors.HTTPStatusWorkerLimit:
			return pipeline.Retryable(res.StatusCode, "worker_limit_546")
		case http.StatusOK:
			// A server that ignores Range on the first window is
			// tolerated when the whole file fits the fetch cap, with
			// slack for a cursor that skipped the header. Mid-file it
			// means silent data corruption, so it is fatal.
			if chunkIdx == 0 && cursor == firstCursor && !res.Truncated &&
				int64(len(res.Body)) <= r.cfg.Sync.MaxFetchBytes+64*1024 {
				if int64(len(res.Body)) > cursor {
					body = res.Body[cursor:]
				}
				eof = true
				break
			}
			r.event(ctx, run.ID, store.LevelError, "range_not_honored", map[string]any{
				"cursor": cursor, "status": res.StatusCode, "bytes": len(res.Body),
			})
			return pipeline.Fatal("range_not_honored",
				fmt.Sprintf("server returned 200 at cursor %d", cursor))
		default:
			return pipeline.Fatal("material_fetch_failed",
				fmt.Sprintf("unexpected status %d at cursor %d", res.StatusCode, cursor))
		}

		// A zero-byte 206 means the server's idea of the size diverged
		// from ours; stop fetching rather than spin.
		if !eof && len(body) == 0 {
			eof = true
		}

		if len(body) > 0 {
			cursor += int64(len(body))
			text := partial + string(body)

			var emit string
			if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
				emit = text[:idx+1]
				partial = text[idx+1:]
			} else {
				partial = text
			}
			if len(partial) > r.cfg.Sync.MaxPartialLineBytes {
				r.event(ctx, run.ID, store.LevelError, "partial_line_too_large", map[string]any{
					"bytes": len(partial), "limit": r.cfg.Sync.MaxPartialLineBytes,
				})
				return pipeline.Fatal("partial_line_too_large",
					fmt.Sprintf("carried line is %d bytes", len(partial)))
			}

			if emit != "" {
				rows := mergeMaterialLines(emit, meta, stockIdx, priceIdx, counters, skips)
				if len(rows) > 0 {
					data := []byte(strings.Join(rows, "\n") + "\n")
					if err := r.objects.Put(ctx, chunkKey(run.ID, chunkIdx), data); err != nil {
						return pipeline.FromError("chunk_write_failed", err)
					}
					chunkIdx++
				}
			}

			metrics.RecordChunk("fetched", len(body))
			progress := map[string]any{
				"cursor_pos":   cursor,
				"chunk_index":  chunkIdx,
				"partial_line": partial,
				"skipped":      skipsDelta(skips),
			}
			for key, v := range counters {
				progress[key] = v
			}
			if err := r.store.MergeStep(ctx, run.ID, store.StepParseMerge, progress); err != nil {
				return pipeline.FromError("progress_write_failed", err)
			}
			r.event(ctx, run.ID, store.LevelInfo, "parse_merge_chunk_progress", map[string]any{
				"cursor_pos":    cursor,
				"total_bytes":   meta.TotalBytes,
				"bytes_fetched": len(body),
				"chunk_index":   chunkIdx,
				"rows_merged":   counters["rows_merged"],
			})
			logger.Info("parse_merge_chunk_progress",
				slog.Int64("cursor_pos", cursor),
				slog.Int64("total_bytes", meta.TotalBytes),
				slog.Int("chunk_index", chunkIdx))
		}

		if cursor >= meta.TotalBytes {
			eof = true
		}

		if eof {
			if strings.TrimSpace(partial) != "" {
				rows := mergeMaterialLines(partial+"\n", meta, stockIdx, priceIdx, counters, skips)
				if len(rows) > 0 {
					data := []byte(strings.Join(rows, "\n") + "\n")
					if err := r.objects.Put(ctx, chunkKey(run.ID, chunkIdx), data); err != nil {
						return pipeline.FromError("chunk_write_failed", err)
					}
					chunkIdx++
				}
			}
			delta := map[string]any{
				"phase":        store.StepFinalizing,
				"status":       store.StepFinalizing,
				"cursor_pos":   cursor,
				"chunk_index":  chunkIdx,
				"partial_line": "",
				"skipped":      skipsDelta(skips),
			}
			for key, v := range counters {
				delta[key] = v
			}
			return pipeline.InProgress(delta)
		}

		if !r.now().Before(deadline) {
			delta := map[string]any{
				"phase":        store.StepInProgress,
				"cursor_pos":   cursor,
				"chunk_index":  chunkIdx,
				"partial_line": partial,
				"skipped":      skipsDelta(skips),
			}
			for key, v := range counters {
				delta[key] = v
			}
			return pipeline.InProgress(delta)
		}
	}
}

// pmFinalize concatenates the chunk files into the unified product
// table, incrementally under the chunk budget, then cleans up the
// intermediates.
func (r *Runner) pmFinalize(ctx context.Context, run *store.Run, st map[string]any, logger *slog.Logger) pipeline.Outcome {
	chunkCount := int(store.Int(st, "chunk_index"))
	fidx := int(store.Int(st, "finalize_chunk_idx"))

	partialKey := stateKey(run.ID, "finalize_partial.tsv")
	var buf bytes.Buffer
	partial, err := r.objects.Get(ctx, partialKey)
	if err != nil && !isNotFound(err) {
		return pipeline.FromError("finalize_read_failed", err)
	}
	buf.Write(partial)

	deadline := r.now().Add(r.cfg.Sync.ChunkTimeBudget)
	for fidx < chunkCount {
		data, err := r.objects.Get(ctx, chunkKey(run.ID, fidx))
		if err != nil {
			return pipeline.FromError("finalize_chunk_read_failed", err)
		}
		buf.Write(data)
		fidx++

		if int64(buf.Len()) > r.cfg.Sync.MaxTotalSizeBytes {
			r.event(ctx, run.ID, store.LevelError, "finalization_too_large", map[string]any{
				"bytes": buf.Len(), "limit": r.cfg.Sync.MaxTotalSizeBytes,
			})
			return pipeline.Fatal("finalization_too_large",
				fmt.Sprintf("assembled table is %d bytes", buf.Len()))
		}

		if fidx < chunkCount && !r.now().Before(deadline) {
			if err := r.objects.Put(ctx, partialKey, buf.Bytes()); err != nil {
				return pipeline.FromError("finalize_write_failed", err)
			}
			return pipeline.InProgress(map[string]any{
				"phase":              store.StepFinalizing,
				"finalize_chunk_idx": fidx,
			})
		}
	}

	productCount := bytes.Count(buf.Bytes(), []byte{'\n'})
	table := make([]byte, 0, len(export.Header)+1+buf.Len())
	table = append(table, export.Header...)
	table = append(table, '\n')
	table = append(table, buf.Bytes()...)
	if err := r.objects.Put(ctx, outputKey(run.ID, "products.tsv"), table); err != nil {
		return pipeline.FromError("products_write_failed", err)
	}

	// Intermediates are per-run garbage once the table exists. The
	// locations splits survive for the export steps.
	for i := 0; i < chunkCount; i++ {
		if err := r.objects.Delete(ctx, chunkKey(run.ID, i)); err != nil {
			logger.Warn("chunk cleanup failed", slog.Int("chunk", i), catsynclog.Error(err))
		}
	}
	for _, name := range []string{"finalize_partial.tsv", "material_meta.json", "stock_index.json", "price_index.json"} {
		if err := r.objects.Delete(ctx, stateKey(run.ID, name)); err != nil {
			logger.Warn("state cleanup failed", slog.String("name", name), catsynclog.Error(err))
		}
	}

	skips := loadSkips(st)
	if orphans := skips["no_price"]; orphans > 0 {
		r.event(ctx, run.ID, store.LevelWarn, "parse_merge_orphans", map[string]any{"count": orphans})
	}

	runMetrics := map[string]any{"product_count": productCount}
	for _, key := range counterKeys {
		if v := store.Int(st, key); v > 0 {
			runMetrics[key] = v
		}
	}
	for _, key := range skipKeys {
		if v := skips[key]; v > 0 {
			runMetrics["skipped_"+key] = v
		}
	}
	r.mergeMetrics(ctx, run.ID, runMetrics)

	logger.Info("product table assembled",
		slog.Int("products", productCount),
		slog.Int("chunks", chunkCount))
	return pipeline.Completed(map[string]any{
		"phase":         store.StepCompleted,
		"product_count": productCount,
		"partial_line":  nil,
	})
}

// counterKeys are the parse counters carried through chunk ticks.
var counterKeys = []string{"rows_merged", "skipped_no_matnr", "skipped_malformed"}

// skipKeys name the per-line skip reasons inside the step's "skipped"
// block.
var skipKeys = []string{"no_stock", "no_price", "low_stock", "no_valid"}

// loadSkips reads the skipped block from persisted step state.
func loadSkips(st map[string]any) map[string]int64 {
	skips := make(map[string]int64, len(skipKeys))
	nested, _ := st["skipped"].(map[string]any)
	for _, key := range skipKeys {
		skips[key] = store.Int(nested, key)
	}
	return skips
}

// skipsDelta renders the skip counters for a state merge.
func skipsDelta(skips map[string]int64) map[string]any {
	out := make(map[string]any, len(skips))
	for k, v := range skips {
		out[k] = v
	}
	return out
}

// pmLoadState loads the persisted parse geometry and indexes.
func (r *Runner) pmLoadState(ctx context.Context, runID string) (*materialMeta, map[string]int32, map[string]feed.PriceEntry, pipeline.Outcome, bool) {
	metaRaw, err := r.objects.Get(ctx, stateKey(runID, "material_meta.json"))
	if err != nil {
		return nil, nil, nil, pipeline.FromError("material_meta_read_failed", err), false
	}
	var meta materialMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, nil, nil, pipeline.Fatal("material_meta_corrupt", err.Error()), false
	}

	stockRaw, err := r.objects.Get(ctx, stateKey(runID, "stock_index.json"))
	if err != nil {
		return nil, nil, nil, pipeline.FromError("stock_index_read_failed", err), false
	}
	stockIdx, err := feed.UnmarshalStockIndex(stockRaw)
	if err != nil {
		return nil, nil, nil, pipeline.Fatal("stock_index_corrupt", err.Error()), false
	}

	priceRaw, err := r.objects.Get(ctx, stateKey(runID, "price_index.json"))
	if err != nil {
		return nil, nil, nil, pipeline.FromError("price_index_read_failed", err), false
	}
	priceIdx, err := feed.UnmarshalPriceIndex(priceRaw)
	if err != nil {
		return nil, nil, nil, pipeline.Fatal("price_index_corrupt", err.Error()), false
	}

	return &meta, stockIdx, priceIdx, pipeline.Outcome{}, true
}

// mergeMaterialLines joins complete material lines with the stock and
// price indexes, producing unified table rows. A line survives only
// when it has stock, a price entry, sellable quantity, and at least one
// positive price component; everything else lands in a skip counter.
func mergeMaterialLines(text string, meta *materialMeta, stockIdx map[string]int32, priceIdx map[string]feed.PriceEntry, counters, skips map[string]int64) []string {
	cols := meta.Columns
	maxCol := 0
	for _, c := range cols {
		if c > maxCol {
			maxCol = c
		}
	}

	var rows []string
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, meta.Delimiter)
		if len(fields) <= maxCol {
			counters["skipped_malformed"]++
			continue
		}
		matnr := strings.TrimSpace(fields[cols["Matnr"]])
		if matnr == "" {
			counters["skipped_no_matnr"]++
			continue
		}

		qty := stockIdx[matnr]
		pe, hasPrice := priceIdx[matnr]
		switch {
		case qty <= 0:
			skips["no_stock"]++
			continue
		case !hasPrice:
			skips["no_price"]++
			continue
		case qty < 2:
			skips["low_stock"]++
			continue
		case pe.ListPrice <= 0 && pe.CustBestPrice <= 0:
			skips["no_valid"]++
			continue
		}

		p := export.Product{
			Matnr: matnr,
			MPN:   strings.TrimSpace(fields[cols["ManufPartNr"]]),
			EAN:   strings.TrimSpace(fields[cols["EAN"]]),
			Desc:  strings.TrimSpace(fields[cols["Description"]]),
			Stock: int(qty),
			LP:    pe.ListPrice,
			CBP:   pe.CustBestPrice,
			Sur:   pe.Surcharge,
		}
		counters["rows_merged"]++
		rows = append(rows, export.FormatRow(p, false))
	}
	return rows
}

// totalFromContentRange extracts the total size from a
// "bytes start-end/total" header. Returns -1 when unavailable.
func totalFromContentRange(header string) int64 {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[idx+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return total
}
