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
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/tombee/catsync/internal/feed"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/internal/store"
)

// runPricing computes the canonical priced table with the default
// marketplace fee. Per-marketplace prices are recomputed by the export
// steps from the preserved base columns.
func (r *Runner) runPricing(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	products, _, err := r.loadProducts(ctx, run.ID, "products.tsv")
	if err != nil {
		return pipeline.FromError("products_read_failed", err)
	}

	ladder := r.ladder("default")
	var priced, unpriced int64
	for i := range products {
		p := &products[i]
		if p.LP <= 0 && p.CBP <= 0 {
			unpriced++
			continue
		}
		res := ladder.Compute(p.LP, p.CBP, p.Sur)
		p.PriceFinalCents = res.FinalCents
		p.ListWithFeeCents = res.ListCents
		priced++
	}

	if err := r.saveProducts(ctx, run.ID, "products_priced.tsv", products, true); err != nil {
		return pipeline.FromError("priced_write_failed", err)
	}

	if unpriced > 0 {
		r.event(ctx, run.ID, store.LevelWarn, "unpriced_products", map[string]any{"count": unpriced})
	}
	logger.Info("pricing applied",
		slog.Int64("priced", priced),
		slog.Int64("unpriced", unpriced))
	r.mergeMetrics(ctx, run.ID, map[string]any{"priced_count": priced, "unpriced_products": unpriced})
	return pipeline.Completed(map[string]any{"priced_count": priced, "unpriced_products": unpriced})
}

// overrideRecord is one row of the manual overrides feed.
type overrideRecord struct {
	priceCents int64
	exclude    bool
}

// runOverrides applies the optional manual overrides feed: excluded
// materials leave the priced table, explicit prices replace the ladder
// result. The surviving price overrides are persisted for the export
// steps, whose per-marketplace recomputation would otherwise undo them.
func (r *Runner) runOverrides(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	raw, err := r.objects.Get(ctx, OverridesKey)
	if err != nil {
		if isNotFound(err) {
			logger.Info("overrides feed absent, skipping")
			return pipeline.Completed(map[string]any{"overrides_present": false})
		}
		return pipeline.FromError("overrides_read_failed", err)
	}

	records, malformed := parseOverrides(string(raw))

	products, _, err := r.loadProducts(ctx, run.ID, "products_priced.tsv")
	if err != nil {
		return pipeline.FromError("priced_read_failed", err)
	}

	kept := products[:0]
	priceOverrides := map[string]int64{}
	var excluded, repriced int64
	for _, p := range products {
		rec, ok := records[p.Matnr]
		if !ok {
			kept = append(kept, p)
			continue
		}
		if rec.exclude {
			excluded++
			continue
		}
		if rec.priceCents > 0 {
			p.PriceFinalCents = rec.priceCents
			priceOverrides[p.Matnr] = rec.priceCents
			repriced++
		}
		kept = append(kept, p)
	}

	if err := r.saveProducts(ctx, run.ID, "products_priced.tsv", kept, true); err != nil {
		return pipeline.FromError("priced_write_failed", err)
	}
	payload, err := json.Marshal(priceOverrides)
	if err != nil {
		return pipeline.Fatal("overrides_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, stateKey(run.ID, "price_overrides.json"), payload); err != nil {
		return pipeline.FromError("overrides_write_failed", err)
	}

	if malformed > 0 {
		r.event(ctx, run.ID, store.LevelWarn, "overrides_malformed", map[string]any{"count": malformed})
	}
	logger.Info("overrides applied",
		slog.Int64("excluded", excluded),
		slog.Int64("repriced", repriced))
	r.mergeMetrics(ctx, run.ID, map[string]any{
		"overrides_excluded": excluded,
		"overrides_repriced": repriced,
	})
	return pipeline.Completed(map[string]any{
		"overrides_present":  true,
		"overrides_excluded": excluded,
		"overrides_repriced": repriced,
		"overrides_invalid":  malformed,
	})
}

// parseOverrides reads the overrides feed: Matnr, optional price in
// IT-locale euros, optional exclusion flag.
func parseOverrides(text string) (map[string]overrideRecord, int64) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil, 0
	}
	delim := feed.DetectDelimiter(lines[0])

	start := 0
	if strings.EqualFold(strings.TrimSpace(strings.Split(lines[0], string(delim))[0]), "matnr") {
		start = 1
	}

	records := map[string]overrideRecord{}
	var malformed int64
	for _, line := range lines[start:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		matnr := strings.TrimSpace(fields[0])
		if matnr == "" {
			malformed++
			continue
		}

		var rec overrideRecord
		if len(fields) > 1 {
			if raw := strings.TrimSpace(fields[1]); raw != "" {
				euros := pricing.ParseEuro(raw)
				if math.IsNaN(euros) || euros <= 0 {
					malformed++
					continue
				}
				rec.priceCents = pricing.ToCents(euros)
			}
		}
		if len(fields) > 2 {
			switch strings.ToLower(strings.TrimSpace(fields[2])) {
			case "1", "true", "x", "yes":
				rec.exclude = true
			}
		}
		if rec.priceCents == 0 && !rec.exclude {
			malformed++
			continue
		}
		records[matnr] = rec
	}
	return records, malformed
}

// loadPriceOverrides returns the surviving manual price overrides for a
// run, empty when the overrides step had nothing to do.
func (r *Runner) loadPriceOverrides(ctx context.Context, runID string) (map[string]int64, error) {
	raw, err := r.objects.Get(ctx, stateKey(runID, "price_overrides.json"))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	overrides := map[string]int64{}
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
