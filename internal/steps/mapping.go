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
	"regexp"
	"strings"

	"github.com/tombee/catsync/internal/ean"
	"github.com/tombee/catsync/internal/feed"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// scientificMPN matches part numbers a spreadsheet round trip likely
// mangled into scientific notation (e.g. "1.23457E+11"). They still
// participate in the mapping; the counter feeds a warning event.
var scientificMPN = regexp.MustCompile(`^[+-]?\d+(?:[.,]\d+)?[eE][+-]?\d+$`)

// runEANMapping fills empty EANs from the optional MPN-to-EAN mapping
// feed. Material-provided EANs always win; an MPN mapped to several
// distinct EANs is refused rather than guessed.
func (r *Runner) runEANMapping(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	raw, err := r.objects.Get(ctx, MappingKey)
	if err != nil {
		if isNotFound(err) {
			logger.Info("mapping feed absent, skipping")
			return pipeline.Completed(map[string]any{"mapping_present": false})
		}
		return pipeline.FromError("mapping_read_failed", err)
	}

	products, _, err := r.loadProducts(ctx, run.ID, "products.tsv")
	if err != nil {
		return pipeline.FromError("products_read_failed", err)
	}

	counters := map[string]int64{}
	mapping := parseMapping(string(raw), counters)

	for i := range products {
		p := &products[i]
		if p.MPN == "" {
			continue
		}
		candidates := mapping[strings.ToUpper(p.MPN)]
		if len(candidates) == 0 {
			continue
		}
		if p.EAN != "" {
			// The material feed is authoritative; the mapping only
			// fills gaps.
			if normalized, ok, _ := ean.Normalize(p.EAN); ok && len(candidates) == 1 && candidates[0] != normalized {
				counters["mapping_conflict_material_wins"]++
			}
			continue
		}
		if len(candidates) > 1 {
			counters["ambiguous_mpn"]++
			continue
		}
		p.EAN = candidates[0]
		counters["eans_filled"]++
	}

	if counters["corrupted_mpn_scientific"] > 0 {
		r.event(ctx, run.ID, store.LevelWarn, "corrupted_mpn_scientific", map[string]any{
			"count": counters["corrupted_mpn_scientific"],
		})
	}
	if counters["ambiguous_mpn"] > 0 {
		r.event(ctx, run.ID, store.LevelWarn, "ambiguous_mpn_mapping", map[string]any{
			"count": counters["ambiguous_mpn"],
		})
	}

	if err := r.saveProducts(ctx, run.ID, "products.tsv", products, false); err != nil {
		return pipeline.FromError("products_write_failed", err)
	}

	logger.Info("ean mapping applied",
		slog.Int64("filled", counters["eans_filled"]),
		slog.Int64("ambiguous", counters["ambiguous_mpn"]))
	r.mergeMetrics(ctx, run.ID, map[string]any{"eans_filled": counters["eans_filled"]})

	delta := map[string]any{"mapping_present": true}
	for k, v := range counters {
		delta[k] = v
	}
	return pipeline.Completed(delta)
}

// parseMapping reads the MPN-to-EAN feed into a map of distinct
// normalized EANs per upper-cased MPN.
func parseMapping(text string, counters map[string]int64) map[string][]string {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil
	}

	delim := feed.DetectDelimiter(lines[0])
	start := 0
	// Skip a header line when the first row carries no digits worth of
	// EAN in the second column.
	if fields := strings.Split(lines[0], string(delim)); len(fields) >= 2 {
		if _, ok, _ := ean.Normalize(fields[1]); !ok {
			start = 1
		}
	}

	seen := map[string]map[string]bool{}
	for _, line := range lines[start:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		if len(fields) < 2 {
			counters["mapping_malformed"]++
			continue
		}
		mpn := strings.TrimSpace(fields[0])
		if mpn == "" {
			counters["mapping_malformed"]++
			continue
		}
		if scientificMPN.MatchString(mpn) {
			counters["corrupted_mpn_scientific"]++
		} else if strings.Contains(strings.ToUpper(mpn), "E+") {
			// Plenty of legitimate part numbers contain "E+"; worth a
			// counter, not a rejection.
			counters["mpn_contains_eplus"]++
		}
		normalized, ok, _ := ean.Normalize(fields[1])
		if !ok {
			counters["mapping_invalid_ean"]++
			continue
		}
		key := strings.ToUpper(mpn)
		if seen[key] == nil {
			seen[key] = map[string]bool{}
		}
		seen[key][normalized] = true
	}

	mapping := make(map[string][]string, len(seen))
	for mpn, eans := range seen {
		list := make([]string, 0, len(eans))
		for e := range eans {
			list = append(list, e)
		}
		mapping[mpn] = list
	}
	return mapping
}
