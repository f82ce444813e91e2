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

	"github.com/tombee/catsync/internal/export"
	"github.com/tombee/catsync/internal/metrics"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/stock"
	"github.com/tombee/catsync/internal/store"
)

// exportInputs is everything the export steps derive their rows from.
type exportInputs struct {
	products  []export.Product
	splits    map[string]stock.Split
	overrides map[string]int64
}

// loadExportInputs reads the priced table, the optional IT/EU splits,
// and the surviving manual price overrides.
func (r *Runner) loadExportInputs(ctx context.Context, runID string) (*exportInputs, pipeline.Outcome, bool) {
	products, priced, err := r.loadProducts(ctx, runID, "products_priced.tsv")
	if err != nil {
		return nil, pipeline.FromError("priced_read_failed", err), false
	}
	if !priced {
		return nil, pipeline.Fatal("priced_table_invalid", "table is missing the pricing columns"), false
	}

	in := &exportInputs{products: products}

	raw, err := r.objects.Get(ctx, stateKey(runID, "locations.json"))
	if err == nil {
		if err := json.Unmarshal(raw, &in.splits); err != nil {
			return nil, pipeline.Fatal("locations_corrupt", err.Error()), false
		}
	} else if !isNotFound(err) {
		return nil, pipeline.FromError("locations_read_failed", err), false
	}

	in.overrides, err = r.loadPriceOverrides(ctx, runID)
	if err != nil {
		return nil, pipeline.FromError("overrides_read_failed", err), false
	}
	return in, pipeline.Outcome{}, true
}

// marketRows builds the filtered listing rows for one marketplace and
// re-applies the manual price overrides the per-marketplace ladder
// recomputation would otherwise discard.
func (r *Runner) marketRows(in *exportInputs, marketplace string, includeEU bool) []export.Row {
	rows := export.BuildRows(in.products, in.splits, export.MarketplaceParams{
		Ladder:    r.ladder(marketplace),
		IncludeEU: includeEU,
		ITDays:    r.cfg.Sync.LeadDaysIT,
		EUDays:    r.cfg.Sync.LeadDaysEU,
	})
	for i := range rows {
		if cents, ok := in.overrides[rows[i].SKU]; ok {
			rows[i].PriceCents = cents
		}
	}
	return rows
}

// exportDelta is the step state every export records for the upload
// preflight gate.
func exportDelta(rows int, extra map[string]any) map[string]any {
	delta := map[string]any{
		"rows":                rows,
		"validation_passed":   true,
		"validation_warnings": 0,
	}
	for k, v := range extra {
		delta[k] = v
	}
	return delta
}

// eanCatalog returns the deduplicated catalog rows: priced products
// only, one row per normalized EAN.
func eanCatalog(products []export.Product) ([]export.Product, []string) {
	priced := make([]export.Product, 0, len(products))
	for _, p := range products {
		if p.PriceFinalCents > 0 {
			priced = append(priced, p)
		}
	}
	return export.DedupeByEAN(priced)
}

// runExportEAN writes the EAN catalog CSV. The CSV is a working
// intermediate for operators, never shipped to the marketplace
// endpoint.
func (r *Runner) runExportEAN(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	in, outcome, ok := r.loadExportInputs(ctx, run.ID)
	if !ok {
		return outcome
	}

	catalog, dropped := eanCatalog(in.products)
	data, err := export.EncodeEANCSV(catalog)
	if err != nil {
		return pipeline.Fatal("ean_csv_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, outputKey(run.ID, "Catalogo EAN.csv"), data); err != nil {
		return pipeline.FromError("ean_csv_write_failed", err)
	}

	logger.Info("ean catalog written",
		slog.Int("rows", len(catalog)),
		slog.Int("dropped", len(dropped)))
	metrics.RecordExportRows("ean", len(catalog))
	return pipeline.Completed(exportDelta(len(catalog), map[string]any{"dropped": len(dropped)}))
}

// runExportEANXLSX writes the published EAN catalog workbook.
func (r *Runner) runExportEANXLSX(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	in, outcome, ok := r.loadExportInputs(ctx, run.ID)
	if !ok {
		return outcome
	}

	catalog, _ := eanCatalog(in.products)
	data, err := export.EncodeEANXLSX(catalog)
	if err != nil {
		return pipeline.Fatal("ean_xlsx_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, outputKey(run.ID, "Catalogo EAN.xlsx"), data); err != nil {
		return pipeline.FromError("ean_xlsx_write_failed", err)
	}

	logger.Info("ean workbook written", slog.Int("rows", len(catalog)))
	return pipeline.Completed(exportDelta(len(catalog), nil))
}

// runExportAmazon renders the listing loader workbook from the macro
// template plus the flat price/inventory file, then cross-checks the
// two artifacts row by row before accepting them.
func (r *Runner) runExportAmazon(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	in, outcome, ok := r.loadExportInputs(ctx, run.ID)
	if !ok {
		return outcome
	}

	template, err := r.objects.Get(ctx, AmazonTemplateKey)
	if err != nil {
		if isNotFound(err) {
			return pipeline.Fatal("template_missing", "amazon listing loader template not found")
		}
		return pipeline.FromError("template_read_failed", err)
	}

	// Amazon listings always carry the EU fallback stock.
	rows := r.marketRows(in, "amazon", true)

	xlsm, err := export.EncodeListingLoader(template, rows)
	if err != nil {
		return pipeline.Fatal("listing_render_failed", err.Error())
	}
	txt := export.EncodePriceInventory(rows)

	if err := export.VerifyAmazonCoherence(xlsm, txt); err != nil {
		return pipeline.Fatal("artifact_mismatch", err.Error())
	}

	if err := r.objects.Put(ctx, outputKey(run.ID, "amazon_listing_loader.xlsm"), xlsm); err != nil {
		return pipeline.FromError("listing_write_failed", err)
	}
	if err := r.objects.Put(ctx, outputKey(run.ID, "amazon_price_inventory.txt"), txt); err != nil {
		return pipeline.FromError("inventory_write_failed", err)
	}

	logger.Info("amazon artifacts written", slog.Int("rows", len(rows)))
	metrics.RecordExportRows("amazon", len(rows))
	r.mergeMetrics(ctx, run.ID, map[string]any{"amazon_rows": len(rows)})
	return pipeline.Completed(exportDelta(len(rows), nil))
}

// runExportMediaWorld writes the fixed-width Offers grid workbook.
func (r *Runner) runExportMediaWorld(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	in, outcome, ok := r.loadExportInputs(ctx, run.ID)
	if !ok {
		return outcome
	}

	rows := r.marketRows(in, "mediaworld", r.cfg.Sync.IncludeEU)
	grid := export.BuildMediaWorldGrid(rows)
	if err := export.ValidateMediaWorldGrid(grid); err != nil {
		return pipeline.Fatal("grid_invalid", err.Error())
	}
	data, err := export.EncodeMediaWorldXLSX(grid)
	if err != nil {
		return pipeline.Fatal("mediaworld_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, outputKey(run.ID, "Export Mediaworld.xlsx"), data); err != nil {
		return pipeline.FromError("mediaworld_write_failed", err)
	}

	logger.Info("mediaworld export written", slog.Int("rows", len(rows)))
	metrics.RecordExportRows("mediaworld", len(rows))
	return pipeline.Completed(exportDelta(len(rows), nil))
}

// runExportEPrice writes the ePrice offers workbook.
func (r *Runner) runExportEPrice(ctx context.Context, run *store.Run, logger *slog.Logger) pipeline.Outcome {
	in, outcome, ok := r.loadExportInputs(ctx, run.ID)
	if !ok {
		return outcome
	}

	rows := r.marketRows(in, "eprice", r.cfg.Sync.IncludeEU)
	data, err := export.EncodeEPriceXLSX(rows)
	if err != nil {
		return pipeline.Fatal("eprice_encode_failed", err.Error())
	}
	if err := r.objects.Put(ctx, outputKey(run.ID, "Export ePrice.xlsx"), data); err != nil {
		return pipeline.FromError("eprice_write_failed", err)
	}

	logger.Info("eprice export written", slog.Int("rows", len(rows)))
	metrics.RecordExportRows("eprice", len(rows))
	return pipeline.Completed(exportDelta(len(rows), nil))
}
