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
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/catsync/internal/export"
	"github.com/tombee/catsync/internal/pipeline"
	"github.com/tombee/catsync/internal/store"
)

// pricedFixture seeds a priced table: two exportable products, one
// without an EAN, one below the stock minimum.
func pricedFixture(t *testing.T, e *env) {
	t.Helper()
	e.putProducts(t, "products_priced.tsv", []export.Product{
		{Matnr: "M1", MPN: "MPN-1", EAN: "4006381333931", Desc: "Widget rosso", Stock: 10, LP: 100, CBP: 80, Sur: 2.5, PriceFinalCents: 11999, ListWithFeeCents: 12000},
		{Matnr: "M2", MPN: "MPN-2", EAN: "", Desc: "Widget blu", Stock: 5, LP: 50, PriceFinalCents: 7599, ListWithFeeCents: 7600},
		{Matnr: "M3", MPN: "MPN-3", EAN: "8001234567890", Desc: "Widget verde", Stock: 1, LP: 20, CBP: 15, PriceFinalCents: 2899, ListWithFeeCents: 2900},
		{Matnr: "M4", MPN: "MPN-4", EAN: "5901234123457", Desc: "Widget giallo", Stock: 5, LP: 50, PriceFinalCents: 7599, ListWithFeeCents: 7600},
	}, true)
}

func stepsAmazonTemplate(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", export.ListingSheet)
	f.SetCellStr(export.ListingSheet, "A1", "Amazon Listing Loader")
	f.SetCellStr(export.ListingSheet, "A3", "sku")
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("template build failed: %v", err)
	}
	return buf.Bytes()
}

func TestExportEAN_CSVAndWorkbook(t *testing.T) {
	e := newEnv(t)
	pricedFixture(t, e)

	outcome := e.drive(t, store.StepExportEAN)
	if outcome.Kind != pipeline.OutcomeCompleted {
		t.Fatalf("expected completion, got %+v", outcome)
	}
	csv, err := e.objects.Get(e.ctx, outputKey(e.run.ID, "Catalogo EAN.csv"))
	if err != nil {
		t.Fatalf("csv read failed: %v", err)
	}
	// The catalog keeps priced products regardless of stock; only the
	// EAN-less one drops out.
	for _, want := range []string{"4006381333931", "8001234567890", "5901234123457"} {
		if !strings.Contains(string(csv), want) {
			t.Errorf("csv missing %s", want)
		}
	}
	if strings.Contains(string(csv), "Widget blu") {
		t.Error("EAN-less product leaked into the catalog")
	}

	outcome = e.drive(t, store.StepExportEANXLSX)
	if outcome.Kind != pipeline.OutcomeCompleted {
		t.Fatalf("expected completion, got %+v", outcome)
	}
	if ok, _ := e.objects.Exists(e.ctx, outputKey(e.run.ID, "Catalogo EAN.xlsx")); !ok {
		t.Error("workbook missing")
	}

	st := e.stepState(t, store.StepExportEAN)
	if passed, _ := st["validation_passed"].(bool); !passed {
		t.Error("validation_passed not recorded")
	}
	if got := store.Int(st, "validation_warnings"); got != 0 {
		t.Errorf("validation_warnings = %d, want 0", got)
	}
}

func TestExportAmazon(t *testing.T) {
	e := newEnv(t)
	pricedFixture(t, e)
	e.put(t, AmazonTemplateKey, string(stepsAmazonTemplate(t)))
	// A manual price override must survive the per-marketplace ladder
	// recomputation.
	e.put(t, stateKey(e.run.ID, "price_overrides.json"), `{"M4": 12399}`)

	outcome := e.drive(t, store.StepExportAmazon)
	if outcome.Kind != pipeline.OutcomeCompleted {
		t.Fatalf("expected completion, got %+v", outcome)
	}

	txt, err := e.objects.Get(e.ctx, outputKey(e.run.ID, "amazon_price_inventory.txt"))
	if err != nil {
		t.Fatalf("inventory read failed: %v", err)
	}
	rows, err := export.DecodeInventoryRows(txt)
	if err != nil {
		t.Fatalf("inventory decode failed: %v", err)
	}
	// M2 has no EAN, M3 is below the stock minimum.
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	bySKU := map[string]export.Row{}
	for _, row := range rows {
		bySKU[row.SKU] = row
	}
	if bySKU["M4"].PriceCents != 12399 {
		t.Errorf("override lost: M4 price %d, want 12399", bySKU["M4"].PriceCents)
	}
	if bySKU["M1"].PriceCents%100 != 99 {
		t.Errorf("M1 price %d does not end in ,99", bySKU["M1"].PriceCents)
	}

	if ok, _ := e.objects.Exists(e.ctx, outputKey(e.run.ID, "amazon_listing_loader.xlsm")); !ok {
		t.Error("listing workbook missing")
	}
}

func TestExportAmazon_MissingTemplate(t *testing.T) {
	e := newEnv(t)
	pricedFixture(t, e)

	outcome := e.drive(t, store.StepExportAmazon)
	if outcome.Kind != pipeline.OutcomeFatal || outcome.Code != "template_missing" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestExportMediaWorldAndEPrice(t *testing.T) {
	e := newEnv(t)
	e.cfg.Sync.IncludeEU = true
	pricedFixture(t, e)

	outcome := e.drive(t, store.StepExportMW)
	if outcome.Kind != pipeline.OutcomeCompleted {
		t.Fatalf("mediaworld: expected completion, got %+v", outcome)
	}
	if ok, _ := e.objects.Exists(e.ctx, outputKey(e.run.ID, "Export Mediaworld.xlsx")); !ok {
		t.Error("mediaworld workbook missing")
	}

	outcome = e.drive(t, store.StepExportEPrice)
	if outcome.Kind != pipeline.OutcomeCompleted {
		t.Fatalf("eprice: expected completion, got %+v", outcome)
	}
	if ok, _ := e.objects.Exists(e.ctx, outputKey(e.run.ID, "Export ePrice.xlsx")); !ok {
		t.Error("eprice workbook missing")
	}
}

func TestExport_MissingPricedTable(t *testing.T) {
	e := newEnv(t)

	outcome := e.drive(t, store.StepExportEAN)
	if outcome.Kind != pipeline.OutcomeFatal {
		t.Fatalf("expected fatal outcome, got %+v", outcome)
	}
}

func TestExport_UnpricedTableRejected(t *testing.T) {
	e := newEnv(t)
	e.putProducts(t, "products_priced.tsv", []export.Product{{Matnr: "M1"}}, false)

	outcome := e.drive(t, store.StepExportEPrice)
	if outcome.Kind != pipeline.OutcomeFatal || outcome.Code != "priced_table_invalid" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}
