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

package export

import (
	"testing"

	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/internal/stock"
)

func testLadder() pricing.Ladder {
	return pricing.Ladder{ShippingEuros: 5, VATPercent: 22, FeeDrev: 1.04, FeeMkt: 1.08}
}

func TestBuildRows_Filter(t *testing.T) {
	products := []Product{
		{Matnr: "OK-1", EAN: "4006381333931", Desc: "ok", Stock: 5, LP: 100},
		{Matnr: "BAD-EAN", EAN: "12345", Stock: 5, LP: 100},
		{Matnr: "", EAN: "4006381333931", Stock: 5, LP: 100},
		{Matnr: "LOW-STOCK", EAN: "4006381333931", Stock: 1, LP: 100},
		{Matnr: "SHORT-12", EAN: "400638133393", Stock: 3, LP: 50},
	}

	rows := BuildRows(products, nil, MarketplaceParams{Ladder: testLadder(), ITDays: 2, EUDays: 5})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].SKU != "OK-1" || rows[1].SKU != "SHORT-12" {
		t.Errorf("unexpected row set: %+v", rows)
	}
	// 12-digit EAN is zero-prefixed to 13.
	if rows[1].EAN != "0400638133393" {
		t.Errorf("expected normalized EAN, got %s", rows[1].EAN)
	}
	for _, row := range rows {
		if row.PriceCents%100 != 99 {
			t.Errorf("price %d does not end ,99", row.PriceCents)
		}
		if row.HandlingDays != 2 {
			t.Errorf("expected IT lead days, got %d", row.HandlingDays)
		}
	}
}

func TestBuildRows_EUFallback(t *testing.T) {
	products := []Product{
		{Matnr: "SPLIT-1", EAN: "4006381333931", Stock: 99, LP: 80},
	}
	splits := map[string]stock.Split{
		"SPLIT-1": {IT: 1, EU: 4},
	}

	rows := BuildRows(products, splits, MarketplaceParams{
		Ladder: testLadder(), IncludeEU: true, ITDays: 2, EUDays: 5,
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Qty != 5 {
		t.Errorf("expected folded qty 5, got %d", rows[0].Qty)
	}
	if rows[0].Source != stock.SourceEUFallback {
		t.Errorf("expected EU_FALLBACK, got %s", rows[0].Source)
	}
	if rows[0].HandlingDays != 5 {
		t.Errorf("expected EU lead days, got %d", rows[0].HandlingDays)
	}

	// Without the EU flag the same product stays home and is excluded.
	rows = BuildRows(products, splits, MarketplaceParams{Ladder: testLadder(), ITDays: 2, EUDays: 5})
	if len(rows) != 0 {
		t.Errorf("expected exclusion without include_eu, got %+v", rows)
	}
}

func TestDedupeByEAN(t *testing.T) {
	products := []Product{
		{Matnr: "A", EAN: "400638133393", PriceFinalCents: 1099},  // 12-digit, normalizes to 0400638133393
		{Matnr: "B", EAN: "0400638133393", PriceFinalCents: 1299}, // same code, higher price
		{Matnr: "C", EAN: "4006381333931", PriceFinalCents: 999},
		{Matnr: "D", EAN: "notdigits", PriceFinalCents: 500},
	}

	out, dropped := DedupeByEAN(products)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(out), out)
	}
	// Ordered by EAN; duplicate resolved to the higher price.
	if out[0].EAN != "0400638133393" || out[0].Matnr != "B" {
		t.Errorf("unexpected winner: %+v", out[0])
	}
	if out[1].EAN != "4006381333931" {
		t.Errorf("unexpected second row: %+v", out[1])
	}
	if len(dropped) != 1 {
		t.Errorf("expected 1 dropped, got %v", dropped)
	}
}
