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
	"github.com/tombee/catsync/internal/ean"
	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/internal/stock"
)

// Row is one marketplace listing row after filtering, stock resolution,
// and the per-marketplace fee ladder.
type Row struct {
	SKU          string
	EAN          string
	Desc         string
	Qty          int
	PriceCents   int64
	ListCents    int64
	HandlingDays int
	Source       stock.Source
}

// MarketplaceParams are the per-marketplace knobs of the shared filter.
type MarketplaceParams struct {
	Ladder    pricing.Ladder
	IncludeEU bool
	ITDays    int
	EUDays    int
}

// BuildRows applies the deterministic marketplace filter: valid
// normalized EAN, non-empty SKU, resolved stock above the export
// minimum, and a strictly positive ,99 price.
func BuildRows(products []Product, splits map[string]stock.Split, params MarketplaceParams) []Row {
	var rows []Row
	for _, p := range products {
		if p.Matnr == "" {
			continue
		}
		normalized, ok, _ := ean.Normalize(p.EAN)
		if !ok || !ean.ValidForExport(normalized) {
			continue
		}

		stockIT, stockEU := p.Stock, 0
		if s, found := splits[p.Matnr]; found {
			stockIT, stockEU = s.IT, s.EU
		}
		res := stock.Resolve(stockIT, stockEU, params.IncludeEU, params.ITDays, params.EUDays)
		if !res.ShouldExport || res.Qty < stock.MinExportQty {
			continue
		}

		price := params.Ladder.Compute(p.LP, p.CBP, p.Sur)
		if price.FinalCents <= 0 || price.FinalCents%100 != 99 {
			continue
		}

		rows = append(rows, Row{
			SKU:          p.Matnr,
			EAN:          normalized,
			Desc:         p.Desc,
			Qty:          res.Qty,
			PriceCents:   price.FinalCents,
			ListCents:    price.ListCents,
			HandlingDays: res.LeadDays,
			Source:       res.Source,
		})
	}
	return rows
}
