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

// Package feed implements parsing of the supplier's tabular feeds:
// delimiter detection, header alias resolution, and the stock and price
// index builders.
package feed

import (
	"strings"

	"github.com/tombee/catsync/pkg/errors"
)

// candidateDelimiters in priority order for ties.
var candidateDelimiters = []rune{'\t', ';', ',', '|'}

// DetectDelimiter picks the delimiter with the maximum occurrence count
// on the header line. Tab wins ties.
func DetectDelimiter(header string) rune {
	best := '\t'
	bestCount := -1
	for _, d := range candidateDelimiters {
		if c := strings.Count(header, string(d)); c > bestCount {
			best = d
			bestCount = c
		}
	}
	return best
}

// Alias tables map canonical field names to the header spellings seen
// across supplier feed revisions. Matching is case-insensitive.
var (
	MaterialAliases = map[string][]string{
		"Matnr":       {"matnr", "mat_nr", "materialnr", "material", "sku", "artnr"},
		"ManufPartNr": {"manufpartnr", "mpn", "manuf_part_nr", "herstellernr", "partnumber"},
		"EAN":         {"ean", "ean13", "gtin", "barcode"},
		"Description": {"description", "desc", "bezeichnung", "shorttext", "name"},
	}

	StockAliases = map[string][]string{
		"Matnr": {"matnr", "mat_nr", "materialnr", "sku", "artnr"},
		"Stock": {"stock", "qty", "quantity", "bestand", "menge", "availqty"},
	}

	PriceAliases = map[string][]string{
		"Matnr":         {"matnr", "mat_nr", "materialnr", "sku", "artnr"},
		"ListPrice":     {"listprice", "price", "list_price", "lp", "listenpreis"},
		"CustBestPrice": {"custbestprice", "cbp", "cust_best_price", "bestprice", "kundenpreis"},
		"Surcharge":     {"surcharge", "sur", "zuschlag", "fee"},
	}

	LocationAliases = map[string][]string{
		"Matnr":      {"matnr", "mat_nr", "materialnr", "sku", "artnr"},
		"LocationID": {"locationid", "location_id", "location", "lgort", "warehouse"},
		"Stock":      {"stock", "qty", "quantity", "bestand", "menge"},
	}
)

// ResolveColumns maps every canonical field in the alias table to its
// column index in the header. Every field must resolve.
func ResolveColumns(header []string, aliases map[string][]string) (map[string]int, error) {
	lowered := make([]string, len(header))
	for i, h := range header {
		lowered[i] = strings.ToLower(strings.TrimSpace(h))
	}

	cols := make(map[string]int, len(aliases))
	for field, names := range aliases {
		idx := -1
	scan:
		for _, name := range names {
			for i, h := range lowered {
				if h == name {
					idx = i
					break scan
				}
			}
		}
		if idx < 0 {
			return nil, &errors.ValidationError{
				Field:      field,
				Message:    "column not found in header",
				Suggestion: "accepted aliases: " + strings.Join(names, ", "),
			}
		}
		cols[field] = idx
	}
	return cols, nil
}
