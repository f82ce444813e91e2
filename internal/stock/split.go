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

// Package stock implements the IT/EU stock-location split used by the
// marketplace export builders.
package stock

// MinExportQty is the minimum quantity a marketplace row must carry.
const MinExportQty = 2

// Source identifies where the exported quantity comes from.
type Source string

const (
	// SourceIT means the quantity is Italian warehouse stock only.
	SourceIT Source = "IT"
	// SourceEUFallback means EU stock was folded in because IT stock
	// alone was below the export minimum.
	SourceEUFallback Source = "EU_FALLBACK"
)

// Resolution is the outcome of resolving stock for one marketplace row.
type Resolution struct {
	Qty          int
	Source       Source
	ShouldExport bool
	LeadDays     int
}

// Resolve decides the exported quantity, provenance, and handling time
// for one product on one marketplace. It is a pure total function.
func Resolve(stockIT, stockEU int, includeEU bool, daysIT, daysEU int) Resolution {
	if !includeEU || stockIT >= MinExportQty {
		r := Resolution{
			Qty:          stockIT,
			Source:       SourceIT,
			ShouldExport: stockIT >= MinExportQty,
		}
		if r.ShouldExport {
			r.LeadDays = daysIT
		}
		return r
	}

	qty := stockIT + stockEU
	r := Resolution{
		Qty:          qty,
		Source:       SourceEUFallback,
		ShouldExport: qty >= MinExportQty,
	}
	if r.ShouldExport {
		r.LeadDays = daysEU
	}
	return r
}
