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

package stock

import "testing"

// Golden cases for the marketplace stock resolution.
func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		stockIT   int
		stockEU   int
		includeEU bool
		daysIT    int
		daysEU    int
		want      Resolution
	}{
		{
			name:    "IT only, enough stock",
			stockIT: 5, stockEU: 10, includeEU: false, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 5, Source: SourceIT, ShouldExport: true, LeadDays: 2},
		},
		{
			name:    "IT only, low stock",
			stockIT: 1, stockEU: 10, includeEU: false, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 1, Source: SourceIT, ShouldExport: false, LeadDays: 0},
		},
		{
			name:    "EU allowed, IT sufficient",
			stockIT: 3, stockEU: 10, includeEU: true, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 3, Source: SourceIT, ShouldExport: true, LeadDays: 2},
		},
		{
			name:    "EU fallback with export",
			stockIT: 1, stockEU: 4, includeEU: true, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 5, Source: SourceEUFallback, ShouldExport: true, LeadDays: 5},
		},
		{
			name:    "EU fallback still too low",
			stockIT: 0, stockEU: 1, includeEU: true, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 1, Source: SourceEUFallback, ShouldExport: false, LeadDays: 0},
		},
		{
			name:    "zero everywhere",
			stockIT: 0, stockEU: 0, includeEU: true, daysIT: 2, daysEU: 5,
			want: Resolution{Qty: 0, Source: SourceEUFallback, ShouldExport: false, LeadDays: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.stockIT, tt.stockEU, tt.includeEU, tt.daysIT, tt.daysEU)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
