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

package feed

import (
	"strings"
	"testing"

	"github.com/tombee/catsync/pkg/errors"
)

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   rune
	}{
		{"Matnr\tMPN\tEAN", '\t'},
		{"Matnr;MPN;EAN", ';'},
		{"Matnr,MPN,EAN", ','},
		{"Matnr|MPN|EAN", '|'},
		{"Matnr;MPN,EAN;Desc", ';'},
		{"single", '\t'},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := DetectDelimiter(tt.header); got != tt.want {
				t.Errorf("DetectDelimiter(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestResolveColumns_CaseInsensitive(t *testing.T) {
	header := strings.Split("SKU;MPN;Barcode;Name", ";")
	cols, err := ResolveColumns(header, MaterialAliases)
	if err != nil {
		t.Fatalf("ResolveColumns failed: %v", err)
	}

	want := map[string]int{"Matnr": 0, "ManufPartNr": 1, "EAN": 2, "Description": 3}
	for field, idx := range want {
		if cols[field] != idx {
			t.Errorf("cols[%q] = %d, want %d", field, cols[field], idx)
		}
	}
}

func TestResolveColumns_Missing(t *testing.T) {
	header := strings.Split("SKU;Qty", ";")
	_, err := ResolveColumns(header, PriceAliases)
	if err == nil {
		t.Fatal("expected error for missing price columns")
	}
	var ve *errors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}
