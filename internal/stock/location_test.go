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

import (
	"strings"
	"testing"
)

func TestParseLocations(t *testing.T) {
	input := strings.Join([]string{
		"Matnr;LocationID;Stock",
		"A100;4242;5",
		"A100;4254;10",
		"A200;4242;3",
		"A300;4254;7",
		"A300;4255;2",
		"A400;4255;9",
	}, "\n")

	splits, warnings, err := ParseLocations(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLocations failed: %v", err)
	}

	if s := splits["A100"]; s.IT != 5 || s.EU != 10 {
		t.Errorf("A100 = %+v", s)
	}
	if s := splits["A200"]; s.IT != 3 || s.EU != 0 {
		t.Errorf("A200 = %+v", s)
	}
	if s := splits["A300"]; s.IT != 0 || s.EU != 7 {
		t.Errorf("A300 = %+v", s)
	}

	// A400 has a 4255 row and no 4254 row.
	if warnings["orphan_4255"] != 1 {
		t.Errorf("orphan_4255 = %d, want 1", warnings["orphan_4255"])
	}
	// A300 has both, so no warning for it.
	if s := splits["A400"]; s.IT != 0 || s.EU != 0 {
		t.Errorf("A400 = %+v, expected ignored location to contribute nothing", s)
	}
}

func TestParseLocations_InvalidQty(t *testing.T) {
	input := "Matnr\tLocationID\tStock\nA100\t4242\tbroken\n"

	splits, warnings, err := ParseLocations(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLocations failed: %v", err)
	}
	if warnings["invalid_stock_value"] != 1 {
		t.Errorf("invalid_stock_value = %d, want 1", warnings["invalid_stock_value"])
	}
	if s := splits["A100"]; s.IT != 0 {
		t.Errorf("A100.IT = %d, want 0", s.IT)
	}
}
