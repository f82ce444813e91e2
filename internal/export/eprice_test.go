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
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestEncodeEPriceXLSX(t *testing.T) {
	data, err := EncodeEPriceXLSX(amazonRows())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Offerte")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "A100" || rows[1][3] != "147,99" {
		t.Errorf("row content wrong: %v", rows[1])
	}
	if rows[2][1] != "0400638133393" {
		t.Errorf("EAN leading zero lost: %v", rows[2])
	}
}
