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
	"strings"
	"testing"
)

func sampleProducts() []Product {
	return []Product{
		{Matnr: "A100", MPN: "MPN-1", EAN: "4006381333931", Desc: "Widget rosso", Stock: 5, LP: 100, CBP: 87.5, Sur: 2.5},
		{Matnr: "B200", MPN: "MPN-2", EAN: "", Desc: "Widget blu", Stock: 12, LP: 49.9, CBP: 0, Sur: 0},
	}
}

func TestProductTable_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteProducts(&buf, sampleProducts(), false); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), Header+"\n") {
		t.Fatalf("missing header: %q", buf.String())
	}

	got, priced, err := ReadProducts(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if priced {
		t.Error("unpriced table detected as priced")
	}
	if len(got) != 2 || got[0].Matnr != "A100" || got[1].Stock != 12 {
		t.Errorf("unexpected products: %+v", got)
	}
	if got[0].CBP != 87.5 {
		t.Errorf("CBP mangled: %v", got[0].CBP)
	}
}

func TestProductTable_PricedRoundTrip(t *testing.T) {
	products := sampleProducts()
	products[0].PriceFinalCents = 14799
	products[0].ListWithFeeCents = 14800

	var buf bytes.Buffer
	if err := WriteProducts(&buf, products, true); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, priced, err := ReadProducts(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !priced {
		t.Error("priced table not detected")
	}
	if got[0].PriceFinalCents != 14799 || got[0].ListWithFeeCents != 14800 {
		t.Errorf("price columns mangled: %+v", got[0])
	}
}

func TestReadProducts_BadHeader(t *testing.T) {
	_, _, err := ReadProducts(strings.NewReader("Foo\tBar\nx\ty\n"))
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestReadProducts_WrongColumnCount(t *testing.T) {
	_, _, err := ReadProducts(strings.NewReader(Header + "\nA100\tonly-two\n"))
	if err == nil {
		t.Fatal("expected column count error")
	}
}
