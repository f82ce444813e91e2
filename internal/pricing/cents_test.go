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

package pricing

import (
	"math/rand"
	"testing"
)

func TestToComma99Cents(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{0, 99},
		{99, 99},
		{100, 199},
		{198, 199},
		{199, 199},
		{200, 299},
		{1234, 1299},
		{1299, 1299},
		{1300, 1399},
	}

	for _, tt := range tests {
		if got := ToComma99Cents(tt.in); got != tt.want {
			t.Errorf("ToComma99Cents(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// The ,99 rule must produce the smallest value >= x that ends in 99,
// and must be idempotent.
func TestToComma99Cents_Laws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		x := rng.Int63n(10_000_000)
		got := ToComma99Cents(x)
		if got < x {
			t.Fatalf("ToComma99Cents(%d) = %d < input", x, got)
		}
		if got-x >= 100 {
			t.Fatalf("ToComma99Cents(%d) = %d, gap %d >= 100", x, got, got-x)
		}
		if got%100 != 99 {
			t.Fatalf("ToComma99Cents(%d) = %d does not end in 99", x, got)
		}
		if again := ToComma99Cents(got); again != got {
			t.Fatalf("not idempotent: %d -> %d -> %d", x, got, again)
		}
	}
}

func TestToCents(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{19.99, 1999},
		{19.995, 2000},
		{0.005, 1},
		{-0.005, -1},
		{100, 10000},
	}

	for _, tt := range tests {
		if got := ToCents(tt.in); got != tt.want {
			t.Errorf("ToCents(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLadder_Compute_CBPRoute(t *testing.T) {
	l := Ladder{ShippingEuros: 5, VATPercent: 22, FeeDrev: 1.04, FeeMkt: 1.08}

	// base = 100.00 + 2.50 = 102.50 -> +5 shipping = 107.50
	// VAT 22%: 13115 cents; *1.04 = 13640 (13639.6 rounded); *1.08 = 14731
	got := l.Compute(999, 100, 2.50)
	if want := int64(14799); got.FinalCents != want {
		t.Errorf("FinalCents = %d, want %d", got.FinalCents, want)
	}
	if want := int64(14800); got.ListCents != want {
		t.Errorf("ListCents = %d, want %d", got.ListCents, want)
	}
}

func TestLadder_Compute_LPRoute(t *testing.T) {
	l := Ladder{ShippingEuros: 0, VATPercent: 22, FeeDrev: 1, FeeMkt: 1}

	// CBP = 0 forces the LP route: 50.00 * 1.22 = 61.00
	got := l.Compute(50, 0, 10)
	if want := int64(6199); got.FinalCents != want {
		t.Errorf("FinalCents = %d, want %d", got.FinalCents, want)
	}
	if want := int64(6100); got.ListCents != want {
		t.Errorf("ListCents = %d, want %d", got.ListCents, want)
	}
}

func TestLadder_FinalAlwaysEnds99(t *testing.T) {
	l := Ladder{ShippingEuros: 4.9, VATPercent: 22, FeeDrev: 1.04, FeeMkt: 1.0815}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		lp := rng.Float64() * 5000
		cbp := rng.Float64() * 4000
		sur := rng.Float64() * 50
		r := l.Compute(lp, cbp, sur)
		if r.FinalCents%100 != 99 {
			t.Fatalf("Compute(%v, %v, %v).FinalCents = %d does not end in 99", lp, cbp, sur, r.FinalCents)
		}
		if r.ListCents%100 != 0 {
			t.Fatalf("ListCents %d is not an integer euro amount", r.ListCents)
		}
	}
}

func TestFormatCents(t *testing.T) {
	if got := FormatCentsComma(1299); got != "12,99" {
		t.Errorf("FormatCentsComma = %q", got)
	}
	if got := FormatCentsDot(1299); got != "12.99" {
		t.Errorf("FormatCentsDot = %q", got)
	}
	if got := FormatCentsComma(500); got != "5,00" {
		t.Errorf("FormatCentsComma = %q", got)
	}
}
