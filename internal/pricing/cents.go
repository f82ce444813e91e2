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
	"fmt"
	"math"
)

// ToCents converts a euro amount to integer cents, rounding half away
// from zero. NaN and infinities map to 0.
func ToCents(euros float64) int64 {
	if math.IsNaN(euros) || math.IsInf(euros, 0) {
		return 0
	}
	return roundHalfAway(euros * 100)
}

// roundHalfAway rounds to the nearest integer, ties away from zero.
func roundHalfAway(f float64) int64 {
	if f >= 0 {
		return int64(math.Floor(f + 0.5))
	}
	return int64(math.Ceil(f - 0.5))
}

// ToComma99Cents returns the smallest amount not less than cents whose
// last two digits are 99. Amounts already ending in 99 are returned
// unchanged.
func ToComma99Cents(cents int64) int64 {
	if cents%100 == 99 {
		return cents
	}
	e := cents / 100
	if cents < 0 {
		e = int64(math.Floor(float64(cents) / 100))
	}
	t := e*100 + 99
	if t < cents {
		t = (e+1)*100 + 99
	}
	return t
}

// Ladder holds the fee parameters applied on top of the base price.
type Ladder struct {
	// ShippingEuros is the flat shipping contribution.
	ShippingEuros float64

	// VATPercent is the VAT rate, e.g. 22.
	VATPercent int64

	// FeeDrev is the distributor revenue multiplier, e.g. 1.04.
	FeeDrev float64

	// FeeMkt is the marketplace fee multiplier, e.g. 1.08.
	FeeMkt float64
}

// Result is the outcome of one price-ladder computation.
type Result struct {
	// FinalCents is the customer-facing price with the ,99 ending.
	FinalCents int64

	// ListCents is the integer-euro list-price-derived ceiling.
	ListCents int64
}

// Compute applies the price ladder to one product. The CBP route
// (base = CBP + surcharge) is used when custBest > 0, otherwise the LP
// route (base = listPrice). All intermediate values are integer cents.
func (l Ladder) Compute(listPrice, custBest, surcharge float64) Result {
	var base int64
	if custBest > 0 {
		base = ToCents(custBest + surcharge)
	} else {
		base = ToCents(listPrice)
	}

	after1 := base + ToCents(l.ShippingEuros)
	after2 := mulDivRound(after1, 100+l.VATPercent, 100)
	after3 := roundHalfAway(float64(after2) * l.FeeDrev)
	after4 := roundHalfAway(float64(after3) * l.FeeMkt)

	return Result{
		FinalCents: ToComma99Cents(after4),
		ListCents:  ceilDiv(after4, 100) * 100,
	}
}

// mulDivRound computes v*num/den with round-half-away-from-zero.
func mulDivRound(v, num, den int64) int64 {
	p := v * num
	q := p / den
	r := p % den
	if r*2 >= den {
		q++
	} else if r*2 <= -den {
		q--
	}
	return q
}

// ceilDiv computes ceil(a/b) for positive b.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b > 0 {
		q++
	}
	return q
}

// FormatCentsComma renders cents as an IT-style decimal ("12,99").
func FormatCentsComma(cents int64) string {
	return fmt.Sprintf("%d,%02d", cents/100, cents%100)
}

// FormatCentsDot renders cents as a dot-decimal ("12.99") for feeds
// that require machine formatting.
func FormatCentsDot(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
