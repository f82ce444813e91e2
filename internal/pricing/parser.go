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

// Package pricing implements the integer-cents price arithmetic and the
// locale-tolerant numeric parsing used by the catalog sync pipeline.
package pricing

import (
	"math"
	"strconv"
	"strings"
)

// ParseEuro parses a numeric feed value that may use Italian number
// formatting ("1.234,56"), US formatting ("1,234.56"), or carry a
// trailing percent sign. Returns NaN for values that cannot be parsed.
func ParseEuro(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return math.NaN()
	}

	// Drop everything outside the accepted alphabet, then keep the
	// first whitespace-delimited token.
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ', r == '%', r == '-':
			b.WriteRune(r)
		}
	}
	s = strings.TrimSpace(b.String())
	if tok := strings.Fields(s); len(tok) > 0 {
		s = tok[0]
	} else {
		return math.NaN()
	}
	s = strings.TrimSuffix(s, "%")

	// When both separators appear, the one occurring last is the
	// decimal mark and the other is a thousands separator. This
	// handles IT ("1.234,56") and US ("1,234.56") alike.
	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}
