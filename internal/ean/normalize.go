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

// Package ean implements EAN/GTIN normalization for the catalog feeds.
package ean

import (
	"fmt"
	"strings"
)

// Normalize canonicalizes a raw EAN value:
//
//	12 digits -> prefixed with "0" to GTIN-13
//	13 digits -> unchanged
//	14 digits with a leading "0" -> trimmed to GTIN-13
//	14 digits otherwise -> kept as GTIN-14
//
// Whitespace and dashes are stripped first. Any other input is
// rejected with a stable reason code.
func Normalize(raw string) (value string, ok bool, reason string) {
	s := strings.TrimSpace(raw)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '-':
			continue
		default:
			b.WriteRune(r)
		}
	}
	s = b.String()

	if s == "" {
		return "", false, "empty"
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false, "non_digit"
		}
	}

	switch len(s) {
	case 12:
		return "0" + s, true, ""
	case 13:
		return s, true, ""
	case 14:
		if s[0] == '0' {
			return s[1:], true, ""
		}
		return s, true, ""
	default:
		return "", false, fmt.Sprintf("invalid_length_%d", len(s))
	}
}

// ValidForExport reports whether a normalized EAN is acceptable for
// marketplace export (GTIN-13 or GTIN-14).
func ValidForExport(normalized string) bool {
	return len(normalized) == 13 || len(normalized) == 14
}
