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
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/tombee/catsync/internal/feed"
)

// Warehouse location identifiers in the supplier feed.
const (
	LocationIT      = "4242"
	LocationEU      = "4254"
	LocationIgnored = "4255"
)

// Split holds per-material stock split by warehouse region.
type Split struct {
	IT int `json:"it"`
	EU int `json:"eu"`
}

// ParseLocations ingests the optional stock-location feed and
// aggregates quantities per material by warehouse location. Location
// 4255 rows are ignored; a material that has a 4255 row but no 4254 row
// increments the orphan_4255 warning.
func ParseLocations(r io.Reader) (map[string]Split, map[string]int64, error) {
	warnings := map[string]int64{}
	splits := map[string]Split{}
	has4254 := map[string]bool{}
	has4255 := map[string]bool{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return splits, warnings, scanner.Err()
	}
	header := scanner.Text()
	delim := feed.DetectDelimiter(header)
	cols, err := feed.ResolveColumns(strings.Split(header, string(delim)), feed.LocationAliases)
	if err != nil {
		return nil, nil, err
	}
	matIdx, locIdx, qtyIdx := cols["Matnr"], cols["LocationID"], cols["Stock"]

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		if len(fields) <= matIdx || len(fields) <= locIdx || len(fields) <= qtyIdx {
			warnings["malformed_location_row"]++
			continue
		}
		matnr := strings.TrimSpace(fields[matIdx])
		loc := strings.TrimSpace(fields[locIdx])
		qty, err := strconv.Atoi(strings.TrimSpace(fields[qtyIdx]))
		if err != nil {
			warnings["invalid_stock_value"]++
			qty = 0
		}

		s := splits[matnr]
		switch loc {
		case LocationIT:
			s.IT += qty
		case LocationEU:
			s.EU += qty
			has4254[matnr] = true
		case LocationIgnored:
			has4255[matnr] = true
		default:
			warnings["unknown_location"]++
		}
		splits[matnr] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	for matnr := range has4255 {
		if !has4254[matnr] {
			warnings["orphan_4255"]++
		}
	}

	return splits, warnings, nil
}
