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
	"bufio"
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tombee/catsync/internal/pricing"
)

// PriceEntry holds the three price components for one material.
type PriceEntry struct {
	ListPrice     float64 `json:"list_price"`
	CustBestPrice float64 `json:"cust_best_price"`
	Surcharge     float64 `json:"surcharge"`
}

// BuildStockIndex parses the stock feed into a Matnr -> quantity map.
// Non-parseable quantities count as 0, each raising one
// invalid_stock_value warning.
func BuildStockIndex(data []byte) (map[string]int32, map[string]int64, error) {
	warnings := map[string]int64{}
	index := map[string]int32{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return index, warnings, scanner.Err()
	}
	header := scanner.Text()
	delim := DetectDelimiter(header)
	cols, err := ResolveColumns(strings.Split(header, string(delim)), StockAliases)
	if err != nil {
		return nil, nil, err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		if len(fields) <= cols["Matnr"] || len(fields) <= cols["Stock"] {
			continue
		}
		matnr := strings.TrimSpace(fields[cols["Matnr"]])
		if matnr == "" {
			continue
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(fields[cols["Stock"]]), 10, 32)
		if err != nil {
			warnings["invalid_stock_value"]++
			qty = 0
		}
		index[matnr] = int32(qty)
	}
	return index, warnings, scanner.Err()
}

// BuildPriceIndex parses the price feed into a Matnr -> PriceEntry map
// using the IT-locale euro parser. Unparseable components become 0.
func BuildPriceIndex(data []byte) (map[string]PriceEntry, error) {
	index := map[string]PriceEntry{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return index, scanner.Err()
	}
	header := scanner.Text()
	delim := DetectDelimiter(header)
	cols, err := ResolveColumns(strings.Split(header, string(delim)), PriceAliases)
	if err != nil {
		return nil, err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delim))
		max := cols["Matnr"]
		for _, c := range []int{cols["ListPrice"], cols["CustBestPrice"], cols["Surcharge"]} {
			if c > max {
				max = c
			}
		}
		if len(fields) <= max {
			continue
		}
		matnr := strings.TrimSpace(fields[cols["Matnr"]])
		if matnr == "" {
			continue
		}
		index[matnr] = PriceEntry{
			ListPrice:     nanToZero(pricing.ParseEuro(fields[cols["ListPrice"]])),
			CustBestPrice: nanToZero(pricing.ParseEuro(fields[cols["CustBestPrice"]])),
			Surcharge:     nanToZero(pricing.ParseEuro(fields[cols["Surcharge"]])),
		}
	}
	return index, scanner.Err()
}

func nanToZero(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return f
}

// MarshalStockIndex serializes a stock index for object storage.
func MarshalStockIndex(index map[string]int32) ([]byte, error) {
	return json.Marshal(index)
}

// UnmarshalStockIndex reads a serialized stock index.
func UnmarshalStockIndex(data []byte) (map[string]int32, error) {
	var index map[string]int32
	err := json.Unmarshal(data, &index)
	return index, err
}

// MarshalPriceIndex serializes a price index for object storage.
func MarshalPriceIndex(index map[string]PriceEntry) ([]byte, error) {
	return json.Marshal(index)
}

// UnmarshalPriceIndex reads a serialized price index.
func UnmarshalPriceIndex(data []byte) (map[string]PriceEntry, error) {
	var index map[string]PriceEntry
	err := json.Unmarshal(data, &index)
	return index, err
}
