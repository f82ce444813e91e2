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
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/pkg/errors"
)

// MediaWorld template schema: 22 fixed columns, with hard-coded values
// for product state, logistic class, and an empty strikethrough price.
var mwColumns = [22]string{
	"sku", "ean", "product-id-type", "description", "internal-description",
	"price", "quantity", "state", "logistic-class", "discount-price",
	"discount-start-date", "discount-end-date", "leadtime-to-ship",
	"update-delete", "brand", "category", "vat-rate", "eco-tax",
	"shipping-price", "min-quantity-alert", "image-url", "comment",
}

// Fixed cell values the MediaWorld importer requires.
const (
	mwProductIDType = "EAN"
	mwStateNew      = "11"
	mwLogistic      = "L"
	mwUpdateAction  = "update"
)

// Column indices into mwColumns (0-based) for the fields we fill.
const (
	mwColSKU      = 0
	mwColEAN      = 1
	mwColIDType   = 2
	mwColDesc     = 3
	mwColPrice    = 5
	mwColQty      = 6
	mwColState    = 7
	mwColLogistic = 8
	mwColLeadtime = 12
	mwColUpdate   = 13
)

// BuildMediaWorldGrid renders marketplace rows into the 22-column
// template shape. Unfilled columns stay empty.
func BuildMediaWorldGrid(rows []Row) [][]string {
	grid := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(mwColumns))
		cells[mwColSKU] = row.SKU
		cells[mwColEAN] = row.EAN
		cells[mwColIDType] = mwProductIDType
		cells[mwColDesc] = row.Desc
		cells[mwColPrice] = pricing.FormatCentsDot(row.PriceCents)
		cells[mwColQty] = strconv.Itoa(row.Qty)
		cells[mwColState] = mwStateNew
		cells[mwColLogistic] = mwLogistic
		cells[mwColLeadtime] = strconv.Itoa(row.HandlingDays)
		cells[mwColUpdate] = mwUpdateAction
		grid = append(grid, cells)
	}
	return grid
}

// ValidateMediaWorldGrid checks every row against the template schema:
// exact column count, required fixed values, positive ,99 price, and a
// quantity within bounds. This runs before the artifact is written.
func ValidateMediaWorldGrid(grid [][]string) error {
	for i, cells := range grid {
		if len(cells) != len(mwColumns) {
			return &errors.ValidationError{
				Field:   "mediaworld",
				Message: fmt.Sprintf("row %d: expected %d columns, got %d", i, len(mwColumns), len(cells)),
			}
		}
		if cells[mwColSKU] == "" || cells[mwColEAN] == "" {
			return &errors.ValidationError{
				Field:   "mediaworld",
				Message: fmt.Sprintf("row %d: empty sku or ean", i),
			}
		}
		if cells[mwColIDType] != mwProductIDType || cells[mwColState] != mwStateNew || cells[mwColLogistic] != mwLogistic {
			return &errors.ValidationError{
				Field:   "mediaworld",
				Message: fmt.Sprintf("row %d: fixed values violated", i),
			}
		}
		cents := parseDotCents(cells[mwColPrice])
		if cents <= 0 || cents%100 != 99 {
			return &errors.ValidationError{
				Field:   "mediaworld",
				Message: fmt.Sprintf("row %d: price %q is not a positive ,99 price", i, cells[mwColPrice]),
			}
		}
		qty, err := strconv.Atoi(cells[mwColQty])
		if err != nil || qty < 2 || qty > 99999 {
			return &errors.ValidationError{
				Field:   "mediaworld",
				Message: fmt.Sprintf("row %d: quantity %q out of bounds", i, cells[mwColQty]),
			}
		}
	}
	return nil
}

// EncodeMediaWorldXLSX writes the validated grid as an XLSX workbook.
func EncodeMediaWorldXLSX(grid [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Offers"
	f.SetSheetName("Sheet1", sheet)

	for col, name := range mwColumns {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	for i, cells := range grid {
		for col, v := range cells {
			if v == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellStr(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
