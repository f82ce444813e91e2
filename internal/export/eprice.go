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

	"github.com/xuri/excelize/v2"

	"github.com/tombee/catsync/internal/pricing"
)

var epriceHeader = []string{"SKU", "EAN", "Descrizione", "Prezzo", "Quantita", "Giorni di preparazione"}

// EncodeEPriceXLSX renders the ePrice offer workbook. The EAN column is
// forced to text format to preserve leading zeros.
func EncodeEPriceXLSX(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Offerte"
	f.SetSheetName("Sheet1", sheet)

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return nil, fmt.Errorf("failed to create text style: %w", err)
	}
	if err := f.SetColStyle(sheet, "B", textStyle); err != nil {
		return nil, fmt.Errorf("failed to set EAN column style: %w", err)
	}

	for col, name := range epriceHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	for i, row := range rows {
		r := i + 2
		cellB, _ := excelize.CoordinatesToCellName(2, r)
		if err := f.SetCellStr(sheet, cellB, row.EAN); err != nil {
			return nil, err
		}
		values := map[int]any{
			1: row.SKU,
			3: row.Desc,
			4: pricing.FormatCentsComma(row.PriceCents),
			5: row.Qty,
			6: row.HandlingDays,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
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
