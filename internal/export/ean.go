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
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/catsync/internal/ean"
	"github.com/tombee/catsync/internal/pricing"
)

// DedupeByEAN normalizes every EAN and collapses duplicates, keeping
// the row with the highest PriceFinalCents per normalized code. Rows
// whose EAN does not normalize are dropped with a reason string.
// Output is ordered by EAN for determinism.
func DedupeByEAN(products []Product) ([]Product, []string) {
	best := make(map[string]Product)
	var dropped []string

	for _, p := range products {
		normalized, ok, reason := ean.Normalize(p.EAN)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("%s: %s", p.Matnr, reason))
			continue
		}
		p.EAN = normalized
		if cur, exists := best[normalized]; !exists || p.PriceFinalCents > cur.PriceFinalCents {
			best[normalized] = p
		}
	}

	out := make([]Product, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EAN < out[j].EAN })
	return out, dropped
}

// eanCatalogHeader is the column line of the EAN catalog artifacts.
var eanCatalogHeader = []string{"EAN", "SKU", "MPN", "Descrizione", "Prezzo", "Quantita"}

// EncodeEANCSV renders the catalog as a semicolon-separated CSV with
// IT-style decimal commas.
func EncodeEANCSV(products []Product) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(eanCatalogHeader); err != nil {
		return nil, err
	}
	for _, p := range products {
		record := []string{
			p.EAN,
			p.Matnr,
			p.MPN,
			p.Desc,
			pricing.FormatCentsComma(p.PriceFinalCents),
			fmt.Sprintf("%d", p.Stock),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// EncodeEANXLSX renders the catalog as an XLSX workbook. The EAN
// column is forced to text format so leading zeros survive Excel.
func EncodeEANXLSX(products []Product) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Catalogo"
	f.SetSheetName("Sheet1", sheet)

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return nil, fmt.Errorf("failed to create text style: %w", err)
	}
	if err := f.SetColStyle(sheet, "A", textStyle); err != nil {
		return nil, fmt.Errorf("failed to set EAN column style: %w", err)
	}

	for col, name := range eanCatalogHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	for i, p := range products {
		row := i + 2
		cellA, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellStr(sheet, cellA, p.EAN); err != nil {
			return nil, err
		}
		values := []any{p.Matnr, p.MPN, p.Desc, pricing.FormatCentsComma(p.PriceFinalCents), p.Stock}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+2, row)
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
