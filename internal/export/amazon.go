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
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/catsync/internal/pricing"
	"github.com/tombee/catsync/pkg/errors"
)

// Amazon Listing Loader template layout. The macro workbook is mutated
// in place: rows are written into the Modello sheet at fixed columns,
// below the template's header block.
const (
	ListingSheet    = "Modello"
	listingFirstRow = 4

	listingColSKU      = 1
	listingColEAN      = 2
	listingColDesc     = 3
	listingColPrice    = 4
	listingColQty      = 5
	listingColHandling = 6
)

// InventoryHeader is the fixed header of amazon_price_inventory.txt.
const InventoryHeader = "sku\tprice\tminimum-seller-allowed-price\tmaximum-seller-allowed-price\tquantity\tfulfillment-channel\thandling-time"

// EncodeListingLoader mutates the Amazon template workbook, preserving
// its macros, and returns the finished XLSM bytes.
func EncodeListingLoader(template []byte, rows []Row) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(template))
	if err != nil {
		return nil, fmt.Errorf("failed to open listing template: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(ListingSheet); err != nil || idx < 0 {
		return nil, &errors.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("sheet %q missing from template", ListingSheet),
		}
	}

	for i, row := range rows {
		r := listingFirstRow + i
		cells := []struct {
			col int
			val any
		}{
			{listingColSKU, row.SKU},
			{listingColEAN, row.EAN},
			{listingColDesc, row.Desc},
			{listingColPrice, pricing.FormatCentsComma(row.PriceCents)},
			{listingColQty, row.Qty},
			{listingColHandling, row.HandlingDays},
		}
		for _, c := range cells {
			cell, _ := excelize.CoordinatesToCellName(c.col, r)
			if s, isStr := c.val.(string); isStr {
				err = f.SetCellStr(ListingSheet, cell, s)
			} else {
				err = f.SetCellValue(ListingSheet, cell, c.val)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode listing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePriceInventory renders the tab-separated price/inventory feed.
// Min/max seller-allowed prices are intentionally left blank.
func EncodePriceInventory(rows []Row) []byte {
	var b strings.Builder
	b.WriteString(InventoryHeader + "\n")
	for _, row := range rows {
		b.WriteString(row.SKU)
		b.WriteByte('\t')
		b.WriteString(pricing.FormatCentsDot(row.PriceCents))
		b.WriteString("\t\t\t")
		b.WriteString(strconv.Itoa(row.Qty))
		b.WriteString("\tDEFAULT\t")
		b.WriteString(strconv.Itoa(row.HandlingDays))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeListingRows reads the mutated template back for the coherence
// check.
func DecodeListingRows(xlsm []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(xlsm))
	if err != nil {
		return nil, fmt.Errorf("failed to open listing workbook: %w", err)
	}
	defer f.Close()

	all, err := f.GetRows(ListingSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", ListingSheet, err)
	}

	var rows []Row
	for i := listingFirstRow - 1; i < len(all); i++ {
		cells := all[i]
		if len(cells) == 0 || cells[0] == "" {
			continue
		}
		row := Row{SKU: cells[0]}
		if len(cells) > listingColEAN-1 {
			row.EAN = cells[listingColEAN-1]
		}
		if len(cells) > listingColPrice-1 {
			row.PriceCents = parseCommaCents(cells[listingColPrice-1])
		}
		if len(cells) > listingColQty-1 {
			row.Qty, _ = strconv.Atoi(cells[listingColQty-1])
		}
		if len(cells) > listingColHandling-1 {
			row.HandlingDays, _ = strconv.Atoi(cells[listingColHandling-1])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodeInventoryRows parses amazon_price_inventory.txt for the
// coherence check.
func DecodeInventoryRows(txt []byte) ([]Row, error) {
	lines := strings.Split(strings.TrimRight(string(txt), "\n"), "\n")
	if len(lines) == 0 || lines[0] != InventoryHeader {
		return nil, &errors.ValidationError{Field: "price_inventory", Message: "missing or wrong header"}
	}
	var rows []Row
	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, &errors.ValidationError{
				Field:   "price_inventory",
				Message: fmt.Sprintf("row %d: expected 7 columns, got %d", i+1, len(fields)),
			}
		}
		qty, _ := strconv.Atoi(fields[4])
		handling, _ := strconv.Atoi(fields[6])
		rows = append(rows, Row{
			SKU:          fields[0],
			PriceCents:   parseDotCents(fields[1]),
			Qty:          qty,
			HandlingDays: handling,
		})
	}
	return rows, nil
}

// VerifyAmazonCoherence asserts the two Amazon artifacts describe the
// same listing set: same row count, same SKU order, same quantity,
// price, and handling time per row.
func VerifyAmazonCoherence(xlsm, txt []byte) error {
	listing, err := DecodeListingRows(xlsm)
	if err != nil {
		return err
	}
	inventory, err := DecodeInventoryRows(txt)
	if err != nil {
		return err
	}
	if len(listing) != len(inventory) {
		return &errors.ValidationError{
			Field:   "amazon_artifacts",
			Message: fmt.Sprintf("row count mismatch: xlsm=%d txt=%d", len(listing), len(inventory)),
		}
	}
	for i := range listing {
		l, inv := listing[i], inventory[i]
		if l.SKU != inv.SKU || l.Qty != inv.Qty || l.PriceCents != inv.PriceCents || l.HandlingDays != inv.HandlingDays {
			return &errors.ValidationError{
				Field: "amazon_artifacts",
				Message: fmt.Sprintf("row %d diverges: xlsm(%s qty=%d price=%d h=%d) txt(%s qty=%d price=%d h=%d)",
					i, l.SKU, l.Qty, l.PriceCents, l.HandlingDays, inv.SKU, inv.Qty, inv.PriceCents, inv.HandlingDays),
			}
		}
	}
	return nil
}

func parseCommaCents(s string) int64 {
	return parseCents(s, ",")
}

func parseDotCents(s string) int64 {
	return parseCents(s, ".")
}

func parseCents(s, sep string) int64 {
	parts := strings.SplitN(strings.TrimSpace(s), sep, 2)
	euros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	cents := int64(0)
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	return euros*100 + cents
}
