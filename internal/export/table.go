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

// Package export builds the per-marketplace artifacts from the unified
// product table, plus the TSV codec the pipeline steps hand each other.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tombee/catsync/pkg/errors"
)

// Header is the column line of the unified product table produced by
// parse_merge.
const Header = "Matnr\tMPN\tEAN\tDesc\tStock\tLP\tCBP\tSur"

// PricedHeader extends Header with the columns the pricing step adds.
const PricedHeader = Header + "\tPriceFinalCents\tListWithFeeCents"

// PublishedFiles is the exact set of filenames shipped over SFTP.
// Nothing else leaves the system.
var PublishedFiles = []string{
	"Catalogo EAN.xlsx",
	"Export ePrice.xlsx",
	"Export Mediaworld.xlsx",
	"amazon_listing_loader.xlsm",
	"amazon_price_inventory.txt",
}

// Product is one row of the unified table. The cents columns are zero
// until the pricing step has run.
type Product struct {
	Matnr string
	MPN   string
	EAN   string
	Desc  string
	Stock int
	LP    float64
	CBP   float64
	Sur   float64

	PriceFinalCents  int64
	ListWithFeeCents int64
}

// FormatRow renders one product as a TSV line without trailing newline.
func FormatRow(p Product, priced bool) string {
	var b strings.Builder
	b.WriteString(p.Matnr)
	b.WriteByte('\t')
	b.WriteString(p.MPN)
	b.WriteByte('\t')
	b.WriteString(p.EAN)
	b.WriteByte('\t')
	b.WriteString(p.Desc)
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(p.Stock))
	b.WriteByte('\t')
	b.WriteString(formatFloat(p.LP))
	b.WriteByte('\t')
	b.WriteString(formatFloat(p.CBP))
	b.WriteByte('\t')
	b.WriteString(formatFloat(p.Sur))
	if priced {
		b.WriteByte('\t')
		b.WriteString(strconv.FormatInt(p.PriceFinalCents, 10))
		b.WriteByte('\t')
		b.WriteString(strconv.FormatInt(p.ListWithFeeCents, 10))
	}
	return b.String()
}

// WriteProducts writes the table with the appropriate header.
func WriteProducts(w io.Writer, products []Product, priced bool) error {
	bw := bufio.NewWriter(w)
	header := Header
	if priced {
		header = PricedHeader
	}
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return err
	}
	for _, p := range products {
		if _, err := bw.WriteString(FormatRow(p, priced) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadProducts parses a product table, detecting whether the pricing
// columns are present from the header line.
func ReadProducts(r io.Reader) ([]Product, bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, &errors.ValidationError{Field: "products", Message: "empty table"}
	}
	header := scanner.Text()
	var priced bool
	switch header {
	case Header:
	case PricedHeader:
		priced = true
	default:
		return nil, false, &errors.ValidationError{
			Field:   "products",
			Message: fmt.Sprintf("unexpected header %q", header),
		}
	}

	var products []Product
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		p, err := parseRow(line, priced)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		products = append(products, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return products, priced, nil
}

func parseRow(line string, priced bool) (Product, error) {
	want := 8
	if priced {
		want = 10
	}
	fields := strings.Split(line, "\t")
	if len(fields) != want {
		return Product{}, &errors.ValidationError{
			Field:   "row",
			Message: fmt.Sprintf("expected %d columns, got %d", want, len(fields)),
		}
	}
	stock, err := strconv.Atoi(fields[4])
	if err != nil {
		return Product{}, fmt.Errorf("bad stock %q: %w", fields[4], err)
	}
	p := Product{
		Matnr: fields[0],
		MPN:   fields[1],
		EAN:   fields[2],
		Desc:  fields[3],
		Stock: stock,
		LP:    parseFloat(fields[5]),
		CBP:   parseFloat(fields[6]),
		Sur:   parseFloat(fields[7]),
	}
	if priced {
		p.PriceFinalCents, err = strconv.ParseInt(fields[8], 10, 64)
		if err != nil {
			return Product{}, fmt.Errorf("bad price cents %q: %w", fields[8], err)
		}
		p.ListWithFeeCents, err = strconv.ParseInt(fields[9], 10, 64)
		if err != nil {
			return Product{}, fmt.Errorf("bad list cents %q: %w", fields[9], err)
		}
	}
	return p, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
