package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// Column headers, lowercased, mapped to record fields.
var headerAliases = map[string]string{
	"title":                       "title",
	"titolo":                      "title",
	"price":                       "price",
	"prezzo":                      "price",
	"price_eur":                   "price",
	"category":                    "category",
	"categoria":                   "category",
	"ean":                         "ean",
	"gtin":                        "ean",
	"url":                         "url",
	"link":                        "url",
	"source_marketplace":          "marketplace",
	"marketplace":                 "marketplace",
	"amazon_condition":            "condition",
	"condition":                   "condition",
	"condizione":                  "condition",
	"amazon_condition_confidence": "condition_confidence",
	"amazon_packaging_only":       "packaging_only",
	"packaging_only":              "packaging_only",
}

// ReadXLSX reads records from a spreadsheet whose first row holds column
// headers. Unknown columns are ignored; a sheet without a title column is an
// error.
func ReadXLSX(path string, opts XLSXOptions) ([]Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := make(map[int]string)
	hasTitle := false
	for j, cell := range rowToStrings(sheet.Rows[0]) {
		field, ok := headerAliases[strings.ToLower(strings.TrimSpace(cell))]
		if !ok {
			continue
		}
		cols[j] = field
		if field == "title" {
			hasTitle = true
		}
	}
	if !hasTitle {
		return nil, eris.Errorf("ingest: xlsx %s has no title column", path)
	}

	var out []Record
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		var rec Record
		empty := true
		for j, v := range cells {
			field, ok := cols[j]
			v = strings.TrimSpace(v)
			if !ok || v == "" {
				continue
			}
			empty = false
			setField(&rec, field, v)
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out, nil
}

func setField(rec *Record, field, v string) {
	switch field {
	case "title":
		rec.Title = v
	case "price":
		if d, ok := ParsePrice(v); ok {
			rec.Price = Price{Value: d, Set: true}
		}
	case "category":
		rec.Category = v
	case "ean":
		rec.EAN = v
	case "url":
		rec.URL = v
	case "marketplace":
		rec.Marketplace = v
	case "condition":
		rec.Condition = v
	case "condition_confidence":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.ConditionConfidence = &f
		}
	case "packaging_only":
		switch strings.ToLower(v) {
		case "1", "true", "yes", "si", "sì":
			rec.PackagingOnly = true
		}
	}
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
