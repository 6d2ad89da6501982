// Package ingest loads candidate listings from JSON or XLSX exports, infers
// missing categories and conditions, and removes duplicate and accessory
// listings before evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
)

// Record is one listing as exported by a scraper. Price accepts a JSON number
// or a string such as "1.299,00 €".
type Record struct {
	Title               string   `json:"title"`
	Price               Price    `json:"price"`
	PriceEUR            Price    `json:"price_eur"`
	Category            string   `json:"category"`
	EAN                 string   `json:"ean"`
	URL                 string   `json:"url"`
	Marketplace         string   `json:"source_marketplace"`
	Condition           string   `json:"amazon_condition"`
	ConditionConfidence *float64 `json:"amazon_condition_confidence"`
	PackagingOnly       bool     `json:"amazon_packaging_only"`
}

// Price is a lenient euro amount.
type Price struct {
	Value decimal.Decimal
	Set   bool
}

// UnmarshalJSON accepts numbers, numeric strings and euro-formatted strings.
func (p *Price) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return eris.Wrap(err, "ingest: decode price")
		}
		// An unreadable string leaves the price unset so the record is
		// skipped rather than failing the whole file.
		if d, ok := ParsePrice(str); ok {
			*p = Price{Value: d, Set: true}
		}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return eris.Wrapf(err, "ingest: decode price %s", s)
	}
	*p = Price{Value: d, Set: true}
	return nil
}

// ParsePrice reads a plain decimal ("499.90") or an euro-formatted amount.
func ParsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, true
	}
	if d, ok := ParseEURPrice(s); ok {
		return d, true
	}
	return ParseEURPrice(s + " €")
}

// Candidate converts r to a model.Candidate. Missing categories and
// conditions are inferred from the title.
func (r Record) Candidate() (model.Candidate, error) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return model.Candidate{}, eris.New("ingest: record missing title")
	}
	price := r.PriceEUR
	if !price.Set {
		price = r.Price
	}
	if !price.Set {
		return model.Candidate{}, eris.Errorf("ingest: %q missing price", title)
	}
	if !price.Value.IsPositive() {
		return model.Candidate{}, eris.Errorf("ingest: %q has non-positive price %s", title, price.Value)
	}

	cat := InferCategory(title)
	if strings.TrimSpace(r.Category) != "" {
		cat = model.CategoryFromRaw(r.Category)
	}

	c := model.Candidate{
		Title:         title,
		Price:         price.Value.Round(2),
		Category:      cat,
		Identifier:    strings.TrimSpace(r.EAN),
		URL:           strings.TrimSpace(r.URL),
		Marketplace:   strings.ToLower(strings.TrimSpace(r.Marketplace)),
		Condition:     strings.ToLower(strings.TrimSpace(r.Condition)),
		PackagingOnly: r.PackagingOnly,
	}
	if r.ConditionConfidence != nil {
		c.ConditionConfidence = *r.ConditionConfidence
	}
	if c.Condition == "" {
		inf := InferCondition(title)
		if inf.Bucket != model.ConditionUnknown {
			c.Condition = string(inf.Bucket)
			c.ConditionConfidence = inf.Confidence
		}
		if inf.PackagingOnly {
			c.PackagingOnly = true
		}
	}
	c.ConditionConfidence = min(max(c.ConditionConfidence, 0), 1)
	return c, nil
}

// Candidates converts records, skipping and logging invalid ones.
func Candidates(records []Record) []model.Candidate {
	out := make([]model.Candidate, 0, len(records))
	for i, r := range records {
		c, err := r.Candidate()
		if err != nil {
			zap.L().Warn("ingest: skipping invalid record", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// Options controls Prepare.
type Options struct {
	// FilterAccessories drops listings that look like accessories.
	FilterAccessories bool
}

// Prepare dedupes candidates and optionally drops accessories.
func Prepare(cands []model.Candidate, opts Options) []model.Candidate {
	out := Dedupe(cands)
	if opts.FilterAccessories {
		out, _ = FilterAccessories(out)
	}
	return out
}

// LoadFile reads candidates from a .json or .xlsx file.
func LoadFile(ctx context.Context, path string) ([]model.Candidate, error) {
	var (
		records []Record
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		records, err = readJSONFile(ctx, path)
	case ".xlsx":
		records, err = ReadXLSX(path, XLSXOptions{})
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	cands := Candidates(records)
	zap.L().Info("ingest: loaded candidates",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("candidates", len(cands)),
	)
	return cands, nil
}

func readJSONFile(ctx context.Context, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open json")
	}
	defer f.Close() //nolint:errcheck
	return DecodeJSON(ctx, f)
}
