package ingest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/resale-arb/internal/model"
)

func listing(title string, price int64) model.Candidate {
	return model.Candidate{Title: title, Price: decimal.NewFromInt(price), Category: model.CategoryGeneralTech}
}

func TestAccessoryReasons(t *testing.T) {
	tests := []struct {
		name  string
		c     model.Candidate
		want  []string
		clean bool
	}{
		{
			name: "case for iphone",
			c:    listing("Custodia compatibile con iPhone 15 Pro", 15),
			want: []string{"low-price-anchor<120", "accessory+compatibility", "accessory+low-price", "accessory-no-storage-low-price"},
		},
		{
			name:  "phone bundled with cover",
			c:     listing("Apple iPhone 13 128GB con cover", 420),
			clean: true,
		},
		{
			name: "cheap strap",
			c:    listing("Cinturino sportivo in silicone", 12),
			want: []string{"accessory-no-storage-low-price"},
		},
		{
			name: "suspiciously cheap device",
			c:    listing("DJI Mavic 3 Classic", 200),
			want: []string{"low-price-anchor<450"},
		},
		{
			name:  "plain device",
			c:     listing("Sony WH-1000XM5", 220),
			clean: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccessoryReasons(tt.c)
			if tt.clean {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterAccessories(t *testing.T) {
	kept, dropped := FilterAccessories([]model.Candidate{
		listing("Pellicola vetro temperato per iPhone 14", 9),
		listing("Garmin Fenix 7 Sapphire Solar", 480),
	})
	assert.Len(t, kept, 1)
	assert.Equal(t, "Garmin Fenix 7 Sapphire Solar", kept[0].Title)
	assert.Len(t, dropped, 1)
	assert.Contains(t, dropped[0], "reasons=")
}

func TestDedupeKey(t *testing.T) {
	a := listing("Kindle  Oasis", 90)
	assert.Equal(t, "title:kindle oasis|price:90.00|cat:general_tech", DedupeKey(a))

	a.URL = "https://www.Amazon.it/dp/B07L5GDTYY/?ref=sr_1"
	assert.Equal(t, "url:https://www.amazon.it/dp/b07l5gdtyy", DedupeKey(a))

	a.URL = "www.amazon.it/dp/B07L5GDTYY"
	assert.Equal(t, "url:https://www.amazon.it/dp/b07l5gdtyy", DedupeKey(a))

	a.URL = "not a url"
	assert.Equal(t, "title:kindle oasis|price:90.00|cat:general_tech", DedupeKey(a))
}

func TestDedupe(t *testing.T) {
	a := listing("Kindle Oasis", 90)
	b := listing("kindle   oasis", 90)
	c := listing("Kindle Oasis", 95)
	out := Dedupe([]model.Candidate{a, b, c})
	assert.Len(t, out, 2)
	assert.Equal(t, "Kindle Oasis", out[0].Title)
	assert.True(t, out[1].Price.Equal(decimal.NewFromInt(95)))
}

func TestPrepare(t *testing.T) {
	in := []model.Candidate{
		listing("Kindle Oasis", 90),
		listing("Kindle Oasis", 90),
		listing("Cover per Kindle Oasis", 15),
	}
	assert.Len(t, Prepare(in, Options{}), 2)
	assert.Len(t, Prepare(in, Options{FilterAccessories: true}), 1)
}
