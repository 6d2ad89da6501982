package scorer

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/model"
)

func f(v float64) *float64 { return &v }

func cand(title string, price int64, cat model.Category, market string) model.Candidate {
	return model.Candidate{Title: title, Price: decimal.NewFromInt(price), Category: cat, Marketplace: market}
}

func ok(p model.ProviderID) model.ProviderOutcome { return model.ProviderOutcome{Provider: p, Valid: true} }
func bad(p model.ProviderID) model.ProviderOutcome {
	return model.ProviderOutcome{Provider: p, Error: "blocked"}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "iphone 13 128gb", NormalizeKey("iPhone 13 (Ricondizionato) 128GB - Usato"))
	assert.Equal(t, "apple watch se 44mm", NormalizeKey("Apple Watch SE, 44mm [Amazon Warehouse]"))
	assert.Len(t, NormalizeKey(strings.Repeat("abc ", 60)), 120)
}

func TestBuildContext(t *testing.T) {
	s := New(DefaultScoringConfig())
	rows := []model.HistoryRow{
		{NormalizedName: "iPhone 13 128GB", Category: model.CategoryApplePhone, BestOffer: f(300), Spread: f(40),
			Outcomes: []model.ProviderOutcome{ok(model.ProviderTrendDevice), bad(model.ProviderRebuy)}},
		{NormalizedName: "iphone 13 128gb", Category: model.CategoryApplePhone, BestOffer: f(320), Spread: f(60),
			Outcomes: []model.ProviderOutcome{ok(model.ProviderTrendDevice), ok(model.ProviderRebuy)}},
		{NormalizedName: "iphone 12", Category: model.CategoryApplePhone, BestOffer: f(200), Spread: f(-10)},
		{NormalizedName: "nothing", Category: model.CategoryDrone},
	}

	ctx := s.BuildContext(rows)
	assert.True(t, ctx.Enabled)
	assert.Equal(t, 4, ctx.Rows)
	assert.InDelta(t, 310, ctx.ExactOfferMedian["iphone 13 128gb"], 0.001)
	assert.InDelta(t, 2.0/6.0, ctx.ExactConfidence["iphone 13 128gb"], 0.001)
	assert.InDelta(t, 300, ctx.CategoryOfferMedian[model.CategoryApplePhone], 0.001)
	assert.InDelta(t, 40, ctx.CategorySpreadMedian[model.CategoryApplePhone], 0.001)
	_, hasDrone := ctx.CategoryOfferMedian[model.CategoryDrone]
	assert.False(t, hasDrone)

	assert.Equal(t, ProviderHealth{Rate: 1, Samples: 2}, ctx.Health[model.ProviderTrendDevice])
	assert.Equal(t, ProviderHealth{Rate: 0.5, Samples: 2}, ctx.Health[model.ProviderRebuy])
}

func TestBuildContext_Disabled(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Enabled = false
	ctx := New(cfg).BuildContext([]model.HistoryRow{{NormalizedName: "x", BestOffer: f(1)}})
	assert.False(t, ctx.Enabled)
	assert.Empty(t, ctx.ExactOfferMedian)
}

func TestScore_ExactHistory(t *testing.T) {
	s := New(DefaultScoringConfig())
	rows := make([]model.HistoryRow, 0, 6)
	for i := 0; i < 6; i++ {
		rows = append(rows, model.HistoryRow{NormalizedName: "DJI Mini 3", Category: model.CategoryDrone, BestOffer: f(250)})
	}
	ctx := s.BuildContext(rows)

	r := s.Score(cand("DJI Mini 3", 200, model.CategoryDrone, "it"), ctx)
	assert.Equal(t, SourceExact, r.Source)
	assert.InDelta(t, 1.0, r.Confidence, 0.001)
	assert.InDelta(t, 250, r.ExpectedOffer, 0.001)
	assert.InDelta(t, 50, r.ExpectedSpread, 0.001)
	// Only the dji pattern matches.
	assert.InDelta(t, 42, r.LiquidityBonus, 0.001)
	// No health samples: no adjustment.
	assert.InDelta(t, 0, r.HealthAdjustment, 0.001)
	assert.InDelta(t, 50+42+20, r.Score, 0.001)
	assert.Equal(t, "it", r.Region)
}

func TestScore_CategoryAndSpreadBlend(t *testing.T) {
	s := New(DefaultScoringConfig())
	ctx := s.BuildContext([]model.HistoryRow{
		{NormalizedName: "other camera", Category: model.CategoryPhotography, BestOffer: f(500), Spread: f(100)},
	})

	r := s.Score(cand("Fujifilm X-T3", 400, model.CategoryPhotography, ""), ctx)
	assert.Equal(t, SourceCategory, r.Source)
	assert.InDelta(t, 0.55, r.Confidence, 0.001)
	// own spread 100 blended 0.75/0.25 with category median 100.
	assert.InDelta(t, 100, r.ExpectedSpread, 0.001)
	assert.InDelta(t, 100+0.55*20, r.Score, 0.001)
}

func TestScore_Fallback(t *testing.T) {
	s := New(DefaultScoringConfig())
	ctx := s.BuildContext(nil)

	r := s.Score(cand("Some gadget", 100, model.CategoryGeneralTech, ""), ctx)
	assert.Equal(t, SourceFallback, r.Source)
	assert.InDelta(t, 22, r.ExpectedOffer, 0.001)
	assert.InDelta(t, -78, r.ExpectedSpread, 0.001)
	assert.InDelta(t, -78+0.25*20, r.Score, 0.001)

	r = s.Score(cand("Unknown", 100, model.Category("odd"), ""), ctx)
	assert.InDelta(t, 20, r.ExpectedOffer, 0.001)
}

func TestScore_Disabled(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Enabled = false
	s := New(cfg)
	r := s.Score(cand("iPhone 15 Pro Max", 900, model.CategoryApplePhone, ""), s.BuildContext(nil))
	assert.Equal(t, SourceDisabled, r.Source)
	assert.Zero(t, r.Score)
}

func TestLiquidityBonus(t *testing.T) {
	s := New(DefaultScoringConfig())
	assert.InDelta(t, 65+35+25, s.LiquidityBonus("Apple iPhone 15 Pro Max 256GB"), 0.001)
	assert.InDelta(t, 0, s.LiquidityBonus("Kettle"), 0.001)
}

func TestNew_SkipsInvalidPattern(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.LiquidityPatterns = append(cfg.LiquidityPatterns[:1:1], config.LiquidityPattern{Pattern: "(", Bonus: 5})
	s := New(cfg)
	assert.InDelta(t, 65, s.LiquidityBonus("iphone ("), 0.001)
}

func healthRows(p model.ProviderID, good, total int) []model.HistoryRow {
	rows := make([]model.HistoryRow, 0, total)
	for i := 0; i < total; i++ {
		o := bad(p)
		if i < good {
			o = ok(p)
		}
		rows = append(rows, model.HistoryRow{NormalizedName: "x", Category: model.CategoryGeneralTech, Outcomes: []model.ProviderOutcome{o}})
	}
	return rows
}

func TestHealthAdjustment(t *testing.T) {
	s := New(DefaultScoringConfig())
	tests := []struct {
		name       string
		good, all  int
		wantAdjust float64
	}{
		{"too few samples", 0, 5, 0},
		{"very poor", 1, 10, -180},
		{"poor", 3, 10, -120},
		{"weak", 4, 10, -70},
		{"middling", 7, 10, 0},
		{"healthy", 9, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := s.BuildContext(healthRows(model.ProviderRebuy, tt.good, tt.all))
			r := s.Score(cand("kettle", 10, model.CategoryGeneralTech, ""), ctx)
			assert.InDelta(t, tt.wantAdjust, r.HealthAdjustment, 0.001)
		})
	}
}

func TestHealthAdjustment_MissingProviderUsesDefaultRate(t *testing.T) {
	s := New(DefaultScoringConfig())
	// trenddevice has 10 samples at 0.0, rebuy is missing and counts as 0.6:
	// average 0.3 lands in the -120 tier.
	ctx := s.BuildContext(healthRows(model.ProviderTrendDevice, 0, 10))
	r := s.Score(cand("iphone", 10, model.CategoryApplePhone, ""), ctx)
	assert.InDelta(t, 0.3, r.HealthRate, 0.001)
	assert.InDelta(t, -120, r.HealthAdjustment, 0.001)
}

func TestPrioritize(t *testing.T) {
	s := New(DefaultScoringConfig())
	ctx := s.BuildContext(nil)
	cands := []model.Candidate{
		cand("Kettle", 30, model.CategoryGeneralTech, ""),
		cand("Apple iPhone 15 Pro Max", 900, model.CategoryApplePhone, ""),
		cand("Steam Deck", 300, model.CategoryHandheldConsole, ""),
	}

	// Without history every expected spread is negative, so the cheap item
	// loses least despite the liquidity bonuses of the others.
	got := s.Prioritize(cands, ctx)
	require.Len(t, got, 3)
	assert.Equal(t, "Kettle", got[0].Title)
	assert.Equal(t, "Steam Deck", got[1].Title)
	assert.Equal(t, "Apple iPhone 15 Pro Max", got[2].Title)
	// input untouched
	assert.Equal(t, "Kettle", cands[0].Title)
}

func TestPrioritize_TieBreaksOnPrice(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.FallbackRatios = map[string]float64{string(model.CategoryGeneralTech): 1}
	s := New(cfg)
	ctx := s.BuildContext(nil)
	// ratio 1 makes every expected spread zero, so scores tie.
	got := s.Prioritize([]model.Candidate{
		cand("b", 50, model.CategoryGeneralTech, ""),
		cand("a", 20, model.CategoryGeneralTech, ""),
	}, ctx)
	assert.Equal(t, "a", got[0].Title)
}

func TestPrioritize_LegacyWhenDisabled(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Enabled = false
	s := New(cfg)
	got := s.Prioritize([]model.Candidate{
		cand("Camera body long title", 100, model.CategoryPhotography, ""),
		cand("Watch", 100, model.CategorySmartwatch, ""),
		cand("Drone", 100, model.CategoryDrone, ""),
		cand("Cheap", 10, model.CategoryGeneralTech, ""),
		cand("Camera", 100, model.CategoryPhotography, ""),
	}, s.BuildContext(nil))

	titles := make([]string, len(got))
	for i, c := range got {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{"Cheap", "Watch", "Drone", "Camera", "Camera body long title"}, titles)
}

func TestSelectBalanced(t *testing.T) {
	s := New(DefaultScoringConfig())
	sorted := []model.Candidate{
		cand("de1", 1, model.CategoryGeneralTech, "de"),
		cand("de2", 1, model.CategoryGeneralTech, "de"),
		cand("us1", 1, model.CategoryGeneralTech, "com"),
		cand("de3", 1, model.CategoryGeneralTech, "fr"),
		cand("it1", 1, model.CategoryGeneralTech, "it"),
		cand("it2", 1, model.CategoryGeneralTech, "it"),
		cand("it3", 1, model.CategoryGeneralTech, "it"),
	}

	got := s.SelectBalanced(sorted, 4)
	titles := make([]string, len(got))
	for i, c := range got {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{"it1", "it2", "de1", "de2"}, titles)
}

func TestSelectBalanced_FillsFromScoreOrder(t *testing.T) {
	s := New(DefaultScoringConfig())
	sorted := []model.Candidate{
		cand("us1", 1, model.CategoryGeneralTech, "com"),
		cand("it1", 1, model.CategoryGeneralTech, "it"),
		cand("us2", 1, model.CategoryGeneralTech, "com"),
		cand("us3", 1, model.CategoryGeneralTech, "com"),
	}
	got := s.SelectBalanced(sorted, 3)
	titles := make([]string, len(got))
	for i, c := range got {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{"it1", "us1", "us2"}, titles)
}

func TestSelectBalanced_Small(t *testing.T) {
	s := New(DefaultScoringConfig())
	sorted := []model.Candidate{cand("a", 1, model.CategoryGeneralTech, "")}
	assert.Len(t, s.SelectBalanced(sorted, 5), 1)
	assert.Nil(t, s.SelectBalanced(sorted, 0))
}

func TestSelectBalanced_QuotasScaled(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.DomesticShare = 1
	cfg.EUShare = 1
	s := New(cfg)
	sorted := []model.Candidate{
		cand("it1", 1, model.CategoryGeneralTech, "it"),
		cand("it2", 1, model.CategoryGeneralTech, "it"),
		cand("it3", 1, model.CategoryGeneralTech, "it"),
		cand("de1", 1, model.CategoryGeneralTech, "de"),
		cand("de2", 1, model.CategoryGeneralTech, "de"),
	}
	// quotas 4+4 scale to 2+2.
	got := s.SelectBalanced(sorted, 4)
	titles := make([]string, len(got))
	for i, c := range got {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{"it1", "it2", "de1", "de2"}, titles)
}

func TestPrioritize_HistoryPromotesProvenModel(t *testing.T) {
	s := New(DefaultScoringConfig())
	var rows []model.HistoryRow
	for i := 0; i < 6; i++ {
		rows = append(rows, model.HistoryRow{NormalizedName: "Steam Deck", Category: model.CategoryHandheldConsole, BestOffer: f(380)})
	}
	ctx := s.BuildContext(rows)

	got := s.Prioritize([]model.Candidate{
		cand("Kettle", 30, model.CategoryGeneralTech, ""),
		cand("Steam Deck", 300, model.CategoryHandheldConsole, ""),
	}, ctx)
	assert.Equal(t, "Steam Deck", got[0].Title)
}
