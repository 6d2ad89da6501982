package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/provider"
)

type fakeExclusions struct {
	decisions []model.Decision
	err       error

	since     time.Time
	maxSpread float64
	limit     int
}

func (f *fakeExclusions) NonProfitable(_ context.Context, since time.Time, maxSpread float64, limit int) ([]model.Decision, error) {
	f.since, f.maxSpread, f.limit = since, maxSpread, limit
	return f.decisions, f.err
}

// judged returns a stored decision for c with a real rebuy quote.
func judged(c model.Candidate) model.Decision {
	return model.Decision{
		Candidate: c,
		Quotes:    []model.Quote{offerQuote(model.ProviderRebuy, "https://rebuy.example/q")},
	}
}

func TestSignature(t *testing.T) {
	a := cand("Bose QuietComfort 45", "149.90", model.CategoryGeneralTech)
	a.Condition = "Usato - Ottime condizioni"
	b := cand("Bose QuietComfort 45", "126", model.CategoryGeneralTech)
	b.Condition = "very good"

	sig := Signature(a)
	assert.True(t, strings.HasPrefix(sig, "general_tech|very_good|125|"), sig)
	assert.Equal(t, sig, Signature(b))

	b.Price = b.Price.Add(b.Price)
	assert.NotEqual(t, sig, Signature(b))
	b = a
	b.Condition = ""
	assert.NotEqual(t, sig, Signature(b))

	assert.Empty(t, Signature(cand("()", "10", model.CategoryGeneralTech)))
}

func TestExclusionSince(t *testing.T) {
	now := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, now.AddDate(0, 0, -1), exclusionSince(ExclusionConfig{LookbackDays: 1}, now))
	assert.Equal(t, now.AddDate(0, 0, -1), exclusionSince(ExclusionConfig{}, now))
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		exclusionSince(ExclusionConfig{LookbackDays: 1, DailyReset: true}, now))

	cest := time.FixedZone("CEST", 2*60*60)
	late := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	got := exclusionSince(ExclusionConfig{LookbackDays: 1, DailyReset: true, Location: cest}, late)
	assert.True(t, got.Equal(time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)), got)
}

func TestExclude_MinKeep(t *testing.T) {
	a := cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech)
	b := cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech)
	c := cand("Logitech MX Master 3S", "60", model.CategoryGeneralTech)
	ex := exclusions{urls: map[string]bool{}, signatures: map[string]bool{Signature(a): true, Signature(c): true}}

	got, n := exclude([]model.Candidate{a, b, c}, ex, 0)
	assert.Equal(t, 2, n)
	require.Len(t, got, 1)
	assert.Equal(t, b.Title, got[0].Title)

	got, n = exclude([]model.Candidate{a, b, c}, ex, 2)
	assert.Equal(t, 1, n)
	require.Len(t, got, 2)
	assert.Equal(t, a.Title, got[0].Title)
	assert.Equal(t, b.Title, got[1].Title)

	got, n = exclude([]model.Candidate{a, b, c}, exclusions{}, 0)
	assert.Zero(t, n)
	assert.Len(t, got, 3)
}

func TestScan_SkipsRecentNonProfitable(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}

	byURL := cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech)
	byURL.URL = "https://www.amazon.it/dp/B07L5GDTYY?tag=deal"
	bySig := cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech)
	incomplete := cand("Garmin Forerunner 255", "180", model.CategoryGeneralTech)
	incomplete.URL = "https://www.amazon.it/dp/B0B1"
	fresh := cand("Logitech MX Master 3S", "60", model.CategoryGeneralTech)

	storedURL := byURL
	storedURL.URL = "https://www.amazon.it/dp/B07L5GDTYY"
	storedURL.Title = "Amazon Kindle Oasis"
	storedSig := bySig
	storedSig.Price = decimal.RequireFromString("169.90")
	src := &fakeExclusions{decisions: []model.Decision{
		judged(storedURL),
		judged(storedSig),
		{Candidate: incomplete, Quotes: []model.Quote{model.Failed(model.ProviderRebuy, model.KindNotFound, "no match")}},
	}}

	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy}, WithExclusions(src))
	res, err := o.Scan(context.Background(), []model.Candidate{byURL, bySig, incomplete, fresh}, 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{incomplete.Title, fresh.Title}, titles(res.Decisions))
	assert.Equal(t, 2, res.Report.Excluded)
	assert.InDelta(t, 40.0, src.maxSpread, 1e-9)
	assert.Equal(t, 1500, src.limit)
	assert.False(t, src.since.After(time.Now()))
	assert.True(t, src.since.After(time.Now().Add(-25*time.Hour)))
}

func TestScan_ExclusionMinKeep(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}

	a := cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech)
	b := cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech)
	src := &fakeExclusions{decisions: []model.Decision{judged(a), judged(b)}}

	cfg := testConfig()
	cfg.Exclusion.MinKeep = 1
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{rebuy}, WithExclusions(src))

	res, err := o.Scan(context.Background(), []model.Candidate{a, b}, 0)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, a.Title, res.Decisions[0].Candidate.Title)
	assert.Equal(t, 1, res.Report.Excluded)
}

func TestScan_ExclusionErrorsExcludeNothing(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	a := cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech)

	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy},
		WithExclusions(&fakeExclusions{decisions: []model.Decision{judged(a)}, err: errors.New("database is locked")}))
	res, err := o.Scan(context.Background(), []model.Candidate{a}, 0)
	require.NoError(t, err)
	assert.Len(t, res.Decisions, 1)
	assert.Zero(t, res.Report.Excluded)

	cfg := testConfig()
	cfg.Exclusion.Enabled = false
	src := &fakeExclusions{decisions: []model.Decision{judged(a)}}
	o = newTestOrchestrator(t, nil, cfg, []provider.Provider{rebuy}, WithExclusions(src))
	res, err = o.Scan(context.Background(), []model.Candidate{a}, 0)
	require.NoError(t, err)
	assert.Len(t, res.Decisions, 1)
	assert.Zero(t, src.limit)
}
