package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/provider"
	"github.com/sells-group/resale-arb/internal/scorer"
)

type fakeHistory struct {
	rows []model.HistoryRow
	err  error

	lookback, limit int
}

func (h *fakeHistory) RecentRows(_ context.Context, lookbackDays, limit int) ([]model.HistoryRow, error) {
	h.lookback, h.limit = lookbackDays, limit
	return h.rows, h.err
}

type fakeRuns struct {
	reports []model.RunReport
}

func (f *fakeRuns) SaveRun(_ context.Context, r model.RunReport) error {
	f.reports = append(f.reports, r)
	return nil
}

func TestScan_DedupesAndSavesRun(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	hist := &fakeHistory{}
	runs := &fakeRuns{}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy},
		WithHistory(hist), WithRunRecorder(runs))

	a := cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech)
	a.URL = "https://www.amazon.it/dp/B07L5GDTYY?ref=x"
	dup := a
	dup.URL = "https://www.amazon.it/dp/B07L5GDTYY"

	res, err := o.Scan(context.Background(), []model.Candidate{a, dup}, 10)
	require.NoError(t, err)

	assert.Len(t, res.Decisions, 1)
	require.Len(t, runs.reports, 1)
	assert.Equal(t, res.Report.ID, runs.reports[0].ID)
	assert.Equal(t, 30, hist.lookback)
	assert.Equal(t, 2000, hist.limit)
}

func TestScan_BudgetLimitsEvaluation(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech),
		cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech),
		cand("Logitech MX Master 3S", "60", model.CategoryGeneralTech),
	}
	res, err := o.Scan(context.Background(), cands, 2)
	require.NoError(t, err)
	assert.Len(t, res.Decisions, 2)
	assert.Equal(t, 2, res.Report.Candidates)
}

func TestScan_HistoryErrorScoresWithoutHistory(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	sc := scorer.New(scorer.DefaultScoringConfig())
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy},
		WithHistory(&fakeHistory{err: errors.New("connection refused")}),
		WithScorer(sc))

	cands := []model.Candidate{
		cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech),
		cand("Logitech MX Master 3S", "60", model.CategoryGeneralTech),
	}
	sctx := o.scoringContext(context.Background(), sc)
	assert.True(t, sctx.Enabled)
	assert.Zero(t, sctx.Rows)

	res, err := o.Scan(context.Background(), cands, 1)
	require.NoError(t, err)

	want := sc.Prioritize(cands, sc.BuildContext(nil))[0]
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, want.Title, res.Decisions[0].Candidate.Title)
}

func TestScan_FiltersAccessories(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Custodia compatibile con iPhone 15 Pro", "12", model.CategoryApplePhone),
		cand("Kindle Oasis 32GB", "90", model.CategoryGeneralTech),
	}
	res, err := o.Scan(context.Background(), cands, 0)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "Kindle Oasis 32GB", res.Decisions[0].Candidate.Title)
}

func TestConfigFrom(t *testing.T) {
	c := &config.Config{
		Store: config.StoreConfig{PersistNonProfitable: true},
		Scan: config.ScanConfig{
			MaxParallel:          4,
			NotifyThreshold:      55.5,
			SinkTimeoutSecs:      7,
			NormalizeTimeoutSecs: 9,
			FilterAccessories:    true,
			RefillMaxRounds:      2,
			RefillMultiplier:     3,
		},
		Exclusion: config.ExclusionConfig{
			Enabled:      true,
			LookbackDays: 2,
			DailyReset:   true,
			Timezone:     "Mars/Olympus",
			MaxRows:      10,
			MinKeep:      1,
		},
		Providers: map[string]config.ProviderConfig{
			"mpb": {
				Parallel:            1,
				TimeoutSecs:         30,
				BreakerThreshold:    1,
				MaxVariants:         2,
				CategoryMaxVariants: map[string]int{"drone": 4},
				VerifyExempt:        true,
			},
			"rebuy": {SimilarityThreshold: 0.6},
		},
		Breaker: config.BreakerConfig{Enabled: true, DefaultThreshold: 3},
		Retry:   config.RetryConfig{MaxAttempts: 5},
		Scoring: config.ScoringConfig{LookbackDays: 14, HistoryLimit: 100, HistoryTimeoutSecs: 2},
	}

	cfg := ConfigFrom(c)

	assert.Equal(t, 4, cfg.MaxParallel)
	assert.True(t, cfg.Threshold.Equal(decimal.NewFromFloat(55.5)))
	assert.Equal(t, 7*time.Second, cfg.SinkTimeout)
	assert.Equal(t, 9*time.Second, cfg.NormalizeTimeout)
	assert.True(t, cfg.FilterAccessories)
	assert.Equal(t, 1, cfg.ProviderLimits[model.ProviderMPB])
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeouts[model.ProviderMPB])
	assert.Equal(t, 2, cfg.MaxVariants[model.ProviderMPB])
	assert.Equal(t, 4, cfg.CategoryMaxVariants[model.ProviderMPB][model.CategoryDrone])
	assert.True(t, cfg.Verify.Exempt[model.ProviderMPB])
	assert.InDelta(t, 0.6, cfg.Verify.ProviderSimilarity[model.ProviderRebuy], 1e-9)
	assert.Equal(t, 3, cfg.Breaker.DefaultThreshold)
	assert.Equal(t, 1, cfg.Breaker.Thresholds[model.ProviderMPB])
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 14, cfg.LookbackDays)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, 2*time.Second, cfg.HistoryTimeout)
	assert.Equal(t, RefillConfig{MaxRounds: 2, BatchMultiplier: 3}, cfg.Refill)
	assert.True(t, cfg.Exclusion.Enabled)
	assert.Equal(t, 2, cfg.Exclusion.LookbackDays)
	assert.True(t, cfg.Exclusion.DailyReset)
	assert.Equal(t, time.UTC, cfg.Exclusion.Location)
	assert.Equal(t, 10, cfg.Exclusion.MaxRows)
	assert.Equal(t, 1, cfg.Exclusion.MinKeep)

	o := New(nil, nil, nil, cfg)
	assert.Equal(t, 2, o.maxVariants(model.ProviderMPB, model.CategoryPhotography))
	assert.Equal(t, 4, o.maxVariants(model.ProviderMPB, model.CategoryDrone))
	assert.Equal(t, 1, o.maxVariants(model.ProviderRebuy, model.CategoryDrone))
	assert.Equal(t, DefaultProviderTimeout, o.timeout(model.ProviderRebuy))
	assert.Equal(t, "balanced", o.Profile())
}
