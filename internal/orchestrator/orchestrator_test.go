package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/normalize"
	"github.com/sells-group/resale-arb/internal/provider"
	"github.com/sells-group/resale-arb/internal/query"
	"github.com/sells-group/resale-arb/internal/resilience"
)

type valuateFunc func(ctx context.Context, c model.Candidate, q string) model.Quote

type fakeProvider struct {
	id        model.ProviderID
	acceptsID bool
	fn        valuateFunc

	mu      sync.Mutex
	queries []string
}

func (f *fakeProvider) ID() model.ProviderID    { return f.id }
func (f *fakeProvider) AcceptsIdentifier() bool { return f.acceptsID }

func (f *fakeProvider) Valuate(ctx context.Context, c model.Candidate, q string) model.Quote {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.fn(ctx, c, q)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func offering(id model.ProviderID, offer string) valuateFunc {
	return func(context.Context, model.Candidate, string) model.Quote {
		return model.Offered(id, decimal.RequireFromString(offer), "https://example.com/"+string(id), nil)
	}
}

func failing(id model.ProviderID, kind model.FailureKind, msg string) valuateFunc {
	return func(context.Context, model.Candidate, string) model.Quote {
		return model.Failed(id, kind, msg)
	}
}

type countingNormalizer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *countingNormalizer) Normalize(_ context.Context, title string) (normalize.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = make(map[string]int)
	}
	n.calls[title]++
	return normalize.Result{
		Name:  normalize.HeuristicName(title),
		Usage: model.AIUsage{Provider: "test", Model: "m", Mode: model.ModeLive, Used: true},
	}, nil
}

type errNormalizer struct{}

func (errNormalizer) Normalize(context.Context, string) (normalize.Result, error) {
	return normalize.Result{}, errors.New("llm down")
}

type recordingSink struct {
	name string
	err  func(n int) error

	mu        sync.Mutex
	calls     int
	decisions []model.Decision
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(ctx context.Context, d model.Decision) error {
	return s.Persist(ctx, d)
}

func (s *recordingSink) Persist(_ context.Context, d model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		if err := s.err(s.calls); err != nil {
			return err
		}
	}
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *recordingSink) saved() []model.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Decision(nil), s.decisions...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Threshold = decimal.NewFromInt(40)
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cfg.Breaker = resilience.BreakerConfig{Enabled: true, DefaultThreshold: 2}
	return cfg
}

func newTestOrchestrator(t *testing.T, norm normalize.Normalizer, cfg Config, providers []provider.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	reg, err := provider.NewRegistry(providers...)
	require.NoError(t, err)
	return New(reg, norm, zeroCost(), cfg, opts...)
}

func cand(title, price string, cat model.Category) model.Candidate {
	return model.Candidate{Title: title, Price: decimal.RequireFromString(price), Category: cat}
}

func TestEvaluateMany_ProfitableDecision(t *testing.T) {
	mpb := &fakeProvider{id: model.ProviderMPB, fn: offering(model.ProviderMPB, "610")}
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "590")}
	store := &recordingSink{name: "store"}
	tg := &recordingSink{name: "telegram"}

	o := newTestOrchestrator(t, &countingNormalizer{}, testConfig(), []provider.Provider{mpb, rebuy},
		WithPersister(store), WithNotifiers(tg))

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Sony A7 III Body", "500", model.CategoryPhotography)}, 2)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)

	dec := res.Decisions[0]
	require.NotNil(t, dec.Best)
	assert.Equal(t, model.ProviderMPB, dec.Best.Provider)
	assert.Equal(t, "110.00", dec.NetSpread.StringFixed(2))
	assert.True(t, dec.Notify)
	assert.NotEmpty(t, dec.ID)
	assert.False(t, dec.CreatedAt.IsZero())
	assert.Equal(t, model.ModeLive, dec.AI.Mode)

	assert.Len(t, store.saved(), 1)
	assert.Len(t, tg.saved(), 1)
	assert.Equal(t, dec.ID, tg.saved()[0].ID)

	assert.Equal(t, 1, res.Report.Profitable)
	assert.Equal(t, 1, res.Report.Evaluated)
	assert.Equal(t, 1, res.Report.Groups)
	assert.NotEmpty(t, res.Report.ID)
	assert.Equal(t, 1, res.Report.Providers[model.ProviderMPB].Valid)
}

func TestEvaluateMany_AllProvidersFail(t *testing.T) {
	mpb := &fakeProvider{id: model.ProviderMPB, fn: failing(model.ProviderMPB, model.KindAntiBot, "captcha")}
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: failing(model.ProviderRebuy, model.KindNotFound, "price not found")}
	tg := &recordingSink{name: "telegram"}

	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{mpb, rebuy}, WithNotifiers(tg))

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("DJI Mini 3 Pro", "300", model.CategoryDrone)}, 1)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)

	dec := res.Decisions[0]
	assert.Nil(t, dec.Best)
	assert.Nil(t, dec.NetSpread)
	assert.False(t, dec.Notify)
	assert.Len(t, dec.Quotes, 2)
	assert.Empty(t, tg.saved())
	assert.Equal(t, model.ModeFallback, dec.AI.Mode)
}

func TestEvaluateMany_NormalizesEachTitleOnce(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "100")}
	norm := &countingNormalizer{}
	o := newTestOrchestrator(t, norm, testConfig(), []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Steam Deck OLED 512GB", "400", model.CategoryHandheldConsole),
		cand("Steam Deck OLED 512GB", "380", model.CategoryHandheldConsole),
		cand("Nintendo Switch Lite", "120", model.CategoryHandheldConsole),
	}
	res, err := o.EvaluateMany(context.Background(), cands, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, norm.calls["Steam Deck OLED 512GB"])
	assert.Equal(t, 1, norm.calls["Nintendo Switch Lite"])
	assert.Equal(t, 2, res.Report.Groups)
	// Identical products share one provider call.
	assert.Equal(t, 2, rebuy.calls())
}

func TestEvaluateMany_PreservesInputOrder(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: func(_ context.Context, c model.Candidate, _ string) model.Quote {
		if c.Title == "Slow Item One" {
			time.Sleep(20 * time.Millisecond)
		}
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(50), "", nil)
	}}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Slow Item One", "10", model.CategoryGeneralTech),
		cand("Fast Item Two", "20", model.CategoryGeneralTech),
		cand("Fast Item Three", "30", model.CategoryGeneralTech),
	}
	res, err := o.EvaluateMany(context.Background(), cands, 3)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 3)
	for i, c := range cands {
		assert.Equal(t, c.Title, res.Decisions[i].Candidate.Title)
	}
}

func TestEvaluateMany_BreakerSkipsProviderAfterThreshold(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: failing(model.ProviderRebuy, model.KindSessionInvalid, "logged out")}
	cfg := testConfig()
	cfg.Breaker = resilience.BreakerConfig{Enabled: true, DefaultThreshold: 2}
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Kindle Paperwhite 2021", "80", model.CategoryGeneralTech),
		cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech),
		cand("Logitech MX Master 3S", "60", model.CategoryGeneralTech),
	}
	res, err := o.EvaluateMany(context.Background(), cands, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, rebuy.calls())
	assert.Equal(t, []model.ProviderID{model.ProviderRebuy}, res.Report.DisabledProviders)
	assert.Equal(t, 1, res.Report.Providers[model.ProviderRebuy].Skipped)
	assert.Equal(t, 2, res.Report.Providers[model.ProviderRebuy].HardFailures)
	require.Len(t, res.Decisions, 3)

	skipped := 0
	for _, d := range res.Decisions {
		if len(d.Quotes) == 0 {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestEvaluateMany_QueuedTaskSeesOpenBreaker(t *testing.T) {
	mpb := &fakeProvider{id: model.ProviderMPB, fn: func(context.Context, model.Candidate, string) model.Quote {
		time.Sleep(50 * time.Millisecond)
		return model.Failed(model.ProviderMPB, model.KindAntiBot, "captcha wall")
	}}
	cfg := testConfig()
	cfg.ProviderLimits = map[model.ProviderID]int{model.ProviderMPB: 1}
	cfg.Breaker = resilience.BreakerConfig{
		Enabled:          true,
		DefaultThreshold: 2,
		Thresholds:       map[model.ProviderID]int{model.ProviderMPB: 1},
	}
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{mpb})

	cands := []model.Candidate{
		cand("Sony A7 III Body", "900", model.CategoryPhotography),
		cand("Canon EOS R6 Body", "1100", model.CategoryPhotography),
		cand("Fujifilm X-T4 Body", "800", model.CategoryPhotography),
	}
	res, err := o.EvaluateMany(context.Background(), cands, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, mpb.calls())
	assert.Equal(t, []model.ProviderID{model.ProviderMPB}, res.Report.DisabledProviders)
	st := res.Report.Providers[model.ProviderMPB]
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 1, st.HardFailures)
	assert.Equal(t, 2, st.Skipped)
}

func TestEvaluateMany_SoftFailuresNeverTrip(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: failing(model.ProviderRebuy, model.KindNotFound, "price not found")}
	cfg := testConfig()
	cfg.Breaker = resilience.BreakerConfig{Enabled: true, DefaultThreshold: 1}
	cfg.MaxVariants = map[model.ProviderID]int{model.ProviderRebuy: 2}
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{rebuy})

	cands := []model.Candidate{
		cand("Kindle Paperwhite 2021", "80", model.CategoryGeneralTech),
		cand("Bose QuietComfort 45", "150", model.CategoryGeneralTech),
	}
	res, err := o.EvaluateMany(context.Background(), cands, 2)
	require.NoError(t, err)

	assert.Empty(t, res.Report.DisabledProviders)
	assert.Equal(t, 0, res.Report.Providers[model.ProviderRebuy].HardFailures)
	assert.Equal(t, 0, res.Report.Providers[model.ProviderRebuy].Skipped)
	for _, h := range res.Report.Health {
		assert.Equal(t, 0, h.HardTotal)
	}
}

func TestEvaluateMany_RetriesVariantsUntilSuccess(t *testing.T) {
	c := model.Candidate{
		Title:      "Apple iPhone 13 128GB (Ricondizionato) Nero",
		Price:      decimal.NewFromInt(300),
		Category:   model.CategoryApplePhone,
		Identifier: "0194252707234",
	}
	norm := normalize.HeuristicName(c.Title)
	variants := query.Variants(c, norm, query.Options{AcceptsIdentifier: true, Max: 3})
	require.Len(t, variants, 3)

	var n atomic.Int32
	rebuy := &fakeProvider{id: model.ProviderRebuy, acceptsID: true, fn: func(context.Context, model.Candidate, string) model.Quote {
		if n.Add(1) < 3 {
			return model.Failed(model.ProviderRebuy, model.KindNotFound, "price not found")
		}
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(420), "https://rebuy.it/p", nil)
	}}
	cfg := testConfig()
	cfg.MaxVariants = map[model.ProviderID]int{model.ProviderRebuy: 3}
	o := newTestOrchestrator(t, normalize.Heuristic{}, cfg, []provider.Provider{rebuy})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{c}, 1)
	require.NoError(t, err)

	dec := res.Decisions[0]
	require.Len(t, dec.Quotes, 1)
	q := dec.Quotes[0]
	assert.True(t, q.Valid())
	assert.Equal(t, 3, q.Attempt)
	assert.Equal(t, 3, q.MaxAttempts)
	assert.Equal(t, variants[2], q.Query)
	assert.Equal(t, variants, rebuy.queries)
	assert.Len(t, q.Raw["previous_attempts"], 2)
	assert.Equal(t, 3, res.Report.Providers[model.ProviderRebuy].Attempts)
}

func TestEvaluateMany_HardFailureStopsVariants(t *testing.T) {
	c := model.Candidate{
		Title:      "Apple iPhone 13 128GB (Ricondizionato) Nero",
		Price:      decimal.NewFromInt(300),
		Category:   model.CategoryApplePhone,
		Identifier: "0194252707234",
	}
	rebuy := &fakeProvider{id: model.ProviderRebuy, acceptsID: true, fn: failing(model.ProviderRebuy, model.KindAntiBot, "cloudflare")}
	cfg := testConfig()
	cfg.MaxVariants = map[model.ProviderID]int{model.ProviderRebuy: 3}
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{rebuy})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{c}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, rebuy.calls())
	q := res.Decisions[0].Quotes[0]
	assert.Equal(t, model.KindAntiBot, q.Kind)
	assert.Equal(t, 1, q.Attempt)
	assert.Equal(t, 3, q.MaxAttempts)
}

func TestEvaluateMany_TimeoutBecomesQuote(t *testing.T) {
	slow := &fakeProvider{id: model.ProviderRebuy, fn: func(ctx context.Context, _ model.Candidate, _ string) model.Quote {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(999), "", nil)
	}}
	cfg := testConfig()
	cfg.ProviderTimeouts = map[model.ProviderID]time.Duration{model.ProviderRebuy: 20 * time.Millisecond}
	o := newTestOrchestrator(t, nil, cfg, []provider.Provider{slow})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)

	q := res.Decisions[0].Quotes[0]
	assert.Equal(t, model.KindTimeout, q.Kind)
	assert.False(t, q.Valid())
	assert.Equal(t, 1, res.Report.Timeouts)
	assert.Empty(t, res.Report.DisabledProviders)
}

func identifiedPhone() model.Candidate {
	return model.Candidate{
		Title:      "Apple iPhone 13 128GB (Ricondizionato) Nero",
		Price:      decimal.NewFromInt(300),
		Category:   model.CategoryApplePhone,
		Identifier: "0194252707234",
	}
}

func TestEvaluateMany_VerificationRejectedTriesNextVariant(t *testing.T) {
	c := identifiedPhone()
	var n atomic.Int32
	rebuy := &fakeProvider{id: model.ProviderRebuy, acceptsID: true, fn: func(context.Context, model.Candidate, string) model.Quote {
		if n.Add(1) == 1 {
			return model.Offered(model.ProviderRebuy, decimal.NewFromInt(420), "https://rebuy.it/p/1", map[string]any{
				"match_quality": map[string]any{"ok": false, "reason": "matched iPhone 12"},
			})
		}
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(410), "https://rebuy.it/p/2", nil)
	}}
	cfg := testConfig()
	cfg.MaxVariants = map[model.ProviderID]int{model.ProviderRebuy: 2}
	o := newTestOrchestrator(t, normalize.Heuristic{}, cfg, []provider.Provider{rebuy})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{c}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, rebuy.calls())
	q := res.Decisions[0].Quotes[0]
	assert.True(t, q.Valid())
	assert.Equal(t, 2, q.Attempt)
	assert.Equal(t, "410", q.Offer.String())
	assert.Len(t, q.Raw["previous_attempts"], 1)
	assert.Equal(t, 1, res.Report.VerificationRejected)
	assert.Equal(t, 1, res.Report.Providers[model.ProviderRebuy].VerificationRejected)
	assert.Empty(t, res.Report.DisabledProviders)
}

func TestEvaluateMany_TimeoutTriesNextVariant(t *testing.T) {
	c := identifiedPhone()
	var n atomic.Int32
	rebuy := &fakeProvider{id: model.ProviderRebuy, acceptsID: true, fn: func(ctx context.Context, _ model.Candidate, _ string) model.Quote {
		if n.Add(1) == 1 {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return model.Failed(model.ProviderRebuy, model.KindNetwork, "aborted")
		}
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(400), "https://rebuy.it/p", nil)
	}}
	cfg := testConfig()
	cfg.MaxVariants = map[model.ProviderID]int{model.ProviderRebuy: 2}
	cfg.ProviderTimeouts = map[model.ProviderID]time.Duration{model.ProviderRebuy: 20 * time.Millisecond}
	o := newTestOrchestrator(t, normalize.Heuristic{}, cfg, []provider.Provider{rebuy})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{c}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, rebuy.calls())
	q := res.Decisions[0].Quotes[0]
	assert.True(t, q.Valid())
	assert.Equal(t, 2, q.Attempt)
	assert.Equal(t, 2, q.MaxAttempts)
	assert.Equal(t, 1, res.Report.Timeouts)
	assert.Empty(t, res.Report.DisabledProviders)
}

func TestEvaluateMany_PanicBecomesExceptionQuote(t *testing.T) {
	boom := &fakeProvider{id: model.ProviderRebuy, fn: func(context.Context, model.Candidate, string) model.Quote {
		panic("nil pointer in page parser")
	}}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{boom})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)

	q := res.Decisions[0].Quotes[0]
	assert.Equal(t, model.KindException, q.Kind)
	assert.Contains(t, q.Error, "nil pointer in page parser")
}

func TestEvaluateMany_NormalizerErrorFallsBack(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "100")}
	o := newTestOrchestrator(t, errNormalizer{}, testConfig(), []provider.Provider{rebuy})

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis (Ricondizionato)", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)

	dec := res.Decisions[0]
	assert.Equal(t, model.ModeFallback, dec.AI.Mode)
	assert.Equal(t, "heuristic", dec.AI.Provider)
	assert.Equal(t, normalize.HeuristicName("Kindle Oasis (Ricondizionato)"), dec.NormalizedName)
}

func TestEvaluateMany_SinkFailuresAreCounted(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	store := &recordingSink{name: "store", err: func(int) error { return errors.New("disk full") }}
	tg := &recordingSink{name: "telegram"}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy}, WithPersister(store), WithNotifiers(tg))

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.SinkFailures)
	assert.Len(t, tg.saved(), 1)
	assert.True(t, res.Decisions[0].Notify)
}

func TestEvaluateMany_TransientSinkErrorRetried(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "200")}
	tg := &recordingSink{name: "telegram", err: func(n int) error {
		if n == 1 {
			return resilience.NewTransientError(errors.New("telegram: status 502"), 502)
		}
		return nil
	}}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy}, WithNotifiers(tg))

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Report.SinkFailures)
	assert.Len(t, tg.saved(), 1)
}

func TestEvaluateMany_PersistsNonProfitableWithBest(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: func(_ context.Context, c model.Candidate, _ string) model.Quote {
		if c.Title == "No Offer Item" {
			return model.Failed(model.ProviderRebuy, model.KindNotFound, "price not found")
		}
		return model.Offered(model.ProviderRebuy, decimal.NewFromInt(95), "", nil)
	}}
	store := &recordingSink{name: "store"}
	tg := &recordingSink{name: "telegram"}
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy}, WithPersister(store), WithNotifiers(tg))

	cands := []model.Candidate{
		cand("Thin Margin Item", "90", model.CategoryGeneralTech),
		cand("No Offer Item", "90", model.CategoryGeneralTech),
	}
	_, err := o.EvaluateMany(context.Background(), cands, 2)
	require.NoError(t, err)

	saved := store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "Thin Margin Item", saved[0].Candidate.Title)
	assert.False(t, saved[0].Notify)
	assert.Empty(t, tg.saved())
}

func TestEvaluateMany_CancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, nil, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.EvaluateMany(ctx, []model.Candidate{cand("x item", "1", model.CategoryGeneralTech)}, 1)
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestEvaluateMany_RunHook(t *testing.T) {
	rebuy := &fakeProvider{id: model.ProviderRebuy, fn: offering(model.ProviderRebuy, "100")}
	var got []model.RunReport
	o := newTestOrchestrator(t, nil, testConfig(), []provider.Provider{rebuy}, WithRunHook(func(_ context.Context, r model.RunReport) {
		got = append(got, r)
	}))

	res, err := o.EvaluateMany(context.Background(), []model.Candidate{cand("Kindle Oasis", "90", model.CategoryGeneralTech)}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Report.ID, got[0].ID)
}
