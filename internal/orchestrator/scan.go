package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/ingest"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/resilience"
	"github.com/sells-group/resale-arb/internal/scorer"
)

// Scan prepares candidates and evaluates the best of them: dedupe, drop
// accessories and recent non-profitable listings, score against recent
// history, select up to budget candidates with the regional quotas, then
// evaluate them. Decisions short of a real quote from every required
// provider are topped up from the unselected candidates for up to
// Refill.MaxRounds batches. budget <= 0 evaluates every prepared candidate.
// The run report is saved when a RunRecorder is set.
func (o *Orchestrator) Scan(ctx context.Context, candidates []model.Candidate, budget int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: scan")
	}
	prepared := ingest.Prepare(candidates, ingest.Options{FilterAccessories: o.cfg.FilterAccessories})
	prepared, excluded := exclude(prepared, o.loadExclusions(ctx), o.cfg.Exclusion.MinKeep)

	sc := o.scorer
	if sc == nil {
		sc = scorer.New(scorer.DefaultScoringConfig())
	}
	sctx := o.scoringContext(ctx, sc)

	ordered := sc.Prioritize(prepared, sctx)
	selected := ordered
	var spare []model.Candidate
	if budget > 0 {
		selected = sc.SelectBalanced(ordered, budget)
		spare = overflow(ordered, selected)
	}

	zap.L().Info("orchestrator: scan selected candidates",
		zap.Int("input", len(candidates)),
		zap.Int("prepared", len(prepared)),
		zap.Int("excluded", excluded),
		zap.Int("selected", len(selected)),
		zap.Int("spare", len(spare)),
		zap.Int("budget", budget),
		zap.Bool("scoring", sctx.Enabled),
		zap.Int("history_rows", sctx.Rows),
	)

	r := o.newRun(0)
	r.excluded = excluded
	decisions := o.evaluate(ctx, r, selected)
	decisions = o.cover(ctx, r, decisions, spare, len(selected))

	res, err := o.finish(ctx, r, decisions)
	if o.runs != nil {
		o.saveRun(ctx, res.Report)
	}
	return res, err
}

// scoringContext loads history under HistoryTimeout. A failed load scores
// the run against empty history, so estimates fall back to the category
// ratios.
func (o *Orchestrator) scoringContext(ctx context.Context, sc *scorer.Scorer) scorer.Context {
	if o.history == nil {
		return sc.BuildContext(nil)
	}
	hctx, cancel := context.WithTimeout(ctx, o.cfg.HistoryTimeout)
	defer cancel()

	rows, err := o.history.RecentRows(hctx, o.cfg.LookbackDays, o.cfg.HistoryLimit)
	if err != nil {
		zap.L().Warn("orchestrator: history unavailable, scoring without history", zap.Error(err))
		return sc.BuildContext(nil)
	}
	return sc.BuildContext(rows)
}

func (o *Orchestrator) saveRun(ctx context.Context, r model.RunReport) {
	retry := o.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("store", "save_run")
	err := resilience.Do(context.WithoutCancel(ctx), retry, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.SinkTimeout)
		defer cancel()
		return o.runs.SaveRun(sctx, r)
	})
	if err != nil {
		zap.L().Warn("orchestrator: save run report failed", zap.String("run_id", r.ID), zap.Error(err))
	}
}

// exclusionLocation loads the daily reset timezone, falling back to UTC.
func exclusionLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		zap.L().Warn("orchestrator: unknown exclusion timezone, using UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

// ConfigFrom maps application configuration onto orchestrator settings.
func ConfigFrom(c *config.Config) Config {
	cfg := DefaultConfig()
	cfg.MaxParallel = c.Scan.MaxParallel
	cfg.Threshold = decimal.NewFromFloat(c.Scan.NotifyThreshold)
	cfg.SinkTimeout = time.Duration(c.Scan.SinkTimeoutSecs) * time.Second
	cfg.NormalizeTimeout = time.Duration(c.Scan.NormalizeTimeoutSecs) * time.Second
	cfg.FilterAccessories = c.Scan.FilterAccessories
	cfg.PersistNonProfitable = c.Store.PersistNonProfitable
	cfg.Retry = resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)

	cfg.LookbackDays = c.Scoring.LookbackDays
	cfg.HistoryLimit = c.Scoring.HistoryLimit
	cfg.HistoryTimeout = time.Duration(c.Scoring.HistoryTimeoutSecs) * time.Second

	cfg.Refill = RefillConfig{MaxRounds: c.Scan.RefillMaxRounds, BatchMultiplier: c.Scan.RefillMultiplier}
	cfg.Exclusion = ExclusionConfig{
		Enabled:      c.Exclusion.Enabled,
		LookbackDays: c.Exclusion.LookbackDays,
		DailyReset:   c.Exclusion.DailyReset,
		Location:     exclusionLocation(c.Exclusion.Timezone),
		MaxRows:      c.Exclusion.MaxRows,
		MinKeep:      c.Exclusion.MinKeep,
	}

	thresholds := make(map[string]int)
	cfg.ProviderTimeouts = make(map[model.ProviderID]time.Duration)
	cfg.MaxVariants = make(map[model.ProviderID]int)
	cfg.CategoryMaxVariants = make(map[model.ProviderID]map[model.Category]int)
	cfg.Verify.Exempt = make(map[model.ProviderID]bool)
	cfg.Verify.ProviderSimilarity = make(map[model.ProviderID]float64)

	for name, p := range c.Providers {
		id := model.ProviderID(name)
		if p.Parallel > 0 {
			cfg.ProviderLimits[id] = p.Parallel
		}
		if p.TimeoutSecs > 0 {
			cfg.ProviderTimeouts[id] = time.Duration(p.TimeoutSecs) * time.Second
		}
		if p.BreakerThreshold > 0 {
			thresholds[name] = p.BreakerThreshold
		}
		if p.MaxVariants > 0 {
			cfg.MaxVariants[id] = p.MaxVariants
		}
		if len(p.CategoryMaxVariants) > 0 {
			byCat := make(map[model.Category]int, len(p.CategoryMaxVariants))
			for cat, n := range p.CategoryMaxVariants {
				byCat[model.CategoryFromRaw(cat)] = n
			}
			cfg.CategoryMaxVariants[id] = byCat
		}
		if p.VerifyExempt {
			cfg.Verify.Exempt[id] = true
		}
		if p.SimilarityThreshold > 0 {
			cfg.Verify.ProviderSimilarity[id] = p.SimilarityThreshold
		}
	}
	cfg.Breaker = resilience.FromBreakerConfig(c.Breaker.Enabled, c.Breaker.DefaultThreshold, thresholds)
	return cfg
}
