// Package orchestrator evaluates candidate listings against the valuation
// providers: it normalizes titles, groups identical products, fans provider
// calls out under the concurrency governor and the per-run circuit breaker,
// builds one decision per candidate, and dispatches profitable decisions to
// the configured sinks.
package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/cost"
	"github.com/sells-group/resale-arb/internal/governor"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/normalize"
	"github.com/sells-group/resale-arb/internal/provider"
	"github.com/sells-group/resale-arb/internal/query"
	"github.com/sells-group/resale-arb/internal/resilience"
	"github.com/sells-group/resale-arb/internal/scorer"
	"github.com/sells-group/resale-arb/internal/verify"
)

// Default timeouts.
const (
	DefaultProviderTimeout  = 45 * time.Second
	DefaultSinkTimeout      = 15 * time.Second
	DefaultNormalizeTimeout = 30 * time.Second
	DefaultHistoryTimeout   = 10 * time.Second
)

// Persister stores decisions.
type Persister interface {
	Persist(ctx context.Context, d model.Decision) error
}

// Notifier announces profitable decisions.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, d model.Decision) error
}

// HistorySource feeds past decisions to the candidate scorer.
type HistorySource interface {
	RecentRows(ctx context.Context, lookbackDays, limit int) ([]model.HistoryRow, error)
}

// RunRecorder stores run reports. Stores that implement it get every Scan
// report.
type RunRecorder interface {
	SaveRun(ctx context.Context, r model.RunReport) error
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxParallel is the global token count used when EvaluateMany gets 0.
	MaxParallel int
	// ProviderLimits caps concurrent calls per provider.
	ProviderLimits map[model.ProviderID]int
	// ProviderTimeouts bounds each attempt per provider.
	ProviderTimeouts map[model.ProviderID]time.Duration
	// MaxVariants caps query variants per provider.
	MaxVariants map[model.ProviderID]int
	// CategoryMaxVariants overrides MaxVariants per provider and category.
	CategoryMaxVariants map[model.ProviderID]map[model.Category]int

	Breaker resilience.BreakerConfig
	Verify  verify.Config
	Retry   resilience.RetryConfig

	// Threshold is the net spread a decision must exceed to notify.
	Threshold decimal.Decimal

	SinkTimeout      time.Duration
	NormalizeTimeout time.Duration

	// PersistNonProfitable also stores decisions that have a best quote but
	// do not clear the threshold, so the scorer sees them next run.
	PersistNonProfitable bool

	// FilterAccessories drops accessory listings in Scan.
	FilterAccessories bool

	LookbackDays   int
	HistoryLimit   int
	HistoryTimeout time.Duration

	// Exclusion skips listings recently judged not profitable in Scan.
	Exclusion ExclusionConfig
	// Refill tops up Scan selections short of complete quotes.
	Refill RefillConfig
}

// DefaultConfig returns the built-in orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxParallel:          3,
		ProviderLimits:       governor.DefaultProviderLimits(),
		Breaker:              resilience.DefaultBreakerConfig(),
		Verify:               verify.DefaultConfig(),
		Retry:                resilience.DefaultRetryConfig(),
		Threshold:            decimal.NewFromInt(40),
		SinkTimeout:          DefaultSinkTimeout,
		NormalizeTimeout:     DefaultNormalizeTimeout,
		PersistNonProfitable: true,
		FilterAccessories:    true,
		LookbackDays:         30,
		HistoryLimit:         2000,
		HistoryTimeout:       DefaultHistoryTimeout,
		Exclusion: ExclusionConfig{
			Enabled:      true,
			LookbackDays: 1,
			DailyReset:   true,
			MaxRows:      1500,
		},
		Refill: RefillConfig{BatchMultiplier: 2},
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPersister sets the decision store.
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) {
		o.persister = p
	}
}

// WithNotifiers sets the notification sinks.
func WithNotifiers(ns ...Notifier) Option {
	return func(o *Orchestrator) {
		o.notifiers = append(o.notifiers, ns...)
	}
}

// WithHistory sets the scoring history source used by Scan.
func WithHistory(h HistorySource) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// WithExclusions sets where Scan reads recent non-profitable decisions.
func WithExclusions(src ExclusionSource) Option {
	return func(o *Orchestrator) {
		o.exclusions = src
	}
}

// WithRunRecorder sets where Scan stores run reports.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		o.runs = r
	}
}

// WithScorer sets the candidate scorer used by Scan.
func WithScorer(s *scorer.Scorer) Option {
	return func(o *Orchestrator) {
		o.scorer = s
	}
}

// WithRunHook registers a callback invoked with every finished run report.
func WithRunHook(fn func(context.Context, model.RunReport)) Option {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, fn)
	}
}

// Orchestrator runs evaluation runs. It is safe for concurrent use; each
// EvaluateMany call gets its own governor, breakers and normalization cache.
type Orchestrator struct {
	providers  *provider.Registry
	normalizer normalize.Normalizer
	calc       *cost.Calculator
	verifier   *verify.Verifier
	cfg        Config

	persister  Persister
	notifiers  []Notifier
	history    HistorySource
	exclusions ExclusionSource
	runs       RunRecorder
	scorer     *scorer.Scorer
	hooks      []func(context.Context, model.RunReport)
}

// New creates an Orchestrator. A nil normalizer uses the heuristic one and a
// nil calculator uses the balanced profile.
func New(reg *provider.Registry, norm normalize.Normalizer, calc *cost.Calculator, cfg Config, opts ...Option) *Orchestrator {
	if norm == nil {
		norm = normalize.Heuristic{}
	}
	if calc == nil {
		calc = cost.FromProfile(cost.DefaultProfiles()[cost.ProfileBalanced])
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if cfg.NormalizeTimeout <= 0 {
		cfg.NormalizeTimeout = DefaultNormalizeTimeout
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = DefaultHistoryTimeout
	}
	o := &Orchestrator{
		providers:  reg,
		normalizer: norm,
		calc:       calc,
		verifier:   verify.New(cfg.Verify),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Profile returns the active cost profile name.
func (o *Orchestrator) Profile() string {
	return o.calc.Profile().Name
}

func (o *Orchestrator) timeout(p model.ProviderID) time.Duration {
	if d, ok := o.cfg.ProviderTimeouts[p]; ok && d > 0 {
		return d
	}
	return DefaultProviderTimeout
}

func (o *Orchestrator) maxVariants(p model.ProviderID, cat model.Category) int {
	if byCat, ok := o.cfg.CategoryMaxVariants[p]; ok {
		if n, ok := byCat[cat]; ok && n > 0 {
			return n
		}
	}
	if n, ok := o.cfg.MaxVariants[p]; ok && n > 0 {
		return n
	}
	return query.DefaultMaxVariants
}
