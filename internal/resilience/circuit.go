// Package resilience provides the per-run provider circuit breaker, failure
// classification, and retry helpers for sink writes.
package resilience

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
)

// CircuitState represents the state of a provider breaker.
type CircuitState int

const (
	// CircuitClosed means work for the provider is scheduled normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider is disabled for the rest of the run.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// DefaultThreshold is the number of hard failures that opens a breaker when
// no per-provider threshold is configured.
const DefaultThreshold = 2

// DefaultThresholds holds the built-in per-provider thresholds. MPB blocks
// sessions aggressively, so one hard failure is enough.
func DefaultThresholds() map[model.ProviderID]int {
	return map[model.ProviderID]int{
		model.ProviderMPB:         1,
		model.ProviderTrendDevice: 2,
		model.ProviderRebuy:       2,
	}
}

// BreakerConfig controls a RunBreakers set.
type BreakerConfig struct {
	// Enabled turns the breaker on. When false, Allow always reports true but
	// counters are still kept for the report.
	Enabled bool

	// DefaultThreshold applies to providers absent from Thresholds.
	DefaultThreshold int

	// Thresholds maps provider to hard-failure threshold.
	Thresholds map[model.ProviderID]int

	// OnTrip is called once when a provider's breaker opens, with the hard
	// failure that tripped it and the cumulative hard-failure count.
	OnTrip func(provider model.ProviderID, lastError string, count int)
}

// DefaultBreakerConfig returns an enabled config with built-in thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		DefaultThreshold: DefaultThreshold,
		Thresholds:       DefaultThresholds(),
	}
}

type providerBreaker struct {
	state           CircuitState
	consecutiveHard int
	hardTotal       int
	successes       int
	total           int
	lastError       string
}

// RunBreakers holds one breaker per provider for a single evaluation run.
// Breakers only move CLOSED to OPEN; a new run starts with a fresh set.
type RunBreakers struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[model.ProviderID]*providerBreaker
}

// NewRunBreakers creates a fresh breaker set.
func NewRunBreakers(cfg BreakerConfig) *RunBreakers {
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = DefaultThreshold
	}
	return &RunBreakers{
		cfg:      cfg,
		breakers: make(map[model.ProviderID]*providerBreaker),
	}
}

// Threshold returns the effective threshold for provider.
func (rb *RunBreakers) Threshold(provider model.ProviderID) int {
	if t, ok := rb.cfg.Thresholds[provider]; ok && t > 0 {
		return t
	}
	return rb.cfg.DefaultThreshold
}

// Allow reports whether new work may be scheduled for provider.
func (rb *RunBreakers) Allow(provider model.ProviderID) bool {
	if !rb.cfg.Enabled {
		return true
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	b, ok := rb.breakers[provider]
	return !ok || b.state == CircuitClosed
}

// State returns the breaker state for provider.
func (rb *RunBreakers) State(provider model.ProviderID) CircuitState {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if b, ok := rb.breakers[provider]; ok {
		return b.state
	}
	return CircuitClosed
}

// Record folds one attempt result into provider's breaker. It returns true if
// this call opened the breaker.
func (rb *RunBreakers) Record(q model.Quote) bool {
	rb.mu.Lock()

	b, ok := rb.breakers[q.Provider]
	if !ok {
		b = &providerBreaker{}
		rb.breakers[q.Provider] = b
	}
	b.total++

	if q.Valid() {
		b.successes++
		b.consecutiveHard = 0
		rb.mu.Unlock()
		return false
	}
	if !q.Kind.Hard() {
		rb.mu.Unlock()
		return false
	}

	b.consecutiveHard++
	b.hardTotal++
	b.lastError = q.Error

	tripped := rb.cfg.Enabled && b.state == CircuitClosed && b.hardTotal >= rb.Threshold(q.Provider)
	if tripped {
		b.state = CircuitOpen
	}
	count := b.hardTotal
	rb.mu.Unlock()

	if tripped {
		zap.L().Warn("resilience: provider breaker opened",
			zap.String("provider", string(q.Provider)),
			zap.String("kind", string(q.Kind)),
			zap.String("error", q.Error),
			zap.Int("hard_failures", count),
		)
		if rb.cfg.OnTrip != nil {
			rb.cfg.OnTrip(q.Provider, q.Error, count)
		}
	}
	return tripped
}

// Disabled returns the providers whose breakers are open, sorted.
func (rb *RunBreakers) Disabled() []model.ProviderID {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	var out []model.ProviderID
	for id, b := range rb.breakers {
		if b.state == CircuitOpen {
			out = append(out, id)
		}
	}
	model.SortProviders(out)
	return out
}

// Snapshot returns the health state of every provider seen in the run.
func (rb *RunBreakers) Snapshot() []model.ProviderHealthState {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	ids := make([]model.ProviderID, 0, len(rb.breakers))
	for id := range rb.breakers {
		ids = append(ids, id)
	}
	model.SortProviders(ids)
	out := make([]model.ProviderHealthState, 0, len(ids))
	for _, id := range ids {
		b := rb.breakers[id]
		out = append(out, model.ProviderHealthState{
			Provider:        id,
			ConsecutiveHard: b.consecutiveHard,
			HardTotal:       b.hardTotal,
			Disabled:        b.state == CircuitOpen,
			Successes:       b.successes,
			Total:           b.total,
			LastError:       b.lastError,
		})
	}
	return out
}
