// Package governor bounds how many candidate groups and provider attempts run
// at once.
package governor

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/resale-arb/internal/model"
)

const (
	// DefaultGlobal caps concurrent group evaluations.
	DefaultGlobal = 3
	// DefaultProvider caps concurrent attempts for providers with no
	// configured limit.
	DefaultProvider = 2
	minLimit        = 1
	maxLimit        = 12
)

// DefaultProviderLimits returns the built-in per-provider caps. MPB and
// TrendDevice drive a single browser session each; Rebuy tolerates more.
func DefaultProviderLimits() map[model.ProviderID]int {
	return map[model.ProviderID]int{
		model.ProviderMPB:         1,
		model.ProviderTrendDevice: 2,
		model.ProviderRebuy:       4,
	}
}

// Clamp bounds n to the supported limit range.
func Clamp(n int) int {
	if n < minLimit {
		return minLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// Governor holds the global and per-provider admission semaphores for one run.
type Governor struct {
	global *semaphore.Weighted
	limits map[model.ProviderID]int

	mu        sync.Mutex
	providers map[model.ProviderID]*semaphore.Weighted
}

// New creates a Governor. Provider limits missing from limits use
// DefaultProvider; all limits are clamped.
func New(global int, limits map[model.ProviderID]int) *Governor {
	l := make(map[model.ProviderID]int, len(limits))
	for id, n := range limits {
		l[id] = Clamp(n)
	}
	return &Governor{
		global:    semaphore.NewWeighted(int64(Clamp(global))),
		limits:    l,
		providers: make(map[model.ProviderID]*semaphore.Weighted),
	}
}

// Limit returns the effective cap for provider.
func (g *Governor) Limit(provider model.ProviderID) int {
	if n, ok := g.limits[provider]; ok {
		return n
	}
	return DefaultProvider
}

func (g *Governor) provider(id model.ProviderID) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.providers[id]
	if !ok {
		s = semaphore.NewWeighted(int64(g.Limit(id)))
		g.providers[id] = s
	}
	return s
}

// AcquireGlobal blocks until a global token is free or ctx is done. The
// returned release is safe to call more than once.
func (g *Governor) AcquireGlobal(ctx context.Context) (func(), error) {
	return acquire(ctx, g.global, "global")
}

// AcquireProvider blocks until a token for provider is free or ctx is done.
func (g *Governor) AcquireProvider(ctx context.Context, provider model.ProviderID) (func(), error) {
	return acquire(ctx, g.provider(provider), string(provider))
}

func acquire(ctx context.Context, s *semaphore.Weighted, name string) (func(), error) {
	if err := s.Acquire(ctx, 1); err != nil {
		return func() {}, eris.Wrapf(err, "governor: acquire %s", name)
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(1) }) }, nil
}
