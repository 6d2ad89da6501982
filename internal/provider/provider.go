// Package provider defines the valuation provider contract, the static
// category routing table and the registry that resolves it.
package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resale-arb/internal/model"
)

// Provider obtains a resale quote for one candidate and one query string.
// Ordinary failures are reported inside the returned Quote (Error and Kind),
// never as a Go error. Callers enforce the timeout through ctx.
type Provider interface {
	ID() model.ProviderID
	// AcceptsIdentifier reports whether the provider can look items up by a
	// barcode (EAN/GTIN) query.
	AcceptsIdentifier() bool
	Valuate(ctx context.Context, c model.Candidate, query string) model.Quote
}

var dispatch = map[model.Category][]model.ProviderID{
	model.CategoryPhotography:     {model.ProviderMPB, model.ProviderRebuy},
	model.CategoryApplePhone:      {model.ProviderTrendDevice, model.ProviderRebuy},
	model.CategorySmartwatch:      {model.ProviderTrendDevice, model.ProviderRebuy},
	model.CategoryDrone:           {model.ProviderMPB, model.ProviderRebuy},
	model.CategoryHandheldConsole: {model.ProviderRebuy},
	model.CategoryGeneralTech:     {model.ProviderRebuy},
}

// ForCategory returns the providers that quote cat, in preference order.
// Unknown categories route like general_tech.
func ForCategory(cat model.Category) []model.ProviderID {
	ids, ok := dispatch[cat]
	if !ok {
		ids = dispatch[model.CategoryGeneralTech]
	}
	out := make([]model.ProviderID, len(ids))
	copy(out, ids)
	return out
}

// Known reports whether id is one of the enumerated providers.
func Known(id model.ProviderID) bool {
	switch id {
	case model.ProviderMPB, model.ProviderRebuy, model.ProviderTrendDevice:
		return true
	default:
		return false
	}
}

// Registry holds provider instances by ID.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.ProviderID]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[model.ProviderID]Provider)}
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p, replacing any provider with the same ID.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return eris.New("provider: register nil provider")
	}
	if !Known(p.ID()) {
		return eris.Errorf("provider: unknown provider id %q", p.ID())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	return nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id model.ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// For resolves the routing table for cat against the registered providers.
// Providers in the table that are not registered are left out.
func (r *Registry) For(cat model.Category) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, id := range ForCategory(cat) {
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// IDs returns the registered provider IDs, sorted.
func (r *Registry) IDs() []model.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]model.ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	model.SortProviders(ids)
	return ids
}
