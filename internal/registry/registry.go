// Package registry resolves source codes to the adapters that scrape them.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
)

// ErrUnknownSource is returned when no adapter is registered for a code.
var ErrUnknownSource = eris.New("registry: unknown source")

// Adapter is the capability set every source implementation must provide.
// Adapters honor the proxy tier handed to them for all network operations.
type Adapter interface {
	FetchCurrent(ctx context.Context, tier proxy.Tier) ([]model.RawRecord, error)
	FetchHistorical(ctx context.Context, tier proxy.Tier, rng model.DateRange) ([]model.RawRecord, error)
	CheckHealth(ctx context.Context) (model.HealthStatus, error)
}

// Registry holds one adapter per source, keyed by source code.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	sources  map[string]model.Source
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		sources:  make(map[string]model.Source),
	}
}

// Register binds an adapter to a source. Re-registering a code replaces the
// previous adapter.
func (r *Registry) Register(src model.Source, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[src.Code] = a
	r.sources[src.Code] = src
}

// Resolve returns the adapter for a source code.
func (r *Registry) Resolve(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "%s", code)
	}
	return a, nil
}

// Source returns the registered source config for a code.
func (r *Registry) Source(code string) (model.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[code]
	if !ok {
		return model.Source{}, eris.Wrapf(ErrUnknownSource, "%s", code)
	}
	return src, nil
}

// ListByTier returns the codes of all registered sources in a tier, sorted
// for deterministic scheduling.
func (r *Registry) ListByTier(tier int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var codes []string
	for code, src := range r.sources {
		if src.Tier == tier {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Sources returns all registered sources sorted by tier then code.
func (r *Registry) Sources() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
