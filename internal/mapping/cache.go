// Package mapping learns and applies per-source field mappings. A mapping is
// learned once per source from sample records, persisted, and reused on every
// subsequent run until invalidated.
package mapping

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// ErrMappingMiss is returned when no mapping exists for a source.
var ErrMappingMiss = eris.New("mapping: no mapping for source")

// Store persists learned mappings across process restarts.
type Store interface {
	FieldMapping(ctx context.Context, sourceCode string) (*model.FieldMapping, error)
	SaveFieldMapping(ctx context.Context, m *model.FieldMapping) error
	DeleteFieldMapping(ctx context.Context, sourceCode string) error
}

// Cache fronts the mapping store with an in-process copy so the hot path
// never touches the database.
type Cache struct {
	store Store

	mu       sync.RWMutex
	mappings map[string]*model.FieldMapping
}

// NewCache creates a Cache backed by the given store.
func NewCache(store Store) *Cache {
	return &Cache{
		store:    store,
		mappings: make(map[string]*model.FieldMapping),
	}
}

// Get returns the mapping for a source, loading it from the store on first
// access. Returns ErrMappingMiss when none has been learned.
func (c *Cache) Get(ctx context.Context, sourceCode string) (*model.FieldMapping, error) {
	c.mu.RLock()
	m, ok := c.mappings[sourceCode]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := c.store.FieldMapping(ctx, sourceCode)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.Wrapf(ErrMappingMiss, "source %s", sourceCode)
	}

	c.mu.Lock()
	c.mappings[sourceCode] = m
	c.mu.Unlock()
	return m, nil
}

// Put persists a mapping and installs it in the in-process cache.
func (c *Cache) Put(ctx context.Context, m *model.FieldMapping) error {
	if err := c.store.SaveFieldMapping(ctx, m); err != nil {
		return eris.Wrapf(err, "save mapping for %s", m.SourceCode)
	}
	c.mu.Lock()
	c.mappings[m.SourceCode] = m
	c.mu.Unlock()
	return nil
}

// Invalidate drops a source's mapping from both cache and store so the next
// run re-learns it.
func (c *Cache) Invalidate(ctx context.Context, sourceCode string) error {
	c.mu.Lock()
	delete(c.mappings, sourceCode)
	c.mu.Unlock()
	return c.store.DeleteFieldMapping(ctx, sourceCode)
}

// Has reports whether a mapping is available without loading it into cache.
func (c *Cache) Has(ctx context.Context, sourceCode string) bool {
	_, err := c.Get(ctx, sourceCode)
	return err == nil
}
