package schema

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCacheCapacity is the default number of schemas to cache.
const DefaultCacheCapacity = 256

// Registry provides schema lookup with caching. Lookups resolve the latest
// registered version for an event name; explicit versions go through Get.
type Registry struct {
	repo  Repository
	cache *LRUCache
}

// NewRegistry creates a new schema registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:  repo,
		cache: NewLRUCache(DefaultCacheCapacity),
	}
}

// Register validates inputs and stores a new schema definition.
func (r *Registry) Register(ctx context.Context, event string, version int, format Format, definition []byte, builtin bool) (*Schema, error) {
	if event == "" {
		return nil, fmt.Errorf("event is required")
	}
	if version < 1 {
		return nil, fmt.Errorf("version must be >= 1")
	}
	if len(definition) == 0 {
		return nil, fmt.Errorf("definition is required")
	}

	s := &Schema{
		Event:       event,
		Version:     version,
		Format:      format,
		Definition:  definition,
		Fingerprint: ComputeFingerprint(definition),
		Builtin:     builtin,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	r.cache.Put(s)
	return s, nil
}

// Get retrieves one exact schema version.
func (r *Registry) Get(ctx context.Context, event string, version int) (*Schema, error) {
	key := Key{Event: event, Version: version}
	if s := r.cache.Get(key); s != nil {
		return s, nil
	}

	s, err := r.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	r.cache.Put(s)
	return s, nil
}

// Lookup retrieves the latest schema for an event name. Returns ErrNotFound
// when no schema is registered; callers treat that as "validation skipped",
// never as a delivery blocker.
func (r *Registry) Lookup(ctx context.Context, event string) (*Schema, error) {
	s, err := r.repo.Latest(ctx, event)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schema lookup for %q: %w", event, err)
	}
	return s, nil
}

// Invalidate drops a schema from the lookup cache, forcing a repository
// re-read on next access.
func (r *Registry) Invalidate(event string, version int) {
	r.cache.Invalidate(Key{Event: event, Version: version})
}
