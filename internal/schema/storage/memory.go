package storage

import (
	"context"
	"sync"

	"github.com/commercekit/relay/internal/schema"
)

// MemoryRepository is an in-memory implementation of the schema repository.
// Holds the builtin schema set in production and doubles as the test double.
type MemoryRepository struct {
	mu      sync.RWMutex
	schemas map[schema.Key]*schema.Schema
}

// NewMemoryRepository creates a new in-memory schema repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schemas: make(map[schema.Key]*schema.Schema),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *schema.Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.Key()
	if _, exists := r.schemas[key]; exists {
		return schema.ErrAlreadyExists
	}

	cp := *s
	r.schemas[key] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, key schema.Key) (*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.schemas[key]
	if !exists {
		return nil, schema.ErrNotFound
	}

	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) Latest(ctx context.Context, event string) (*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *schema.Schema
	for _, s := range r.schemas {
		if s.Event != event {
			continue
		}
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	if latest == nil {
		return nil, schema.ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context, event string) ([]*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*schema.Schema
	for _, s := range r.schemas {
		if event != "" && s.Event != event {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, key schema.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[key]; !exists {
		return schema.ErrNotFound
	}

	delete(r.schemas, key)
	return nil
}
