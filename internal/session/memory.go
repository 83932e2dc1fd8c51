package session

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store used for tests and single-instance
// deployments.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]State
	sequences map[string]int64
	profiles  map[string]map[string]string
	upsells   map[string]int
	debug     map[string]DebugState
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]State),
		sequences: make(map[string]int64),
		profiles:  make(map[string]map[string]string),
		upsells:   make(map[string]int),
		debug:     make(map[string]DebugState),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = st
	return nil
}

func (s *MemoryStore) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[sessionID]++
	return s.sequences[sessionID], nil
}

func (s *MemoryStore) Profile(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := make(map[string]string, len(s.profiles[key]))
	for k, v := range s.profiles[key] {
		profile[k] = v
	}
	return profile, nil
}

func (s *MemoryStore) MergeProfile(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[key]
	if !ok {
		profile = make(map[string]string, len(fields))
		s.profiles[key] = profile
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		profile[k] = v
	}
	return nil
}

func (s *MemoryStore) IncrementUpsell(ctx context.Context, key, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counterKey := key + ":" + orderID
	s.upsells[counterKey]++
	return s.upsells[counterKey], nil
}

func (s *MemoryStore) GetDebug(ctx context.Context, key string) (*DebugState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debug[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) PutDebug(ctx context.Context, key string, d DebugState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.debug[key] = d
	return nil
}
