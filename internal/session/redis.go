package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix   = "relay:session:"
	seqKeyPrefix     = "relay:seq:"
	profileKeyPrefix = "relay:profile:"
	upsellKeyPrefix  = "relay:upsell:"
	debugKeyPrefix   = "relay:debug:"

	// upsellTTL bounds the per-order upsell counters; the offer flow is
	// minutes long, not days.
	upsellTTL = time.Hour
)

// RedisStore is the Redis-backed Store used when the relay runs as more
// than one instance. Session and sequence keys carry the configured TTL;
// profiles are persisted without one.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store. ttl <= 0 falls back
// to DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*State, error) {
	raw, err := s.client.Get(ctx, stateKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		// Corrupt persisted state counts as no state.
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (s *RedisStore) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	key := seqKeyPrefix + sessionID
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("session sequence: %w", err)
	}
	// The counter dies with the session; refresh alongside it.
	s.client.Expire(ctx, key, s.ttl)
	return n, nil
}

func (s *RedisStore) Profile(ctx context.Context, key string) (map[string]string, error) {
	profile, err := s.client.HGetAll(ctx, profileKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	return profile, nil
}

func (s *RedisStore) MergeProfile(ctx context.Context, key string, fields map[string]string) error {
	filtered := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		filtered[k] = v
	}
	if len(filtered) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, profileKeyPrefix+key, filtered).Err(); err != nil {
		return fmt.Errorf("profile merge: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementUpsell(ctx context.Context, key, orderID string) (int, error) {
	counterKey := upsellKeyPrefix + key + ":" + orderID
	n, err := s.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("upsell counter: %w", err)
	}
	s.client.Expire(ctx, counterKey, upsellTTL)
	return int(n), nil
}

func (s *RedisStore) GetDebug(ctx context.Context, key string) (*DebugState, error) {
	raw, err := s.client.Get(ctx, debugKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("debug get: %w", err)
	}

	var d DebugState
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *RedisStore) PutDebug(ctx context.Context, key string, d DebugState) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("debug encode: %w", err)
	}
	if err := s.client.Set(ctx, debugKeyPrefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("debug put: %w", err)
	}
	return nil
}
