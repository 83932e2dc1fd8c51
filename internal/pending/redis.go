package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "relay:pending:"

	// storageTTL caps how long an unclaimed queue lingers. Well past the
	// staleness cutoff; drain-time policy decides what actually fires.
	storageTTL = time.Hour
)

// RedisQueue stores each client's pending list as one JSON array value,
// mirroring the single-storage-key contract of the original queue.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a Redis-backed pending queue.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, key string, e Entry) error {
	entries, err := q.load(ctx, key)
	if err != nil {
		return err
	}
	return q.store(ctx, key, append(entries, e))
}

func (q *RedisQueue) Drain(ctx context.Context, key string) ([]Entry, error) {
	raw, err := q.client.GetDel(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending drain: %w", err)
	}
	return decode(raw)
}

func (q *RedisQueue) Restore(ctx context.Context, key string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	current, err := q.load(ctx, key)
	if err != nil {
		return err
	}
	return q.store(ctx, key, append(append([]Entry(nil), entries...), current...))
}

func (q *RedisQueue) Peek(ctx context.Context, key string) ([]Entry, error) {
	return q.load(ctx, key)
}

func (q *RedisQueue) load(ctx context.Context, key string) ([]Entry, error) {
	raw, err := q.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending load: %w", err)
	}
	return decode(raw)
}

func (q *RedisQueue) store(ctx context.Context, key string, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("pending encode: %w", err)
	}
	if err := q.client.Set(ctx, keyPrefix+key, raw, storageTTL).Err(); err != nil {
		return fmt.Errorf("pending store: %w", err)
	}
	return nil
}

func decode(raw []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Corrupt storage is treated as no persisted state.
		return nil, nil
	}
	return entries, nil
}
