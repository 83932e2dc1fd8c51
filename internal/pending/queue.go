// Package pending implements the durable queue that carries redirect-bound
// events across a full-page navigation. Events land here instead of being
// delivered live, and the next page load drains the queue exactly once
// before any new event is pushed.
package pending

import (
	"context"
	"time"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// DefaultMaxAge is how old a queued entry may be at drain time before it is
// dropped as stale. An abandoned checkout should not fire analytics when
// the shopper wanders back later.
const DefaultMaxAge = 5 * time.Minute

// Entry is one queued event plus the bookkeeping needed for staleness and
// defensive restore.
type Entry struct {
	ID        string    `json:"id"`
	Event     *v1.Event `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is the durable per-client pending-event store. Entries survive a
// page navigation within the same client key, not across clients.
type Queue interface {
	// Enqueue appends an entry to the client's stored list.
	Enqueue(ctx context.Context, key string, e Entry) error

	// Drain reads and clears the client's stored list in one step. A
	// concurrent second drain must observe an empty list.
	Drain(ctx context.Context, key string) ([]Entry, error)

	// Restore writes entries back after a failed processing attempt so a
	// delivery exception does not lose them.
	Restore(ctx context.Context, key string, entries []Entry) error

	// Peek returns the stored list without clearing it.
	Peek(ctx context.Context, key string) ([]Entry, error)
}
