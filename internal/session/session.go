// Package session manages analytics session identity and the customer
// profile that outlives it. A session id is stable for a sliding
// inactivity window (30 minutes by default); profile data (email, address,
// marketing fields) is keyed by the same client key but never expires with
// the session.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the sliding inactivity window after which a new session id
// is minted.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned when no state exists for a key.
var ErrNotFound = errors.New("session state not found")

// State is the persisted session identity: the id plus the start of the
// current inactivity window.
type State struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// DebugState is the persisted debug-mode toggle.
type DebugState struct {
	Enabled bool              `json:"enabled"`
	Options map[string]string `json:"options,omitempty"`
}

// Store persists per-client session state. Implementations must be safe
// for concurrent use. All errors are advisory to callers: the pipeline
// treats a failing store as "no persisted state" and continues.
type Store interface {
	// Get returns the session state for a client key, or ErrNotFound.
	Get(ctx context.Context, key string) (*State, error)

	// Put stores the session state for a client key, refreshing any
	// backend-side expiry.
	Put(ctx context.Context, key string, st State) error

	// NextSequence returns the next monotonic sequence number for a
	// session id, starting at 1.
	NextSequence(ctx context.Context, sessionID string) (int64, error)

	// Profile returns the persisted customer profile for a client key.
	// A missing profile is an empty map, not an error.
	Profile(ctx context.Context, key string) (map[string]string, error)

	// MergeProfile merges fields into the persisted profile. Empty values
	// are ignored so partial checkout-form state never erases known data.
	MergeProfile(ctx context.Context, key string, fields map[string]string) error

	// IncrementUpsell bumps and returns the per-order upsell counter used
	// to synthesize "<orderID>-US<n>" identifiers.
	IncrementUpsell(ctx context.Context, key, orderID string) (int, error)

	// GetDebug returns the persisted debug-mode state, or ErrNotFound.
	GetDebug(ctx context.Context, key string) (*DebugState, error)

	// PutDebug stores the debug-mode state.
	PutDebug(ctx context.Context, key string, d DebugState) error
}
