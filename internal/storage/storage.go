// Package storage defines the delivered-event archive contract. The
// archive is an audit trail: every event that completed fan-out is
// persisted so delivery disputes with providers can be settled from our
// own records.
package storage

import (
	"context"
	"errors"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same (session, id) pair
// was already archived. Callers treat it as success: replay paths may
// archive the same event twice.
var ErrDuplicate = errors.New("event already archived")

// Archive persists delivered events and serves them back per session.
type Archive interface {
	// SaveDelivered archives one delivered event. Returns ErrDuplicate when
	// the (session_id, event_id) pair exists.
	SaveDelivered(ctx context.Context, evt *v1.Event) error

	// EventsBySession returns a session's archived events in delivery
	// order, capped at limit.
	EventsBySession(ctx context.Context, sessionID string, limit int) ([]*v1.Event, error)

	// Close releases the underlying connections.
	Close() error
}
