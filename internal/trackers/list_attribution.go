// Package trackers holds the passive observers that watch page and
// identity context and feed it into the pipeline: list attribution,
// list-impression dedupe, and user-identity change detection.
package trackers

import (
	"sync"
	"time"
)

// AttributionTTL is how long a captured browse context stays applicable to
// item-level events before it expires.
const AttributionTTL = 30 * time.Minute

// Attribution records which browse/collection context a product was viewed
// or added from.
type Attribution struct {
	ListID     string
	ListName   string
	capturedAt time.Time
}

// ListAttributionTracker caches the active browse context per client. Set
// when a list is entered, applied to subsequent item-level events, cleared
// on purchase, expired after AttributionTTL.
type ListAttributionTracker struct {
	mu      sync.Mutex
	entries map[string]Attribution
	ttl     time.Duration
	now     func() time.Time
}

// NewListAttributionTracker creates a tracker with the default TTL.
func NewListAttributionTracker() *ListAttributionTracker {
	return &ListAttributionTracker{
		entries: make(map[string]Attribution),
		ttl:     AttributionTTL,
		now:     time.Now,
	}
}

// Capture records the browse context for a client.
func (t *ListAttributionTracker) Capture(key, listID, listName string) {
	if listID == "" && listName == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = Attribution{ListID: listID, ListName: listName, capturedAt: t.now()}
}

// Get returns the active browse context, or false when none is set or the
// entry has expired.
func (t *ListAttributionTracker) Get(key string) (Attribution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.entries[key]
	if !ok {
		return Attribution{}, false
	}
	if t.now().Sub(a.capturedAt) > t.ttl {
		delete(t.entries, key)
		return Attribution{}, false
	}
	return a, true
}

// Clear drops the browse context, typically after a purchase completes.
func (t *ListAttributionTracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}
