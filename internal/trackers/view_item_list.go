package trackers

import "sync"

// ViewItemListTracker dedupes list-impression events: a given list fires
// one view_item_list per session, no matter how often reactive UI updates
// re-render it.
type ViewItemListTracker struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{} // session id -> list ids
}

// NewViewItemListTracker creates an empty tracker.
func NewViewItemListTracker() *ViewItemListTracker {
	return &ViewItemListTracker{seen: make(map[string]map[string]struct{})}
}

// MarkSeen records a list impression. Returns true if this is the first
// time the list was seen in the session.
func (t *ViewItemListTracker) MarkSeen(sessionID, listID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lists, ok := t.seen[sessionID]
	if !ok {
		lists = make(map[string]struct{})
		t.seen[sessionID] = lists
	}
	if _, dup := lists[listID]; dup {
		return false
	}
	lists[listID] = struct{}{}
	return true
}

// Reset forgets a session's impressions, called when its id rotates.
func (t *ViewItemListTracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, sessionID)
}
