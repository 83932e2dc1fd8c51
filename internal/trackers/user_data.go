package trackers

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// UserDataTracker detects changes in the customer identity fields so the
// pipeline fires a user-data event only when something actually changed,
// not on every checkout-form keystroke flush.
type UserDataTracker struct {
	mu         sync.Mutex
	lastHashes map[string]string // client key -> identity hash
}

// NewUserDataTracker creates an empty tracker.
func NewUserDataTracker() *UserDataTracker {
	return &UserDataTracker{lastHashes: make(map[string]string)}
}

// identityFields are the profile keys that constitute identity for change
// detection. Address lines churn too much to be useful signals.
var identityFields = []string{"email", "phone", "first_name", "last_name", "customer_id"}

// Changed reports whether the identity portion of the profile differs from
// the last observation, updating the stored hash when it does.
func (t *UserDataTracker) Changed(key string, profile map[string]string) bool {
	hash := hashIdentity(profile)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastHashes[key] == hash {
		return false
	}
	t.lastHashes[key] = hash
	return true
}

func hashIdentity(profile map[string]string) string {
	parts := make([]string, 0, len(identityFields))
	for _, f := range identityFields {
		if v := profile[f]; v != "" {
			parts = append(parts, f+"="+strings.ToLower(strings.TrimSpace(v)))
		}
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:])
}
