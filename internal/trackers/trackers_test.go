package trackers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListAttribution_CaptureAndGet(t *testing.T) {
	tr := NewListAttributionTracker()

	_, ok := tr.Get("client-1")
	require.False(t, ok)

	tr.Capture("client-1", "list-1", "Best Sellers")
	a, ok := tr.Get("client-1")
	require.True(t, ok)
	require.Equal(t, "list-1", a.ListID)
	require.Equal(t, "Best Sellers", a.ListName)

	tr.Clear("client-1")
	_, ok = tr.Get("client-1")
	require.False(t, ok)
}

func TestListAttribution_EmptyCaptureIsIgnored(t *testing.T) {
	tr := NewListAttributionTracker()

	tr.Capture("client-1", "", "")
	_, ok := tr.Get("client-1")
	require.False(t, ok)
}

func TestListAttribution_ExpiresAfterTTL(t *testing.T) {
	tr := NewListAttributionTracker()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Capture("client-1", "list-1", "Best Sellers")

	now = now.Add(AttributionTTL - time.Minute)
	_, ok := tr.Get("client-1")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = tr.Get("client-1")
	require.False(t, ok)
}

func TestViewItemList_OncePerSessionPerList(t *testing.T) {
	tr := NewViewItemListTracker()

	require.True(t, tr.MarkSeen("sess-1", "list-1"))
	require.False(t, tr.MarkSeen("sess-1", "list-1"))

	require.True(t, tr.MarkSeen("sess-1", "list-2"))
	require.True(t, tr.MarkSeen("sess-2", "list-1"))
}

func TestViewItemList_ResetForgetsSession(t *testing.T) {
	tr := NewViewItemListTracker()

	require.True(t, tr.MarkSeen("sess-1", "list-1"))
	tr.Reset("sess-1")
	require.True(t, tr.MarkSeen("sess-1", "list-1"))
}

func TestUserData_ChangedOnlyOnIdentityDelta(t *testing.T) {
	tr := NewUserDataTracker()

	require.True(t, tr.Changed("client-1", map[string]string{"email": "jo@example.com"}))
	require.False(t, tr.Changed("client-1", map[string]string{"email": "jo@example.com"}))

	// Case and whitespace do not constitute a change.
	require.False(t, tr.Changed("client-1", map[string]string{"email": " JO@example.com "}))

	require.True(t, tr.Changed("client-1", map[string]string{
		"email": "jo@example.com",
		"phone": "555-0100",
	}))
}

func TestUserData_NonIdentityFieldsAreIgnored(t *testing.T) {
	tr := NewUserDataTracker()

	require.True(t, tr.Changed("client-1", map[string]string{"email": "jo@example.com"}))
	require.False(t, tr.Changed("client-1", map[string]string{
		"email":    "jo@example.com",
		"address1": "12 Main St",
	}))
}
