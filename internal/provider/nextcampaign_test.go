package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (r *pathRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestNextCampaign_OnlyPageViewsAreForwarded(t *testing.T) {
	rec := &pathRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	a := NewNextCampaignAdapter(NextCampaignConfig{
		Enabled:  true,
		APIKey:   "key",
		Endpoint: srv.URL,
	}, nil)
	ctx := context.Background()

	require.NoError(t, a.TrackEvent(ctx, &v1.Event{Name: v1.EventAddToCart, ID: "evt-1", Time: time.Now()}))
	require.Empty(t, rec.seen())

	require.NoError(t, a.TrackEvent(ctx, &v1.Event{Name: v1.EventPageView, ID: "evt-2", Time: time.Now()}))
	require.Equal(t, []string{"/v1/init", "/v1/events"}, rec.seen())
}

func TestNextCampaign_InitializesExactlyOnce(t *testing.T) {
	rec := &pathRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	a := NewNextCampaignAdapter(NextCampaignConfig{
		Enabled:  true,
		APIKey:   "key",
		Endpoint: srv.URL,
	}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.TrackEvent(ctx, &v1.Event{Name: v1.EventPageView, ID: "evt", Time: time.Now()}))
	}

	require.Equal(t, []string{"/v1/init", "/v1/events", "/v1/events", "/v1/events"}, rec.seen())
}

func TestNextCampaign_UnconfiguredSkipsSilently(t *testing.T) {
	a := NewNextCampaignAdapter(NextCampaignConfig{Enabled: true}, nil)

	err := a.TrackEvent(context.Background(), &v1.Event{Name: v1.EventPageView, ID: "evt-1", Time: time.Now()})
	require.NoError(t, err)
}
