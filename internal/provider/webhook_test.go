package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]string
	fail    int // number of requests to reject before succeeding
}

func (s *batchSink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.fail > 0 {
			s.fail--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Events []struct {
				ID string `json:"event_id"`
			} `json:"events"`
			BatchInfo struct {
				BatchID string `json:"batch_id"`
				Size    int    `json:"size"`
			} `json:"batch_info"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ids := make([]string, len(payload.Events))
		for i, e := range payload.Events {
			ids[i] = e.ID
		}
		s.batches = append(s.batches, ids)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *batchSink) received() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.batches...)
}

func webhookEvent(id string) *v1.Event {
	return &v1.Event{Name: v1.EventPageView, ID: id, Time: time.Now()}
}

func TestWebhook_FlushesWhenBatchFills(t *testing.T) {
	sink := &batchSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a := NewWebhookAdapter(WebhookConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		BatchSize:     2,
		FlushInterval: time.Hour,
	}, nil)
	ctx := context.Background()

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-1")))
	require.Empty(t, sink.received(), "a partial batch must not flush")

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-2")))
	require.Equal(t, [][]string{{"evt-1", "evt-2"}}, sink.received())
}

func TestWebhook_CloseDrainsBuffer(t *testing.T) {
	sink := &batchSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a := NewWebhookAdapter(WebhookConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		BatchSize:     10,
		FlushInterval: time.Hour,
	}, nil)
	ctx := context.Background()
	a.Start(ctx)

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-1")))
	a.Close(ctx)

	require.Equal(t, [][]string{{"evt-1"}}, sink.received())
}

func TestWebhook_FailedBatchRetriesAfterBackoff(t *testing.T) {
	sink := &batchSink{fail: 1}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a := NewWebhookAdapter(WebhookConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
	}, nil)
	ctx := context.Background()

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-1")))
	require.Equal(t, 1, a.PendingRetries())
	require.Empty(t, sink.received())

	time.Sleep(10 * time.Millisecond)
	a.Flush(ctx)

	require.Equal(t, 0, a.PendingRetries())
	require.Equal(t, [][]string{{"evt-1"}}, sink.received())
}

func TestWebhook_DropsEventAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewWebhookAdapter(WebhookConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxAttempts:   2,
		RetryDelay:    time.Millisecond,
	}, nil)
	ctx := context.Background()

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-1")))
	require.Equal(t, 1, a.PendingRetries())

	time.Sleep(10 * time.Millisecond)
	a.Flush(ctx)

	require.Equal(t, 0, a.PendingRetries(), "the event ran out of attempts and must be gone")
}

func TestWebhook_RetryNotDueStaysQueued(t *testing.T) {
	sink := &batchSink{fail: 1}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	a := NewWebhookAdapter(WebhookConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxAttempts:   3,
		RetryDelay:    time.Hour,
	}, nil)
	ctx := context.Background()

	require.NoError(t, a.TrackEvent(ctx, webhookEvent("evt-1")))
	a.Flush(ctx)

	require.Equal(t, 1, a.PendingRetries())
	require.Empty(t, sink.received())
}
