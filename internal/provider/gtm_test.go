package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

func commerceEvent() *v1.Event {
	return &v1.Event{
		Name: v1.EventAddToCart,
		ID:   "evt-1",
		Time: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Ecommerce: &v1.Ecommerce{
			CurrencyCode: "USD",
			Add: &v1.ActionBlock{
				Products: []v1.Product{{ID: "SKU42", Name: "Premium Bundle", Price: "29.99", Quantity: 1}},
			},
		},
	}
}

func TestGTM_ResetEntryPrecedesEcommercePush(t *testing.T) {
	a := NewGTMAdapter(GTMConfig{Enabled: true}, nil)

	require.NoError(t, a.TrackEvent(context.Background(), commerceEvent()))

	layer := a.DataLayer()
	require.Len(t, layer, 2)

	reset, ok := layer[0]["ecommerce"]
	require.True(t, ok)
	require.Nil(t, reset)

	require.Equal(t, v1.EventAddToCart, layer[1]["event"])
	require.NotNil(t, layer[1]["ecommerce"])
}

func TestGTM_NonCommerceEventPushesWithoutReset(t *testing.T) {
	a := NewGTMAdapter(GTMConfig{Enabled: true}, nil)

	evt := &v1.Event{Name: v1.EventPageView, ID: "evt-1", Time: time.Now()}
	require.NoError(t, a.TrackEvent(context.Background(), evt))

	layer := a.DataLayer()
	require.Len(t, layer, 1)
	require.Equal(t, v1.EventPageView, layer[0]["event"])
	require.NotContains(t, layer[0], "ecommerce")
}

func TestGTM_ForwardsEntryToContainer(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewGTMAdapter(GTMConfig{Enabled: true, ForwardURL: srv.URL}, nil)
	require.NoError(t, a.TrackEvent(context.Background(), commerceEvent()))

	require.Equal(t, v1.EventAddToCart, received["event"])
	require.Equal(t, "evt-1", received["event_id"])
}

func TestGTM_ForwardFailureStillRecordsEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewGTMAdapter(GTMConfig{Enabled: true, ForwardURL: srv.URL}, nil)
	err := a.TrackEvent(context.Background(), commerceEvent())

	require.Error(t, err)
	require.Len(t, a.DataLayer(), 2)
}
