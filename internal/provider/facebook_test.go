package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

type pixelPayload struct {
	Data []struct {
		EventName  string                 `json:"event_name"`
		EventID    string                 `json:"event_id"`
		CustomData map[string]interface{} `json:"custom_data"`
		UserData   map[string]interface{} `json:"user_data"`
	} `json:"data"`
}

func newFacebookFixture(t *testing.T, cfg FacebookConfig) (*FacebookAdapter, *pixelPayload, func()) {
	t.Helper()

	captured := &pixelPayload{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, captured))
		w.WriteHeader(http.StatusOK)
	}))

	cfg.Enabled = true
	cfg.Endpoint = srv.URL
	if cfg.PixelID == "" {
		cfg.PixelID = "px-1"
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = "token"
	}
	return NewFacebookAdapter(cfg, nil), captured, srv.Close
}

func purchaseEvent(orderID string) *v1.Event {
	return &v1.Event{
		Name: v1.EventPurchase,
		ID:   "evt-1",
		Time: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Ecommerce: &v1.Ecommerce{
			CurrencyCode: "USD",
			Purchase: &v1.ActionBlock{
				ActionField: &v1.ActionField{ID: orderID, Revenue: "100.00"},
				Products:    []v1.Product{{ID: "SKU42", Name: "Premium Bundle", Price: "100.00"}},
			},
		},
	}
}

func TestFacebook_PurchaseDedupIDUsesStoreAndOrder(t *testing.T) {
	a, captured, done := newFacebookFixture(t, FacebookConfig{StoreName: "acme"})
	defer done()

	require.NoError(t, a.TrackEvent(context.Background(), purchaseEvent("ORD9")))

	require.Len(t, captured.Data, 1)
	require.Equal(t, "Purchase", captured.Data[0].EventName)
	require.Equal(t, "acme_ORD9", captured.Data[0].EventID)
	require.Equal(t, float64(100), captured.Data[0].CustomData["value"])
	require.Equal(t, "ORD9", captured.Data[0].CustomData["order_id"])
}

func TestFacebook_DedupIDFallsBackToEventID(t *testing.T) {
	a, captured, done := newFacebookFixture(t, FacebookConfig{})
	defer done()

	evt := &v1.Event{Name: v1.EventAddToCart, ID: "evt-7", Time: time.Now(), Ecommerce: &v1.Ecommerce{
		CurrencyCode: "USD",
		Add: &v1.ActionBlock{
			Products: []v1.Product{{ID: "SKU42", Name: "Premium Bundle", Price: "29.99"}},
		},
	}}
	require.NoError(t, a.TrackEvent(context.Background(), evt))

	require.Len(t, captured.Data, 1)
	require.Equal(t, "AddToCart", captured.Data[0].EventName)
	require.Equal(t, "evt-7", captured.Data[0].EventID)
	require.Equal(t, []interface{}{"SKU42"}, captured.Data[0].CustomData["content_ids"])
}

func TestFacebook_UnmappedEventGoesOutAsCustom(t *testing.T) {
	a, captured, done := newFacebookFixture(t, FacebookConfig{})
	defer done()

	evt := &v1.Event{Name: "dl_exit_intent", ID: "evt-1", Time: time.Now()}
	require.NoError(t, a.TrackEvent(context.Background(), evt))

	require.Len(t, captured.Data, 1)
	require.Equal(t, "dl_exit_intent", captured.Data[0].EventName)
}

func TestFacebook_MissingCredentialsSkipsWithoutError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := NewFacebookAdapter(FacebookConfig{
		Enabled:      true,
		Endpoint:     srv.URL,
		ReadyTimeout: time.Millisecond,
	}, nil)

	require.NoError(t, a.TrackEvent(context.Background(), purchaseEvent("ORD1")))
	require.NoError(t, a.TrackEvent(context.Background(), purchaseEvent("ORD2")))
	require.Equal(t, int32(0), calls.Load())
}

func TestFacebook_SessionIDBecomesExternalID(t *testing.T) {
	a, captured, done := newFacebookFixture(t, FacebookConfig{})
	defer done()

	evt := purchaseEvent("ORD1")
	evt.Metadata = &v1.Metadata{SessionID: "sess-1"}
	evt.UserProperties = map[string]string{"email": "jo@example.com"}
	require.NoError(t, a.TrackEvent(context.Background(), evt))

	require.Equal(t, "sess-1", captured.Data[0].UserData["external_id"])
	require.Equal(t, "jo@example.com", captured.Data[0].UserData["em"])
}
