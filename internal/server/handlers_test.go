package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/bus"
	"github.com/commercekit/relay/internal/events"
	"github.com/commercekit/relay/internal/listener"
	"github.com/commercekit/relay/internal/metrics"
	"github.com/commercekit/relay/internal/pending"
	"github.com/commercekit/relay/internal/pipeline"
	"github.com/commercekit/relay/internal/provider"
	"github.com/commercekit/relay/internal/schema"
	yamlformat "github.com/commercekit/relay/internal/schema/formats/yaml"
	schemaStorage "github.com/commercekit/relay/internal/schema/storage"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/stores"
	"github.com/commercekit/relay/internal/trackers"
)

type sinkAdapter struct {
	events []*v1.Event
}

func (a *sinkAdapter) Name() string    { return "sink" }
func (a *sinkAdapter) Enabled() bool   { return true }
func (a *sinkAdapter) SetEnabled(bool) {}
func (a *sinkAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	a.events = append(a.events, evt)
	return nil
}

func newTestServer(t *testing.T) (*Server, *sinkAdapter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := schema.NewRegistry(schemaStorage.NewMemoryRepository())
	require.NoError(t, schema.RegisterBuiltins(context.Background(), registry))
	formats := schema.NewFormatRegistry()
	formats.RegisterFormat(schema.FormatYaml, yamlformat.NewCompiler(), yamlformat.NewValidator())

	adapter := &sinkAdapter{}
	sessions := session.NewMemoryStore()
	attrib := trackers.NewListAttributionTracker()
	lists := trackers.NewViewItemListTracker()

	manager := pipeline.NewManager(
		pipeline.Config{},
		schema.NewValidator(registry, formats),
		sessions,
		pending.NewMemoryQueue(),
		[]provider.Adapter{adapter},
		attrib,
		lists,
		metrics.NewWith(prometheus.NewRegistry()),
		nil,
	)

	catalog := &stores.StaticCatalog{CurrencyCode: "USD"}
	builder := events.NewBuilder(catalog)
	l := listener.New(
		manager,
		events.NewEcommerceEvents(builder, sessions),
		events.NewUserEvents(builder),
		sessions,
		attrib,
		lists,
		trackers.NewUserDataTracker(),
		nil,
	)
	actionBus := bus.New(nil)
	l.Register(actionBus)

	return New("127.0.0.1:0", "release", manager, actionBus, Options{}), adapter
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine.ServeHTTP(w, req)
	return w
}

func TestActionHandler_RunsListenersInline(t *testing.T) {
	s, adapter := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/actions", `{
		"session_id": "client-1",
		"topic": "cart:item-added",
		"payload": {"line": {"package_id": 42, "name": "Bundle", "price": 29.99, "quantity": 1}}
	}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, adapter.events, 1)
	require.Equal(t, v1.EventAddToCart, adapter.events[0].Name)
}

func TestActionHandler_MissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/actions", `{"topic": "cart:item-added"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/actions", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "request body is required")
}

func TestEventHandler_PushesPrebuiltEvent(t *testing.T) {
	s, adapter := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/events", `{
		"client_key": "client-1",
		"event": {
			"event": "custom_survey_answered",
			"event_id": "evt-9",
			"event_time": "2026-08-30T12:00:00Z",
			"data": {"answer": "yes"}
		}
	}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, adapter.events, 1)
	require.Equal(t, "custom_survey_answered", adapter.events[0].Name)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "evt-9", resp["event_id"])
}

func TestEventHandler_EnvelopeErrors(t *testing.T) {
	s, _ := newTestServer(t)

	// Missing event_id fails the envelope check.
	w := doJSON(t, s, http.MethodPost, "/v1/events", `{
		"client_key": "client-1",
		"event": {"event": "custom_thing", "event_time": "2026-08-30T12:00:00Z"}
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandler_DebugModeRejectsInvalid(t *testing.T) {
	s, adapter := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/debug", `{"client_key": "client-1", "enabled": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	// A purchase without its purchase block is a validation failure, hard
	// in debug mode.
	w = doJSON(t, s, http.MethodPost, "/v1/events", `{
		"client_key": "client-1",
		"event": {
			"event": "dl_purchase",
			"event_id": "evt-1",
			"event_time": "2026-08-30T12:00:00Z",
			"ecommerce": {"currencyCode": "USD"}
		}
	}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Empty(t, adapter.events)
}

func TestSessionEventsHandler_FallsBackToMemoryLog(t *testing.T) {
	s, adapter := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/actions", `{
		"session_id": "client-1",
		"topic": "page:view",
		"payload": {"location": "https://shop.example/"}
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, adapter.events, 1)
	sessionID := adapter.events[0].Metadata.SessionID

	w = doJSON(t, s, http.MethodGet, "/v1/sessions/"+sessionID+"/events", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string      `json:"session_id"`
		Events    []*v1.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, sessionID, resp.SessionID)
	require.Len(t, resp.Events, 1)
	require.Equal(t, v1.EventPageView, resp.Events[0].Name)
}

func TestSessionEventsHandler_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/v1/sessions/sess-1/events?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/sessions/sess-1/events?limit=-2", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPendingHandler_PeeksWithoutConsuming(t *testing.T) {
	s, adapter := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/events", `{
		"client_key": "client-1",
		"event": {
			"event": "custom_redirecting",
			"event_id": "evt-1",
			"event_time": "2026-08-30T12:00:00Z",
			"_willRedirect": true
		}
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Empty(t, adapter.events)

	for i := 0; i < 2; i++ {
		w = doJSON(t, s, http.MethodGet, "/v1/sessions/client-1/pending", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Pending []struct {
				ID string `json:"id"`
			} `json:"pending"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Pending, 1)
	}
}

func TestProviderToggleHandler(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/providers/sink", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/providers/ghost", `{"enabled": true}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}

func TestBindJSON_BodyTooLarge(t *testing.T) {
	s, _ := newTestServer(t)

	padding := strings.Repeat("x", 2*1024*1024)
	w := doJSON(t, s, http.MethodPost, "/v1/actions",
		`{"session_id": "client-1", "topic": "page:view", "payload": {"pad": "`+padding+`"}}`)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
