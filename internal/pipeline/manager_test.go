package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/metrics"
	"github.com/commercekit/relay/internal/pending"
	"github.com/commercekit/relay/internal/provider"
	"github.com/commercekit/relay/internal/schema"
	yamlformat "github.com/commercekit/relay/internal/schema/formats/yaml"
	schemaStorage "github.com/commercekit/relay/internal/schema/storage"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/trackers"
)

// captureAdapter records delivered events and can be told to fail or
// panic.
type captureAdapter struct {
	name    string
	enabled bool
	events  []*v1.Event
	err     error
	panics  bool
}

func (a *captureAdapter) Name() string            { return a.name }
func (a *captureAdapter) Enabled() bool           { return a.enabled }
func (a *captureAdapter) SetEnabled(enabled bool) { a.enabled = enabled }
func (a *captureAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	if a.panics {
		panic("adapter exploded")
	}
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, evt)
	return nil
}

type fixture struct {
	manager  *Manager
	adapter  *captureAdapter
	queue    *pending.MemoryQueue
	sessions *session.MemoryStore
	attrib   *trackers.ListAttributionTracker
	clock    *time.Time
}

func newFixture(t *testing.T, extra ...provider.Adapter) *fixture {
	t.Helper()

	registry := schema.NewRegistry(schemaStorage.NewMemoryRepository())
	require.NoError(t, schema.RegisterBuiltins(context.Background(), registry))
	formats := schema.NewFormatRegistry()
	formats.RegisterFormat(schema.FormatYaml, yamlformat.NewCompiler(), yamlformat.NewValidator())
	validator := schema.NewValidator(registry, formats)

	// The capture adapter sits last so misbehaving extras run before it.
	adapter := &captureAdapter{name: "capture", enabled: true}
	adapters := append(append([]provider.Adapter{}, extra...), adapter)

	sessions := session.NewMemoryStore()
	queue := pending.NewMemoryQueue()
	attrib := trackers.NewListAttributionTracker()

	m := NewManager(
		Config{},
		validator,
		sessions,
		queue,
		adapters,
		attrib,
		trackers.NewViewItemListTracker(),
		metrics.NewWith(prometheus.NewRegistry()),
		nil,
	)

	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}

	return &fixture{manager: m, adapter: adapter, queue: queue, sessions: sessions, attrib: attrib, clock: &clock}
}

func testEvent(name string) *v1.Event {
	return &v1.Event{
		Name: name,
		ID:   "evt-" + name + fmt.Sprintf("-%d", time.Now().UnixNano()),
		Time: time.Date(2026, 8, 30, 11, 59, 0, 0, time.UTC),
	}
}

func TestPush_StampsMetadataWithMonotonicSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	}

	require.Len(t, f.adapter.events, 3)
	for i, evt := range f.adapter.events {
		md := evt.Metadata
		require.NotNil(t, md)
		require.Equal(t, "session-1", md.SessionID)
		require.Equal(t, int64(i+1), md.SequenceNumber)
		require.Equal(t, "storefront", md.Source)
		require.Equal(t, SchemaVersion, md.SchemaVersion)
		require.False(t, md.PushedAt.IsZero())
	}
}

func TestPush_SessionRotatesAfterInactivityWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	*f.clock = f.clock.Add(31 * time.Minute)
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))

	require.Len(t, f.adapter.events, 2)
	first := f.adapter.events[0].Metadata
	second := f.adapter.events[1].Metadata
	require.Equal(t, "session-1", first.SessionID)
	require.Equal(t, "session-2", second.SessionID)
	require.Equal(t, int64(1), second.SequenceNumber)
}

func TestPush_SessionRefreshesWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	*f.clock = f.clock.Add(20 * time.Minute)
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	*f.clock = f.clock.Add(20 * time.Minute)
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))

	// Each push slides the window, so 40 minutes of cumulative activity
	// with 20-minute gaps keeps one session.
	for _, evt := range f.adapter.events {
		require.Equal(t, "session-1", evt.Metadata.SessionID)
	}
}

func TestPush_RedirectBoundEventIsQueuedNotDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := testEvent(v1.EventAcceptedUpsell)
	evt.WillRedirect = true
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: "USD",
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{ID: "ORD1-US1", Revenue: "19.99"},
			Products:    []v1.Product{{ID: "42", Name: "Bundle", Price: "19.99"}},
		},
	}

	require.NoError(t, f.manager.Push(ctx, "client-1", evt))
	require.Empty(t, f.adapter.events)

	entries, err := f.queue.Peek(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Event.WillRedirect, "redirect flag must be stripped before queueing")
}

func TestProcessPending_ReplaysExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := testEvent(v1.EventAcceptedUpsell)
	evt.WillRedirect = true
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: "USD",
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{ID: "ORD1-US1", Revenue: "19.99"},
			Products:    []v1.Product{{ID: "42", Name: "Bundle", Price: "19.99"}},
		},
	}
	require.NoError(t, f.manager.Push(ctx, "client-1", evt))

	require.NoError(t, f.manager.ProcessPending(ctx, "client-1"))
	require.Len(t, f.adapter.events, 1)
	require.Equal(t, v1.EventAcceptedUpsell, f.adapter.events[0].Name)

	// A second replay pass finds an empty queue.
	require.NoError(t, f.manager.ProcessPending(ctx, "client-1"))
	require.Len(t, f.adapter.events, 1)
}

func TestProcessPending_DropsStaleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := testEvent(v1.EventPurchase)
	evt.WillRedirect = true
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: "USD",
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{ID: "ORD1", Revenue: "10.00"},
			Products:    []v1.Product{{ID: "42", Name: "Bundle", Price: "10.00"}},
		},
	}
	require.NoError(t, f.manager.Push(ctx, "client-1", evt))

	*f.clock = f.clock.Add(6 * time.Minute)
	require.NoError(t, f.manager.ProcessPending(ctx, "client-1"))

	require.Empty(t, f.adapter.events)
	entries, err := f.queue.Peek(ctx, "client-1")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDeliver_AdapterFailureDoesNotStopSiblings(t *testing.T) {
	failing := &captureAdapter{name: "failing", enabled: true, err: fmt.Errorf("boom")}
	panicking := &captureAdapter{name: "panicking", enabled: true, panics: true}
	f := newFixture(t, failing, panicking)
	ctx := context.Background()

	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))

	require.Len(t, f.adapter.events, 1)
}

func TestDeliver_DisabledAdapterIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.adapter.SetEnabled(false)
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	require.Empty(t, f.adapter.events)
}

func TestPush_TransformCanDropSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.SetTransform(func(evt *v1.Event) *v1.Event {
		if evt.Name == v1.EventPageView {
			return nil
		}
		return evt
	})

	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventLogin)))

	require.Len(t, f.adapter.events, 1)
	require.Equal(t, v1.EventLogin, f.adapter.events[0].Name)
}

func TestPush_DisabledPipelineDropsWithoutError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.SetEnabled(false)
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	require.Empty(t, f.adapter.events)
}

func TestPush_MergesActiveListAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.attrib.Capture("client-1", "list-1", "Best Sellers")

	evt := testEvent(v1.EventViewItem)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: "USD",
		Detail: &v1.ActionBlock{
			Products: []v1.Product{{ID: "42", Name: "Bundle", Price: "29.99"}},
		},
	}
	require.NoError(t, f.manager.Push(ctx, "client-1", evt))

	require.Len(t, f.adapter.events, 1)
	delivered := f.adapter.events[0]
	require.Equal(t, "list-1", delivered.Attribution["list_id"])
	require.Equal(t, "Best Sellers", delivered.Attribution["list_name"])
}

func TestPush_PurchaseClearsAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.attrib.Capture("client-1", "list-1", "Best Sellers")

	purchase := testEvent(v1.EventPurchase)
	purchase.Ecommerce = &v1.Ecommerce{
		CurrencyCode: "USD",
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{ID: "ORD1", Revenue: "10.00"},
			Products:    []v1.Product{{ID: "42", Name: "Bundle", Price: "10.00"}},
		},
	}
	require.NoError(t, f.manager.Push(ctx, "client-1", purchase))

	_, ok := f.attrib.Get("client-1")
	require.False(t, ok)
}

func TestPush_NonCommerceEventNeverGetsAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.attrib.Capture("client-1", "list-1", "Best Sellers")
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))

	require.Len(t, f.adapter.events, 1)
	require.Nil(t, f.adapter.events[0].Attribution, "empty attribution must never be attached")
}

func TestPush_DebugModeMakesValidationHard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.SetDebug(ctx, "client-1", true, nil))

	bad := testEvent(v1.EventPurchase)
	bad.Ecommerce = &v1.Ecommerce{CurrencyCode: "USD"}

	err := f.manager.Push(ctx, "client-1", bad)
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.adapter.events)

	// Production mode logs and keeps flowing.
	require.NoError(t, f.manager.SetDebug(ctx, "client-1", false, nil))
	bad2 := testEvent(v1.EventPurchase)
	bad2.Ecommerce = &v1.Ecommerce{CurrencyCode: "USD"}
	require.NoError(t, f.manager.Push(ctx, "client-1", bad2))
	require.Len(t, f.adapter.events, 1)
}

func TestEvents_RecordsPerSessionLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventPageView)))
	require.NoError(t, f.manager.Push(ctx, "client-1", testEvent(v1.EventLogin)))

	log := f.manager.Events("session-1")
	require.Len(t, log, 2)
	require.Equal(t, v1.EventPageView, log[0].Name)
	require.Equal(t, v1.EventLogin, log[1].Name)
}

func TestSetProviderEnabled(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.manager.SetProviderEnabled("capture", false))
	require.False(t, f.adapter.Enabled())
	require.False(t, f.manager.SetProviderEnabled("missing", true))
}
