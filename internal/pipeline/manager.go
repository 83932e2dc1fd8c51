// Package pipeline contains the event pipeline orchestrator. It owns the
// push path end to end: envelope checks, schema validation, metadata
// enrichment, the redirect-pending detour, and fan-out to the provider
// adapters. Adapters never see an event the manager has not stamped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/metrics"
	"github.com/commercekit/relay/internal/pending"
	"github.com/commercekit/relay/internal/provider"
	"github.com/commercekit/relay/internal/schema"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/storage"
	"github.com/commercekit/relay/internal/trackers"
)

// SchemaVersion is stamped into every enriched envelope so downstream
// consumers can tell which payload contract produced it.
const SchemaVersion = 2

// DefaultEventLogLimit bounds the per-session delivered-event log.
const DefaultEventLogLimit = 500

// ErrValidation is returned from Push in debug mode when the event fails
// schema validation. Production pushes log the failure and deliver anyway.
var ErrValidation = errors.New("event failed validation")

// TransformFunc lets an integrator rewrite or veto an event after
// enrichment and before fan-out. Returning nil drops the event silently.
type TransformFunc func(evt *v1.Event) *v1.Event

// Config tunes the manager. Zero values fall back to the package defaults.
type Config struct {
	SessionTTL    time.Duration
	PendingMaxAge time.Duration
	EventLogLimit int

	// Source is stamped into Metadata.Source on every push.
	Source string
}

func (c *Config) applyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = pending.DefaultMaxAge
	}
	if c.EventLogLimit <= 0 {
		c.EventLogLimit = DefaultEventLogLimit
	}
	if c.Source == "" {
		c.Source = "storefront"
	}
}

// Manager is the pipeline orchestrator. One instance serves all clients;
// per-client state lives in the injected stores.
type Manager struct {
	cfg       Config
	validator *schema.Validator
	sessions  session.Store
	queue     pending.Queue
	adapters  []provider.Adapter
	attrib    *trackers.ListAttributionTracker
	lists     *trackers.ViewItemListTracker
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger

	transform TransformFunc
	archive   storage.Archive

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	enabled  bool
	eventLog map[string][]*v1.Event // session id -> delivered events
}

// NewManager wires the orchestrator. All collaborators are required except
// the transform hook, which SetTransform installs.
func NewManager(
	cfg Config,
	validator *schema.Validator,
	sessions session.Store,
	queue pending.Queue,
	adapters []provider.Adapter,
	attrib *trackers.ListAttributionTracker,
	lists *trackers.ViewItemListTracker,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		validator: validator,
		sessions:  sessions,
		queue:     queue,
		adapters:  adapters,
		attrib:    attrib,
		lists:     lists,
		metrics:   m,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
		newID:     uuid.NewString,
		enabled:   true,
		eventLog:  make(map[string][]*v1.Event),
	}
}

// SetArchive installs the delivered-event archive. Archival is best
// effort: a failing archive is logged and never blocks delivery.
func (m *Manager) SetArchive(a storage.Archive) {
	m.archive = a
}

// SetTransform installs the transform hook. Pass nil to remove it.
func (m *Manager) SetTransform(fn TransformFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform = fn
}

// SetEnabled toggles the whole pipeline. Disabled pushes are counted and
// dropped without error.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Enabled reports whether the pipeline accepts events.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Push runs one event through the pipeline for a client. The sequence is
// fixed: envelope check, session resolution, schema validation, metadata
// stamp, attribution merge, transform hook, then either the pending queue
// (redirect-bound events) or fan-out to every enabled adapter.
func (m *Manager) Push(ctx context.Context, clientKey string, evt *v1.Event) error {
	if !m.Enabled() {
		m.metrics.EventsDropped.WithLabelValues("disabled").Inc()
		return nil
	}
	if evt == nil {
		return fmt.Errorf("event is nil")
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	m.metrics.EventsPushed.WithLabelValues(evt.Name).Inc()

	sessionID := m.resolveSession(ctx, clientKey)
	debug := m.debugEnabled(ctx, clientKey)

	res := m.validator.ValidateEvent(ctx, evt)
	for _, w := range res.Warnings {
		m.logger.Warn("Validation warning", "event", evt.Name, "warning", w)
	}
	if !res.Valid {
		m.metrics.ValidationFailures.WithLabelValues(evt.Name).Inc()
		m.logger.Error("Validation failed", "event", evt.Name, "errors", res.Errors)
		if debug {
			return fmt.Errorf("%w: %s: %v", ErrValidation, evt.Name, res.Errors)
		}
		// Production keeps flowing: a malformed payload is better delivered
		// than silently lost.
	}

	seq, err := m.sessions.NextSequence(ctx, sessionID)
	if err != nil {
		m.logger.Warn("Sequence allocation failed", "session_id", sessionID, "error", err)
	}

	evt.Metadata = &v1.Metadata{
		PushedAt:       m.now().UTC(),
		SessionID:      sessionID,
		SequenceNumber: seq,
		Debug:          debug,
		Source:         m.cfg.Source,
		SchemaVersion:  SchemaVersion,
	}

	m.mergeAttribution(clientKey, evt)

	if fn := m.transformFunc(); fn != nil {
		out := fn(evt)
		if out == nil {
			m.metrics.EventsDropped.WithLabelValues("transform").Inc()
			m.logger.Debug("Event dropped by transform", "event", evt.Name)
			return nil
		}
		evt = out
	}

	if evt.WillRedirect {
		stripped := evt.Clone()
		stripped.WillRedirect = false
		entry := pending.Entry{ID: stripped.ID, Event: stripped, Timestamp: m.now()}
		if err := m.queue.Enqueue(ctx, clientKey, entry); err != nil {
			return fmt.Errorf("queue pending event: %w", err)
		}
		m.metrics.PendingQueued.Inc()
		m.logger.Info("Event queued for post-redirect replay", "event", evt.Name, "event_id", evt.ID)
		return nil
	}

	m.record(sessionID, evt)
	m.deliver(ctx, evt)
	m.archiveDelivered(ctx, evt)
	return nil
}

// ProcessPending drains the client's pending queue and replays every
// non-stale entry through the delivery path. Entries that fail to replay
// are written back so a transient fault does not lose them.
func (m *Manager) ProcessPending(ctx context.Context, clientKey string) error {
	entries, err := m.queue.Drain(ctx, clientKey)
	if err != nil {
		return fmt.Errorf("drain pending events: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	now := m.now()
	var failed []pending.Entry
	for _, entry := range entries {
		if entry.Event == nil {
			continue
		}
		if now.Sub(entry.Timestamp) > m.cfg.PendingMaxAge {
			m.metrics.PendingStale.Inc()
			m.logger.Info("Dropping stale pending event",
				"event", entry.Event.Name, "event_id", entry.ID, "age", now.Sub(entry.Timestamp))
			continue
		}

		if err := m.replay(ctx, entry.Event); err != nil {
			m.logger.Error("Pending replay failed, restoring entry",
				"event", entry.Event.Name, "event_id", entry.ID, "error", err)
			failed = append(failed, entry)
			continue
		}
		m.metrics.PendingReplayed.Inc()
	}

	if len(failed) > 0 {
		if err := m.queue.Restore(ctx, clientKey, failed); err != nil {
			return fmt.Errorf("restore pending events: %w", err)
		}
	}
	return nil
}

// replay delivers one queued event. The envelope was enriched before it
// was queued, so no second metadata stamp happens.
func (m *Manager) replay(ctx context.Context, evt *v1.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
	}()

	if evt.Metadata != nil {
		m.record(evt.Metadata.SessionID, evt)
	}
	m.deliver(ctx, evt)
	m.archiveDelivered(ctx, evt)
	return nil
}

func (m *Manager) archiveDelivered(ctx context.Context, evt *v1.Event) {
	if m.archive == nil {
		return
	}
	err := m.archive.SaveDelivered(ctx, evt)
	if err != nil && !errors.Is(err, storage.ErrDuplicate) {
		m.logger.Error("Archive write failed", "event", evt.Name, "event_id", evt.ID, "error", err)
	}
}

// Pending returns the client's queued entries without draining them.
func (m *Manager) Pending(ctx context.Context, clientKey string) ([]pending.Entry, error) {
	return m.queue.Peek(ctx, clientKey)
}

// Events returns the delivered events recorded for a session, oldest
// first.
func (m *Manager) Events(sessionID string) []*v1.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.eventLog[sessionID]
	out := make([]*v1.Event, len(log))
	for i, evt := range log {
		out[i] = evt.Clone()
	}
	return out
}

// SetDebug persists the debug toggle for a client.
func (m *Manager) SetDebug(ctx context.Context, clientKey string, enabled bool, options map[string]string) error {
	return m.sessions.PutDebug(ctx, clientKey, session.DebugState{Enabled: enabled, Options: options})
}

// SetProviderEnabled toggles one adapter by name. Returns false when no
// adapter carries the name.
func (m *Manager) SetProviderEnabled(name string, enabled bool) bool {
	for _, a := range m.adapters {
		if a.Name() == name {
			a.SetEnabled(enabled)
			return true
		}
	}
	return false
}

// Adapters exposes the adapter list for the debug surface.
func (m *Manager) Adapters() []provider.Adapter {
	return append([]provider.Adapter(nil), m.adapters...)
}

// resolveSession returns the client's session id, reusing and refreshing
// the stored one while it is inside the sliding inactivity window and
// minting a fresh id otherwise. Rotation resets the list-impression dedupe
// for the retired id.
func (m *Manager) resolveSession(ctx context.Context, clientKey string) string {
	now := m.now()

	st, err := m.sessions.Get(ctx, clientKey)
	if err == nil && now.Sub(st.StartedAt) < m.cfg.SessionTTL {
		st.StartedAt = now
		if err := m.sessions.Put(ctx, clientKey, *st); err != nil {
			m.logger.Warn("Session refresh failed", "session_id", st.ID, "error", err)
		}
		return st.ID
	}
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		m.logger.Warn("Session lookup failed, minting new session", "error", err)
	}
	if st != nil {
		// Rotation forgets the client's list impressions so a fresh session
		// fires fresh list views.
		m.lists.Reset(clientKey)
	}

	id := m.newID()
	if err := m.sessions.Put(ctx, clientKey, session.State{ID: id, StartedAt: now}); err != nil {
		m.logger.Warn("Session persist failed", "session_id", id, "error", err)
	}
	return id
}

func (m *Manager) debugEnabled(ctx context.Context, clientKey string) bool {
	d, err := m.sessions.GetDebug(ctx, clientKey)
	if err != nil {
		return false
	}
	return d.Enabled
}

// mergeAttribution copies the active browse context onto item-level events
// that do not carry their own, and clears it once a purchase closes the
// browse journey. An empty attribution object is never attached.
func (m *Manager) mergeAttribution(clientKey string, evt *v1.Event) {
	if evt.Name == v1.EventPurchase {
		defer m.attrib.Clear(clientKey)
	}
	if len(evt.Attribution) > 0 || evt.Ecommerce == nil {
		return
	}

	switch evt.Name {
	case v1.EventViewItem, v1.EventSelectItem, v1.EventAddToCart:
	default:
		return
	}

	a, ok := m.attrib.Get(clientKey)
	if !ok {
		return
	}
	attribution := make(map[string]string, 2)
	if a.ListID != "" {
		attribution["list_id"] = a.ListID
	}
	if a.ListName != "" {
		attribution["list_name"] = a.ListName
	}
	if len(attribution) > 0 {
		evt.Attribution = attribution
	}
}

func (m *Manager) transformFunc() TransformFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transform
}

func (m *Manager) record(sessionID string, evt *v1.Event) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := append(m.eventLog[sessionID], evt.Clone())
	if overflow := len(log) - m.cfg.EventLogLimit; overflow > 0 {
		log = log[overflow:]
	}
	m.eventLog[sessionID] = log
}

// deliver fans the event out to every enabled adapter. One adapter's
// error or panic never reaches its siblings.
func (m *Manager) deliver(ctx context.Context, evt *v1.Event) {
	for _, a := range m.adapters {
		if !a.Enabled() {
			continue
		}
		m.trackOne(ctx, a, evt)
	}
}

func (m *Manager) trackOne(ctx context.Context, a provider.Adapter, evt *v1.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.EventsDelivered.WithLabelValues(a.Name(), "error").Inc()
			m.logger.Error("Adapter panicked", "provider", a.Name(), "event", evt.Name, "panic", r)
		}
	}()

	if err := a.TrackEvent(ctx, evt); err != nil {
		m.metrics.EventsDelivered.WithLabelValues(a.Name(), "error").Inc()
		m.logger.Error("Adapter delivery failed", "provider", a.Name(), "event", evt.Name, "error", err)
		return
	}
	m.metrics.EventsDelivered.WithLabelValues(a.Name(), "ok").Inc()
}
