package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// WebhookConfig configures the custom webhook adapter.
type WebhookConfig struct {
	Enabled       bool
	Endpoint      string
	BatchSize     int           // flush when the buffer reaches this size
	FlushInterval time.Duration // or when this much time has passed
	MaxAttempts   int           // per-event delivery attempts before giving up
	RetryDelay    time.Duration // linear backoff base: attempt n waits n*delay
}

func (c *WebhookConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
}

type retryEntry struct {
	event    *v1.Event
	attempts int
	dueAt    time.Time
}

// WebhookAdapter buffers events into batches and POSTs them to a
// configured endpoint. A send triggers on whichever comes first, batch
// size or flush interval. Failed events move to a retry queue with
// linear backoff; after MaxAttempts they are dropped permanently with a
// logged error. There is no dead-letter persistence.
type WebhookAdapter struct {
	base
	cfg    WebhookConfig
	client *http.Client

	mu     sync.Mutex
	buffer []*v1.Event
	retry  []retryEntry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWebhookAdapter creates the webhook adapter. Call Start to run the
// flush loop and Close on shutdown to drain the buffer.
func NewWebhookAdapter(cfg WebhookConfig, logger *slog.Logger) *WebhookAdapter {
	cfg.applyDefaults()
	a := &WebhookAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.base.init("custom", cfg.Enabled, logger)
	return a
}

// Start runs the interval flush loop until Close or ctx cancellation.
func (a *WebhookAdapter) Start(ctx context.Context) {
	go func() {
		defer close(a.done)

		ticker := time.NewTicker(a.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			case <-ticker.C:
				a.Flush(ctx)
			}
		}
	}()
}

// Close stops the flush loop and drains whatever is buffered.
func (a *WebhookAdapter) Close(ctx context.Context) {
	a.stopOnce.Do(func() { close(a.stop) })
	select {
	case <-a.done:
	case <-time.After(time.Second):
	}
	a.Flush(ctx)
}

// TrackEvent buffers the event, flushing immediately when the batch is
// full.
func (a *WebhookAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	a.mu.Lock()
	a.buffer = append(a.buffer, evt)
	full := len(a.buffer) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		a.Flush(ctx)
	}
	return nil
}

// Flush sends the current buffer plus any due retries as one batch.
func (a *WebhookAdapter) Flush(ctx context.Context) {
	now := time.Now()

	a.mu.Lock()
	batch := a.buffer
	a.buffer = nil

	attempts := make(map[string]int, len(a.retry))
	var notDue []retryEntry
	for _, r := range a.retry {
		if r.dueAt.After(now) {
			notDue = append(notDue, r)
			continue
		}
		attempts[r.event.ID] = r.attempts
		batch = append(batch, r.event)
	}
	a.retry = notDue
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := a.post(ctx, batch); err != nil {
		a.requeue(batch, attempts, err)
		return
	}
}

func (a *WebhookAdapter) post(ctx context.Context, batch []*v1.Event) error {
	body, err := json.Marshal(map[string]interface{}{
		"events": batch,
		"batch_info": map[string]interface{}{
			"batch_id": uuid.NewString(),
			"size":     len(batch),
			"sent_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return nil
}

// requeue moves failed events into the retry queue, dropping the ones
// that ran out of attempts.
func (a *WebhookAdapter) requeue(batch []*v1.Event, attempts map[string]int, cause error) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, evt := range batch {
		n := attempts[evt.ID] + 1
		if n >= a.cfg.MaxAttempts {
			a.logger.Error("Dropping event after max delivery attempts",
				"event", evt.Name, "event_id", evt.ID, "attempts", n, "error", cause)
			continue
		}
		a.retry = append(a.retry, retryEntry{
			event:    evt,
			attempts: n,
			dueAt:    now.Add(time.Duration(n) * a.cfg.RetryDelay),
		})
	}

	a.logger.Warn("Batch delivery failed, events queued for retry",
		"size", len(batch), "error", cause)
}

// PendingRetries reports the retry queue depth, used by tests and the
// debug surface.
func (a *WebhookAdapter) PendingRetries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.retry)
}
