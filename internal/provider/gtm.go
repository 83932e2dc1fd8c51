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

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// GTMConfig configures the tag-manager adapter.
type GTMConfig struct {
	Enabled bool

	// ForwardURL is an optional server-side container endpoint. When set,
	// every data layer entry is also POSTed there.
	ForwardURL string
}

// GTMAdapter feeds an append-only data layer consumed by the tag-management
// system. Before every ecommerce event it pushes an entry that nulls the
// reserved ecommerce key: the consumption model merges pushes, and without
// the reset a previous event's items leak into the next one.
type GTMAdapter struct {
	base
	forwardURL string
	client     *http.Client

	mu    sync.Mutex
	layer []map[string]interface{}
}

// NewGTMAdapter creates the tag-manager adapter.
func NewGTMAdapter(cfg GTMConfig, logger *slog.Logger) *GTMAdapter {
	a := &GTMAdapter{
		forwardURL: cfg.ForwardURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
	a.base.init("gtm", cfg.Enabled, logger)
	return a
}

// TrackEvent pushes the event onto the data layer.
func (a *GTMAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	return a.sendEvent(ctx, evt)
}

func (a *GTMAdapter) sendEvent(ctx context.Context, evt *v1.Event) error {
	entry := map[string]interface{}{
		"event":      evt.Name,
		"event_id":   evt.ID,
		"event_time": evt.Time,
	}
	if len(evt.UserProperties) > 0 {
		entry["user_properties"] = evt.UserProperties
	}
	if evt.Metadata != nil {
		entry["_metadata"] = evt.Metadata
	}
	if len(evt.Attribution) > 0 {
		entry["attribution"] = evt.Attribution
	}

	ec := ecommerceData(evt)

	a.mu.Lock()
	if ec != nil {
		// Reset must precede the push so merged state never carries the
		// previous event's items.
		a.layer = append(a.layer, map[string]interface{}{"ecommerce": nil})
		entry["ecommerce"] = ec
	}
	a.layer = append(a.layer, entry)
	a.mu.Unlock()

	if a.forwardURL == "" {
		return nil
	}
	if err := a.forward(ctx, entry); err != nil {
		a.logger.Error("Forward to container failed", "event", evt.Name, "error", err)
		return err
	}
	return nil
}

func (a *GTMAdapter) forward(ctx context.Context, entry map[string]interface{}) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.forwardURL, bytes.NewReader(body))
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
		return fmt.Errorf("container responded %d", resp.StatusCode)
	}
	return nil
}

// DataLayer returns a snapshot of the pushed entries, oldest first.
func (a *GTMAdapter) DataLayer() []map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]interface{}(nil), a.layer...)
}
