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

// NextCampaignConfig configures the campaign-tracking adapter.
type NextCampaignConfig struct {
	Enabled  bool
	APIKey   string
	Endpoint string
}

// NextCampaignAdapter forwards page views to the campaign vendor. The
// vendor session is initialized lazily exactly once with the API key.
// Every other event type is intentionally dropped: the vendor only
// attributes page-level traffic, and adapter filtering is opaque to the
// orchestrator, which still counts the event as delivered.
type NextCampaignAdapter struct {
	base
	cfg    NextCampaignConfig
	client *http.Client

	initOnce sync.Once
	initErr  error
}

// NewNextCampaignAdapter creates the campaign-tracking adapter.
func NewNextCampaignAdapter(cfg NextCampaignConfig, logger *slog.Logger) *NextCampaignAdapter {
	a := &NextCampaignAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	a.base.init("nextcampaign", cfg.Enabled, logger)
	return a
}

// TrackEvent forwards page views and drops everything else.
func (a *NextCampaignAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	return a.sendEvent(ctx, evt)
}

func (a *NextCampaignAdapter) sendEvent(ctx context.Context, evt *v1.Event) error {
	if evt.Name != v1.EventPageView {
		return nil
	}

	a.initOnce.Do(func() {
		a.initErr = a.initialize(ctx)
		if a.initErr != nil {
			a.logger.Error("Initialization failed", "error", a.initErr)
		}
	})
	if a.initErr != nil {
		return nil
	}

	payload := map[string]interface{}{
		"event":      "page_view",
		"event_id":   evt.ID,
		"event_time": evt.Time.Format(time.RFC3339),
	}
	if sid := sessionID(evt); sid != "" {
		payload["session_id"] = sid
	}
	if evt.Context != nil {
		payload["url"] = evt.Context.Location
		payload["referrer"] = evt.Context.Referrer
	}

	if err := a.post(ctx, "/v1/events", payload); err != nil {
		a.logger.Error("Delivery failed", "event", evt.Name, "error", err)
		return err
	}
	return nil
}

func (a *NextCampaignAdapter) initialize(ctx context.Context) error {
	if a.cfg.APIKey == "" || a.cfg.Endpoint == "" {
		return fmt.Errorf("api key and endpoint not configured")
	}
	return a.post(ctx, "/v1/init", map[string]interface{}{"api_key": a.cfg.APIKey})
}

func (a *NextCampaignAdapter) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("vendor responded %d", resp.StatusCode)
	}
	return nil
}
