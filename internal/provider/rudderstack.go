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

// rudderTaxonomy maps canonical names to the human-readable ecommerce
// taxonomy the destination catalogs understand.
var rudderTaxonomy = map[string]string{
	v1.EventViewItem:       "Product Viewed",
	v1.EventViewItemList:   "Product List Viewed",
	v1.EventSelectItem:     "Product Clicked",
	v1.EventAddToCart:      "Product Added",
	v1.EventRemoveFromCart: "Product Removed",
	v1.EventViewCart:       "Cart Viewed",
	v1.EventBeginCheckout:  "Checkout Started",
	v1.EventPurchase:       "Order Completed",
	v1.EventAcceptedUpsell: "Order Completed",
	v1.EventSignUp:         "Signed Up",
	v1.EventLogin:          "Signed In",
}

// RudderStackConfig configures the RudderStack adapter.
type RudderStackConfig struct {
	Enabled      bool
	DataPlaneURL string
	WriteKey     string
	ReadyTimeout time.Duration
}

// RudderStackAdapter delivers track/page/identify calls to a RudderStack
// data plane. When an event carries contact fields an identify call goes
// out ahead of the track call.
type RudderStackAdapter struct {
	base
	cfg    RudderStackConfig
	client *http.Client

	readyOnce sync.Once
	readyErr  error
	probe     func(ctx context.Context) error
}

// NewRudderStackAdapter creates the RudderStack adapter.
func NewRudderStackAdapter(cfg RudderStackConfig, logger *slog.Logger) *RudderStackAdapter {
	a := &RudderStackAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	a.base.init("rudderstack", cfg.Enabled, logger)
	a.probe = a.defaultProbe
	return a
}

func (a *RudderStackAdapter) defaultProbe(ctx context.Context) error {
	if a.cfg.DataPlaneURL == "" || a.cfg.WriteKey == "" {
		return fmt.Errorf("data plane url and write key not configured")
	}
	return nil
}

// TrackEvent delivers one event.
func (a *RudderStackAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	return a.sendEvent(ctx, evt)
}

func (a *RudderStackAdapter) sendEvent(ctx context.Context, evt *v1.Event) error {
	a.readyOnce.Do(func() {
		a.readyErr = waitReady(ctx, a.cfg.ReadyTimeout, a.probe)
	})
	if a.readyErr != nil {
		a.logger.Warn("Data plane never became ready, skipping", "event", evt.Name)
		return nil
	}

	if a.hasContactFields(evt) {
		if err := a.identify(ctx, evt); err != nil {
			a.logger.Error("Identify failed", "event", evt.Name, "error", err)
		}
	}

	if evt.Name == v1.EventPageView {
		return a.call(ctx, "page", a.pagePayload(evt), evt.Name)
	}
	return a.call(ctx, "track", a.trackPayload(evt), evt.Name)
}

func (a *RudderStackAdapter) hasContactFields(evt *v1.Event) bool {
	return evt.UserProperties["email"] != "" || evt.UserProperties["phone"] != ""
}

func (a *RudderStackAdapter) trackPayload(evt *v1.Event) map[string]interface{} {
	name, mapped := rudderTaxonomy[evt.Name]
	if !mapped {
		name = evt.Name
	}

	payload := map[string]interface{}{
		"event":     name,
		"messageId": evt.ID,
		"timestamp": evt.Time.Format(time.RFC3339),
	}
	if sid := sessionID(evt); sid != "" {
		payload["anonymousId"] = sid
	}
	if props := ecommerceData(evt); props != nil {
		payload["properties"] = props
	}
	return payload
}

func (a *RudderStackAdapter) pagePayload(evt *v1.Event) map[string]interface{} {
	payload := map[string]interface{}{
		"messageId": evt.ID,
		"timestamp": evt.Time.Format(time.RFC3339),
	}
	if sid := sessionID(evt); sid != "" {
		payload["anonymousId"] = sid
	}
	props := make(map[string]interface{})
	if evt.Context != nil {
		if evt.Context.Location != "" {
			props["url"] = evt.Context.Location
		}
		if evt.Context.Referrer != "" {
			props["referrer"] = evt.Context.Referrer
		}
		if evt.Context.Title != "" {
			props["title"] = evt.Context.Title
		}
	}
	if len(props) > 0 {
		payload["properties"] = props
	}
	return payload
}

func (a *RudderStackAdapter) identify(ctx context.Context, evt *v1.Event) error {
	traits := make(map[string]interface{}, len(evt.UserProperties))
	for k, v := range evt.UserProperties {
		traits[k] = v
	}

	payload := map[string]interface{}{
		"traits":    traits,
		"timestamp": evt.Time.Format(time.RFC3339),
	}
	if sid := sessionID(evt); sid != "" {
		payload["anonymousId"] = sid
	}
	if email := evt.UserProperties["email"]; email != "" {
		payload["userId"] = email
	}
	return a.call(ctx, "identify", payload, evt.Name)
}

func (a *RudderStackAdapter) call(ctx context.Context, kind string, payload map[string]interface{}, eventName string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("Encode failed", "event", eventName, "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.DataPlaneURL+"/v1/"+kind, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.cfg.WriteKey, "")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("Delivery failed", "event", eventName, "call", kind, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("data plane responded %d", resp.StatusCode)
		a.logger.Error("Delivery rejected", "event", eventName, "call", kind, "error", err)
		return err
	}
	return nil
}
