package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// facebookEventNames maps canonical names to pixel event names. Unmapped
// events go out as custom events under their own name.
var facebookEventNames = map[string]string{
	v1.EventPageView:       "PageView",
	v1.EventViewItem:       "ViewContent",
	v1.EventViewItemList:   "ViewContent",
	v1.EventAddToCart:      "AddToCart",
	v1.EventBeginCheckout:  "InitiateCheckout",
	v1.EventPurchase:       "Purchase",
	v1.EventAcceptedUpsell: "Purchase",
	v1.EventSignUp:         "CompleteRegistration",
	v1.EventLogin:          "Login",
}

// FacebookConfig configures the Conversions API adapter.
type FacebookConfig struct {
	Enabled     bool
	PixelID     string
	AccessToken string

	// StoreName, when set, derives a deterministic Purchase dedup id from
	// store name + order number so the pixel and server events coalesce.
	StoreName string

	// Endpoint overrides the Graph API base URL. Tests point it at a
	// local server.
	Endpoint string

	ReadyTimeout time.Duration
}

// FacebookAdapter delivers events to the Conversions API. Delivery waits
// for a one-time readiness probe with a bounded timeout; a pixel that
// never comes up downgrades every send to a logged skip.
type FacebookAdapter struct {
	base
	cfg    FacebookConfig
	client *http.Client

	readyOnce sync.Once
	readyErr  error

	// probe is overridable for tests; the default only checks config.
	probe func(ctx context.Context) error
}

// NewFacebookAdapter creates the Conversions API adapter.
func NewFacebookAdapter(cfg FacebookConfig, logger *slog.Logger) *FacebookAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://graph.facebook.com/v18.0"
	}
	a := &FacebookAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	a.base.init("facebook", cfg.Enabled, logger)
	a.probe = a.defaultProbe
	return a
}

func (a *FacebookAdapter) defaultProbe(ctx context.Context) error {
	if a.cfg.PixelID == "" || a.cfg.AccessToken == "" {
		return fmt.Errorf("pixel id and access token not configured")
	}
	return nil
}

// TrackEvent delivers one event, fire-and-forget.
func (a *FacebookAdapter) TrackEvent(ctx context.Context, evt *v1.Event) error {
	return a.sendEvent(ctx, evt)
}

func (a *FacebookAdapter) sendEvent(ctx context.Context, evt *v1.Event) error {
	a.readyOnce.Do(func() {
		a.readyErr = waitReady(ctx, a.cfg.ReadyTimeout, a.probe)
	})
	if a.readyErr != nil {
		// A missing pixel is a skip, not an error: nothing is queued and
		// siblings are unaffected.
		a.logger.Warn("Pixel never became ready, skipping", "event", evt.Name)
		return nil
	}

	pixelName, mapped := facebookEventNames[evt.Name]
	if !mapped {
		pixelName = evt.Name
	}

	payload := map[string]interface{}{
		"event_name":    pixelName,
		"event_time":    evt.Time.Unix(),
		"event_id":      a.dedupID(evt, pixelName),
		"action_source": "website",
	}
	if evt.Context != nil && evt.Context.Location != "" {
		payload["event_source_url"] = evt.Context.Location
	}
	if custom := a.customData(evt); len(custom) > 0 {
		payload["custom_data"] = custom
	}
	if user := a.userData(evt); len(user) > 0 {
		payload["user_data"] = user
	}

	body, err := json.Marshal(map[string]interface{}{"data": []interface{}{payload}})
	if err != nil {
		a.logger.Error("Encode failed", "event", evt.Name, "error", err)
		return nil
	}

	url := fmt.Sprintf("%s/%s/events?access_token=%s", a.cfg.Endpoint, a.cfg.PixelID, a.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("Delivery failed", "event", evt.Name, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("conversions api responded %d", resp.StatusCode)
		a.logger.Error("Delivery rejected", "event", evt.Name, "error", err)
		return err
	}
	return nil
}

// dedupID picks the cross-system dedup identifier: for Purchase with a
// configured store name, store name + order number, deterministic across
// the pixel and this server path; otherwise the envelope's event id.
func (a *FacebookAdapter) dedupID(evt *v1.Event, pixelName string) string {
	if pixelName == "Purchase" && a.cfg.StoreName != "" {
		if af := purchaseActionField(evt); af != nil && af.ID != "" {
			return a.cfg.StoreName + "_" + af.ID
		}
	}
	return evt.ID
}

func (a *FacebookAdapter) customData(evt *v1.Event) map[string]interface{} {
	ec := evt.Ecommerce
	if ec == nil {
		return nil
	}

	custom := map[string]interface{}{
		"currency": ec.CurrencyCode,
	}
	if ec.Value != "" {
		if f, err := strconv.ParseFloat(ec.Value, 64); err == nil {
			custom["value"] = f
		}
	}
	if af := purchaseActionField(evt); af != nil {
		if af.Revenue != "" {
			if f, err := strconv.ParseFloat(af.Revenue, 64); err == nil {
				custom["value"] = f
			}
		}
		if af.ID != "" {
			custom["order_id"] = af.ID
		}
	}

	var ids []string
	for _, block := range []*v1.ActionBlock{ec.Add, ec.Click, ec.Remove, ec.Detail, ec.Checkout, ec.Purchase} {
		if block == nil {
			continue
		}
		for _, p := range block.Products {
			ids = append(ids, p.ID)
		}
	}
	for _, p := range ec.Impressions {
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		custom["content_ids"] = ids
		custom["content_type"] = "product"
	}
	return custom
}

func (a *FacebookAdapter) userData(evt *v1.Event) map[string]interface{} {
	user := make(map[string]interface{})
	if email := evt.UserProperties["email"]; email != "" {
		user["em"] = email
	}
	if phone := evt.UserProperties["phone"]; phone != "" {
		user["ph"] = phone
	}
	if sid := sessionID(evt); sid != "" {
		user["external_id"] = sid
	}
	return user
}
