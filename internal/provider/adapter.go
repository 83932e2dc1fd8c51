// Package provider contains the destination adapters. Each adapter
// transforms the canonical envelope into one provider's wire format and
// performs the delivery call. Failures never propagate: an adapter that
// cannot deliver logs and returns, and the orchestrator's fan-out loop is
// unaffected.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/commercekit/relay/internal/api/v1"
)

// ErrNotReady is returned by readiness probes that time out. Callers treat
// it as a skip for that one provider, not a failure of the pipeline.
var ErrNotReady = errors.New("provider not ready")

// DefaultReadyTimeout bounds how long an adapter waits for its destination
// to come up before skipping delivery.
const DefaultReadyTimeout = 5 * time.Second

// Adapter is the closed capability every destination implements. The
// orchestrator iterates a typed list of these; there is no runtime shape
// sniffing.
type Adapter interface {
	// Name identifies the adapter in logs and metrics.
	Name() string

	// Enabled reports whether the adapter should receive events.
	Enabled() bool

	// SetEnabled toggles the adapter at runtime.
	SetEnabled(enabled bool)

	// TrackEvent delivers one event. Implementations swallow transport
	// errors internally and return them only for observability; returning
	// an error never stops sibling adapters.
	TrackEvent(ctx context.Context, evt *v1.Event) error
}

// base carries the state and helpers shared by every adapter.
type base struct {
	name    string
	enabled atomic.Bool
	logger  *slog.Logger
}

func (b *base) init(name string, enabled bool, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.name = name
	b.logger = logger.With("provider", name)
	b.enabled.Store(enabled)
}

func (b *base) Name() string { return b.name }

func (b *base) Enabled() bool { return b.enabled.Load() }

func (b *base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// ecommerceData normalizes the envelope's commerce payload: the structured
// ecommerce object when present, else the legacy free-form data map.
// Returns nil for events with neither.
func ecommerceData(evt *v1.Event) map[string]interface{} {
	if evt.Ecommerce != nil {
		return ecommerceToMap(evt.Ecommerce)
	}
	if len(evt.Data) > 0 {
		return evt.Data
	}
	return nil
}

func ecommerceToMap(ec *v1.Ecommerce) map[string]interface{} {
	m := map[string]interface{}{
		"currencyCode": ec.CurrencyCode,
	}
	if ec.Value != "" {
		m["value"] = ec.Value
	}
	for name, block := range map[string]*v1.ActionBlock{
		"add": ec.Add, "click": ec.Click, "remove": ec.Remove,
		"detail": ec.Detail, "checkout": ec.Checkout, "purchase": ec.Purchase,
	} {
		if block != nil {
			m[name] = blockToMap(block)
		}
	}
	if len(ec.Impressions) > 0 {
		imps := make([]interface{}, 0, len(ec.Impressions))
		for _, p := range ec.Impressions {
			imps = append(imps, productToMap(p))
		}
		m["impressions"] = imps
	}
	return m
}

func blockToMap(block *v1.ActionBlock) map[string]interface{} {
	m := make(map[string]interface{}, 2)
	if af := block.ActionField; af != nil {
		fields := make(map[string]interface{})
		put := func(k, v string) {
			if v != "" {
				fields[k] = v
			}
		}
		put("id", af.ID)
		put("list", af.List)
		put("action", af.Action)
		put("revenue", af.Revenue)
		put("tax", af.Tax)
		put("shipping", af.Shipping)
		put("sub_total", af.SubTotal)
		put("coupon", af.Coupon)
		if af.Step > 0 {
			fields["step"] = af.Step
		}
		m["actionField"] = fields
	}
	products := make([]interface{}, 0, len(block.Products))
	for _, p := range block.Products {
		products = append(products, productToMap(p))
	}
	m["products"] = products
	return m
}

func productToMap(p v1.Product) map[string]interface{} {
	m := map[string]interface{}{
		"id":    p.ID,
		"name":  p.Name,
		"price": p.Price,
	}
	if p.Quantity > 0 {
		m["quantity"] = p.Quantity
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("category", p.Category)
	put("brand", p.Brand)
	put("variant", p.Variant)
	put("list", p.List)
	put("image", p.Image)
	if p.Position > 0 {
		m["position"] = p.Position
	}
	return m
}

// purchaseActionField returns the purchase descriptor when the event is
// purchase-shaped, else nil.
func purchaseActionField(evt *v1.Event) *v1.ActionField {
	if evt.Ecommerce == nil || evt.Ecommerce.Purchase == nil {
		return nil
	}
	return evt.Ecommerce.Purchase.ActionField
}

// waitReady polls probe until it succeeds, the timeout elapses, or ctx is
// cancelled. A timeout yields ErrNotReady: the destination never loading
// must not block or fail the pipeline, so callers skip delivery.
func waitReady(ctx context.Context, timeout time.Duration, probe func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := probe(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sessionID extracts the enriched session id, "" when metadata is absent.
func sessionID(evt *v1.Event) string {
	if evt.Metadata == nil {
		return ""
	}
	return evt.Metadata.SessionID
}
