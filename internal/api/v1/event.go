package v1

import (
	"fmt"
	"time"
)

// Prefix is the stable namespace prepended to every canonical event name.
const Prefix = "dl_"

// Canonical event names produced by the factories. Provider adapters key
// their wire-format lookups off these, so they are part of the public
// contract and must not change between versions.
const (
	EventPageView       = "dl_page_view"
	EventViewItem       = "dl_view_item"
	EventViewItemList   = "dl_view_item_list"
	EventSelectItem     = "dl_select_item"
	EventAddToCart      = "dl_add_to_cart"
	EventRemoveFromCart = "dl_remove_from_cart"
	EventViewCart       = "dl_view_cart"
	EventPackageSwapped = "dl_package_swapped"
	EventBeginCheckout  = "dl_begin_checkout"
	EventPurchase       = "dl_purchase"
	EventViewedUpsell   = "dl_viewed_upsell"
	EventAcceptedUpsell = "dl_accepted_upsell"
	EventSkippedUpsell  = "dl_skipped_upsell"
	EventUserData       = "dl_user_data"
	EventSignUp         = "dl_sign_up"
	EventLogin          = "dl_login"
	EventExitIntent     = "dl_exit_intent"
)

// Event is the canonical envelope pushed through the pipeline. Factories
// construct it once; the pipeline manager enriches it exactly once with
// Metadata and attribution before fan-out. After delivery it is discarded:
// events are never retried or mutated post-delivery.
type Event struct {
	// Name identifies the schema and the provider routing for this event.
	// Always carries the "dl_" prefix for factory-built events; unprefixed
	// names are treated as integrator-defined custom events.
	Name string `json:"event"`

	// ID is a globally unique identifier minted at creation time. Providers
	// use it as an idempotent dedup key (e.g. the Facebook Purchase eventID).
	ID string `json:"event_id"`

	// Time is the creation instant, not the delivery instant.
	Time time.Time `json:"event_time"`

	// UserProperties carries customer identity, address and marketing
	// consent fields merged from checkout state and the profile store.
	// Never required to be complete; empty map is valid.
	UserProperties map[string]string `json:"user_properties,omitempty"`

	// Ecommerce holds the action-specific commerce payload. Nil for
	// non-commerce events (sign-up, exit-intent, ...).
	Ecommerce *Ecommerce `json:"ecommerce,omitempty"`

	// Data is the legacy free-form payload used by custom events that
	// predate the ecommerce envelope. Adapters normalize Ecommerce vs Data
	// into one shape before formatting.
	Data map[string]interface{} `json:"data,omitempty"`

	// Context captures the originating page environment.
	Context *PageContext `json:"context,omitempty"`

	// Metadata is the system envelope stamped by the pipeline manager on
	// push. Factories must leave it nil.
	Metadata *Metadata `json:"_metadata,omitempty"`

	// Attribution is list-attribution data merged in by the manager when
	// the attribution tracker has an active entry. Omitted entirely when
	// empty; an empty object must never be sent downstream.
	Attribution map[string]string `json:"attribution,omitempty"`

	// WillRedirect marks an event whose delivery must be deferred past an
	// imminent full navigation. Transient: the manager strips it before the
	// event is queued, and it never appears on a delivered event.
	WillRedirect bool `json:"_willRedirect,omitempty"`
}

// PageContext captures where the event originated.
type PageContext struct {
	Location  string `json:"page_location,omitempty"`
	Referrer  string `json:"page_referrer,omitempty"`
	Title     string `json:"page_title,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Viewport  string `json:"viewport,omitempty"`
}

// Metadata is the system-added envelope. Added by the pipeline manager,
// never by the factories.
type Metadata struct {
	PushedAt       time.Time `json:"pushed_at"`
	SessionID      string    `json:"session_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Debug          bool      `json:"debug_mode,omitempty"`
	Source         string    `json:"event_source"`
	SchemaVersion  int       `json:"schema_version"`
}

// Ecommerce is the commerce payload. The action blocks mirror the enhanced
// ecommerce shape: exactly one of Add/Remove/Detail/Checkout/Purchase is set
// for action events; Impressions stands alone for list views.
type Ecommerce struct {
	CurrencyCode string       `json:"currencyCode"`
	Value        string       `json:"value,omitempty"`
	Add          *ActionBlock `json:"add,omitempty"`
	Click        *ActionBlock `json:"click,omitempty"`
	Remove       *ActionBlock `json:"remove,omitempty"`
	Detail       *ActionBlock `json:"detail,omitempty"`
	Checkout     *ActionBlock `json:"checkout,omitempty"`
	Purchase     *ActionBlock `json:"purchase,omitempty"`
	Impressions  []Product    `json:"impressions,omitempty"`
}

// ActionBlock pairs an action descriptor with the products it acted on.
type ActionBlock struct {
	ActionField *ActionField `json:"actionField,omitempty"`
	Products    []Product    `json:"products"`
}

// ActionField describes the action. Which fields are populated depends on
// the event: list/action for browse events, the transaction fields for
// purchase-shaped events. Money fields are decimal strings ("29.99").
type ActionField struct {
	ID       string `json:"id,omitempty"`
	List     string `json:"list,omitempty"`
	Action   string `json:"action,omitempty"`
	Step     int    `json:"step,omitempty"`
	Revenue  string `json:"revenue,omitempty"`
	Tax      string `json:"tax,omitempty"`
	Shipping string `json:"shipping,omitempty"`
	SubTotal string `json:"sub_total,omitempty"`
	Coupon   string `json:"coupon,omitempty"`
}

// Product is one canonical item record. Identifiers and per-unit price come
// from the catalog when resolvable, falling back to the cart line's own
// denormalized fields.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Variant  string `json:"variant,omitempty"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity,omitempty"`
	List     string `json:"list,omitempty"`
	Position int    `json:"position,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Validate ensures the envelope has the attributes every pushed event must
// carry. Payload shape is the schema validator's job, not this one's.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if e.ID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Time.IsZero() {
		return fmt.Errorf("event_time is required")
	}
	return nil
}

// Clone returns a copy safe to hand across the queue boundary: maps,
// metadata and product slices are duplicated, product values are value
// types already.
func (e *Event) Clone() *Event {
	cp := *e
	if e.UserProperties != nil {
		cp.UserProperties = make(map[string]string, len(e.UserProperties))
		for k, v := range e.UserProperties {
			cp.UserProperties[k] = v
		}
	}
	if e.Attribution != nil {
		cp.Attribution = make(map[string]string, len(e.Attribution))
		for k, v := range e.Attribution {
			cp.Attribution[k] = v
		}
	}
	if e.Data != nil {
		cp.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			cp.Data[k] = v
		}
	}
	if e.Metadata != nil {
		m := *e.Metadata
		cp.Metadata = &m
	}
	if e.Context != nil {
		c := *e.Context
		cp.Context = &c
	}
	if e.Ecommerce != nil {
		ec := *e.Ecommerce
		ec.Add = cloneBlock(e.Ecommerce.Add)
		ec.Click = cloneBlock(e.Ecommerce.Click)
		ec.Remove = cloneBlock(e.Ecommerce.Remove)
		ec.Detail = cloneBlock(e.Ecommerce.Detail)
		ec.Checkout = cloneBlock(e.Ecommerce.Checkout)
		ec.Purchase = cloneBlock(e.Ecommerce.Purchase)
		if e.Ecommerce.Impressions != nil {
			ec.Impressions = append([]Product(nil), e.Ecommerce.Impressions...)
		}
		cp.Ecommerce = &ec
	}
	return &cp
}

func cloneBlock(b *ActionBlock) *ActionBlock {
	if b == nil {
		return nil
	}
	cp := *b
	if b.ActionField != nil {
		af := *b.ActionField
		cp.ActionField = &af
	}
	if b.Products != nil {
		cp.Products = append([]Product(nil), b.Products...)
	}
	return &cp
}
