// Package listener subscribes to the domain action bus and turns actions
// into analytics events. It is the only writer into the pipeline for
// bus-sourced traffic: sources publish raw actions and never touch event
// construction themselves.
package listener

import (
	"context"
	"log/slog"
	"sync/atomic"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/bus"
	"github.com/commercekit/relay/internal/events"
	"github.com/commercekit/relay/internal/pipeline"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/trackers"
)

// Listener converts bus messages into pushed events. Construction wires
// the factories and trackers; Register attaches the handlers.
type Listener struct {
	manager   *pipeline.Manager
	ecommerce *events.EcommerceEvents
	users     *events.UserEvents
	sessions  session.Store
	attrib    *trackers.ListAttributionTracker
	lists     *trackers.ViewItemListTracker
	userData  *trackers.UserDataTracker
	logger    *slog.Logger

	// checkoutTracking gates begin-checkout events. The handler stays
	// registered so the toggle works at runtime, but it ships disabled:
	// checkout starts are currently tracked by the payment flow itself and
	// a second emitter would double-count.
	checkoutTracking atomic.Bool

	debAdd      *debouncer
	debQuantity *debouncer
	debSwap     *debouncer
	debCartView *debouncer
}

// New creates the listener.
func New(
	manager *pipeline.Manager,
	ecommerce *events.EcommerceEvents,
	users *events.UserEvents,
	sessions session.Store,
	attrib *trackers.ListAttributionTracker,
	lists *trackers.ViewItemListTracker,
	userData *trackers.UserDataTracker,
	logger *slog.Logger,
) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		manager:     manager,
		ecommerce:   ecommerce,
		users:       users,
		sessions:    sessions,
		attrib:      attrib,
		lists:       lists,
		userData:    userData,
		logger:      logger.With("component", "listener"),
		debAdd:      newDebouncer(AddToCartWindow),
		debQuantity: newDebouncer(QuantityWindow),
		debSwap:     newDebouncer(SwapWindow),
		debCartView: newDebouncer(CartViewWindow),
	}
}

// SetCheckoutTracking toggles begin-checkout event emission.
func (l *Listener) SetCheckoutTracking(enabled bool) {
	l.checkoutTracking.Store(enabled)
}

// Register subscribes every handler on the bus.
func (l *Listener) Register(b *bus.Bus) {
	b.Subscribe(bus.TopicPageView, l.onPageView)
	b.Subscribe(bus.TopicCartItemAdded, l.onItemAdded)
	b.Subscribe(bus.TopicCartItemRemove, l.onItemRemoved)
	b.Subscribe(bus.TopicCartQuantity, l.onQuantityChanged)
	b.Subscribe(bus.TopicCartSwapped, l.onPackageSwapped)
	b.Subscribe(bus.TopicCartUpdated, l.onCartUpdated)
	b.Subscribe(bus.TopicUpsellViewed, l.onUpsellViewed)
	b.Subscribe(bus.TopicUpsellAccepted, l.onUpsellAccepted)
	b.Subscribe(bus.TopicUpsellSkipped, l.onUpsellSkipped)
	b.Subscribe(bus.TopicCheckoutStart, l.onCheckoutStarted)
	b.Subscribe(bus.TopicOrderCompleted, l.onOrderCompleted)
	b.Subscribe(bus.TopicAccountSignUp, l.onSignUp)
	b.Subscribe(bus.TopicAccountLogin, l.onLogin)
	b.Subscribe(bus.TopicUserUpdated, l.onUserUpdated)
	b.Subscribe(bus.TopicExitShown, l.exitIntent("shown"))
	b.Subscribe(bus.TopicExitAccepted, l.exitIntent("accepted"))
	b.Subscribe(bus.TopicExitDismissed, l.exitIntent("dismissed"))
}

// onPageView replays the client's pending queue before anything else, then
// pushes the page view. A page that renders a product list also captures
// list attribution and fires the once-per-session list impression.
func (l *Listener) onPageView(ctx context.Context, msg bus.Message) {
	if err := l.manager.ProcessPending(ctx, msg.SessionID); err != nil {
		l.logger.Error("Pending replay failed", "client", msg.SessionID, "error", err)
	}

	page := &v1.PageContext{
		Location:  str(msg.Payload, "location"),
		Referrer:  str(msg.Payload, "referrer"),
		Title:     str(msg.Payload, "title"),
		UserAgent: str(msg.Payload, "user_agent"),
		Viewport:  str(msg.Payload, "viewport"),
	}
	l.push(ctx, msg.SessionID, l.ecommerce.PageView(page))

	listID := str(msg.Payload, "list_id")
	listName := str(msg.Payload, "list_name")
	if listID != "" || listName != "" {
		l.attrib.Capture(msg.SessionID, listID, listName)
	}

	if lines := cartLines(msg.Payload, "lines"); len(lines) > 0 && listID != "" {
		if l.lists.MarkSeen(msg.SessionID, listID) {
			l.push(ctx, msg.SessionID, l.ecommerce.ViewItemList(lines, listName))
		}
	}

	if item := subMap(msg.Payload, "item"); item != nil {
		l.push(ctx, msg.SessionID, l.ecommerce.ViewItem(cartLine(item), listName))
	}
}

func (l *Listener) onItemAdded(ctx context.Context, msg bus.Message) {
	line := cartLine(subMap(msg.Payload, "line"))
	if !l.debAdd.allow(msg.SessionID + "|" + itoaKey(line.PackageID)) {
		return
	}

	listID := str(msg.Payload, "list_id")
	listName := str(msg.Payload, "list_name")
	if listID != "" || listName != "" {
		l.attrib.Capture(msg.SessionID, listID, listName)
	}
	l.push(ctx, msg.SessionID, l.ecommerce.AddToCart(line, listID, listName))
}

func (l *Listener) onItemRemoved(ctx context.Context, msg bus.Message) {
	line := cartLine(subMap(msg.Payload, "line"))
	l.push(ctx, msg.SessionID, l.ecommerce.RemoveFromCart(line))
}

// onQuantityChanged reduces a quantity delta to an add or a remove for the
// delta amount. Spinner mashing collapses inside the debounce window.
func (l *Listener) onQuantityChanged(ctx context.Context, msg bus.Message) {
	line := cartLine(subMap(msg.Payload, "line"))
	delta := integer(msg.Payload, "delta")
	if delta == 0 {
		return
	}
	if !l.debQuantity.allow(msg.SessionID + "|" + itoaKey(line.PackageID)) {
		return
	}

	if delta > 0 {
		line.Quantity = delta
		l.push(ctx, msg.SessionID, l.ecommerce.AddToCart(line, "", ""))
		return
	}
	line.Quantity = -delta
	l.push(ctx, msg.SessionID, l.ecommerce.RemoveFromCart(line))
}

// onPackageSwapped emits the single atomic swap event. The UI fires the
// underlying remove and add within milliseconds of each other; the tight
// window swallows the duplicates reactive re-renders produce.
func (l *Listener) onPackageSwapped(ctx context.Context, msg bus.Message) {
	if !l.debSwap.allow(msg.SessionID) {
		return
	}
	removed := cartLine(subMap(msg.Payload, "removed"))
	added := cartLine(subMap(msg.Payload, "added"))
	l.push(ctx, msg.SessionID, l.ecommerce.PackageSwapped(removed, added))
}

func (l *Listener) onCartUpdated(ctx context.Context, msg bus.Message) {
	if !l.debCartView.allow(msg.SessionID) {
		return
	}
	lines := cartLines(msg.Payload, "lines")
	l.push(ctx, msg.SessionID, l.ecommerce.ViewCart(lines))
}

func (l *Listener) onUpsellViewed(ctx context.Context, msg bus.Message) {
	l.push(ctx, msg.SessionID, l.ecommerce.ViewedUpsell(
		integer(msg.Payload, "package_id"),
		num(msg.Payload, "price"),
	))
}

func (l *Listener) onUpsellAccepted(ctx context.Context, msg bus.Message) {
	evt := l.ecommerce.AcceptedUpsell(ctx, events.AcceptedUpsellParams{
		ClientKey:    msg.SessionID,
		OrderID:      str(msg.Payload, "order_id"),
		PackageID:    integer(msg.Payload, "package_id"),
		UpsellNumber: integer(msg.Payload, "upsell_number"),
		Quantity:     integer(msg.Payload, "quantity"),
		Value:        num(msg.Payload, "value"),
	})
	l.push(ctx, msg.SessionID, evt)
}

func (l *Listener) onUpsellSkipped(ctx context.Context, msg bus.Message) {
	l.push(ctx, msg.SessionID, l.ecommerce.SkippedUpsell(
		str(msg.Payload, "order_id"),
		integer(msg.Payload, "package_id"),
	))
}

func (l *Listener) onCheckoutStarted(ctx context.Context, msg bus.Message) {
	if !l.checkoutTracking.Load() {
		return
	}
	lines := cartLines(msg.Payload, "lines")
	l.push(ctx, msg.SessionID, l.ecommerce.BeginCheckout(lines))
}

// onOrderCompleted pushes the purchase and, when the order's customer
// fields changed the known identity, a user-data snapshot alongside it.
func (l *Listener) onOrderCompleted(ctx context.Context, msg bus.Message) {
	l.push(ctx, msg.SessionID, l.ecommerce.Purchase(order(msg.Payload)))
	l.mergeIdentity(ctx, msg.SessionID, strMap(msg.Payload, "customer"))
}

func (l *Listener) onSignUp(ctx context.Context, msg bus.Message) {
	profile := l.storedProfile(ctx, msg.SessionID, strMap(msg.Payload, "profile"))
	l.push(ctx, msg.SessionID, l.users.SignUp(profile))
}

func (l *Listener) onLogin(ctx context.Context, msg bus.Message) {
	profile := l.storedProfile(ctx, msg.SessionID, strMap(msg.Payload, "profile"))
	l.push(ctx, msg.SessionID, l.users.Login(profile))
}

func (l *Listener) onUserUpdated(ctx context.Context, msg bus.Message) {
	l.mergeIdentity(ctx, msg.SessionID, strMap(msg.Payload, "profile"))
}

func (l *Listener) exitIntent(action string) bus.Handler {
	return func(ctx context.Context, msg bus.Message) {
		l.push(ctx, msg.SessionID, l.users.ExitIntent(action))
	}
}

// mergeIdentity folds new identity fields into the stored profile and
// fires a user-data event only when the identity actually changed.
func (l *Listener) mergeIdentity(ctx context.Context, clientKey string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	profile := l.storedProfile(ctx, clientKey, fields)
	if !l.userData.Changed(clientKey, profile) {
		return
	}
	l.push(ctx, clientKey, l.users.UserData(profile))
}

// storedProfile merges fields into the persisted profile and returns the
// merged view. Store failures fall back to the in-payload fields.
func (l *Listener) storedProfile(ctx context.Context, clientKey string, fields map[string]string) map[string]string {
	if len(fields) > 0 {
		if err := l.sessions.MergeProfile(ctx, clientKey, fields); err != nil {
			l.logger.Warn("Profile merge failed", "client", clientKey, "error", err)
		}
	}
	profile, err := l.sessions.Profile(ctx, clientKey)
	if err != nil || len(profile) == 0 {
		return fields
	}
	return profile
}

func (l *Listener) push(ctx context.Context, clientKey string, evt *v1.Event) {
	if err := l.manager.Push(ctx, clientKey, evt); err != nil {
		l.logger.Error("Push failed", "event", evt.Name, "client", clientKey, "error", err)
	}
}
