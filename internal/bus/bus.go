// Package bus provides the in-process pub/sub channel that carries domain
// actions (cart, upsell, checkout, order, exit-intent) from their sources
// to the analytics listener.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Topics published by the action sources. The listener subscribes to a
// fixed set of these.
const (
	TopicPageView       = "page:view"
	TopicCartItemAdded  = "cart:item-added"
	TopicCartItemRemove = "cart:item-removed"
	TopicCartQuantity   = "cart:quantity-changed"
	TopicCartSwapped    = "cart:package-swapped"
	TopicCartUpdated    = "cart:updated"
	TopicUpsellViewed   = "upsell:viewed"
	TopicUpsellAccepted = "upsell:accepted"
	TopicUpsellSkipped  = "upsell:skipped"
	TopicCheckoutStart  = "checkout:started"
	TopicOrderCompleted = "order:completed"
	TopicAccountSignUp  = "account:sign-up"
	TopicAccountLogin   = "account:login"
	TopicUserUpdated    = "user:updated"
	TopicExitShown      = "exit-intent:shown"
	TopicExitAccepted   = "exit-intent:accepted"
	TopicExitDismissed  = "exit-intent:dismissed"
)

// Message is one domain action. SessionID scopes it to a shopper session;
// Payload shape is topic-specific and decoded by the subscriber.
type Message struct {
	SessionID string
	Topic     string
	Payload   map[string]interface{}
}

// Handler processes one message. Handlers must be idempotent: independent
// sources may publish overlapping actions within the same tick.
type Handler func(ctx context.Context, msg Message)

// Bus is a synchronous in-process pub/sub. Publish invokes every
// subscriber inline, recovering panics so one subscriber cannot take down
// a publisher in the checkout path.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]Handler),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

// Publish delivers msg to every subscriber of its topic, in subscription
// order. A panicking subscriber is logged and skipped.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	b.mu.RLock()
	handlers := b.subs[msg.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, msg)
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked", "topic", msg.Topic, "panic", r)
		}
	}()
	h(ctx, msg)
}
