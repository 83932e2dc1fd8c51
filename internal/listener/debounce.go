package listener

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Debounce windows per action kind. Rapid-fire UI interactions collapse to
// the first event in the window; later ones are dropped, not deferred, so
// delivery latency stays zero.
const (
	AddToCartWindow = 1000 * time.Millisecond
	QuantityWindow  = 500 * time.Millisecond
	SwapWindow      = 100 * time.Millisecond
	CartViewWindow  = 500 * time.Millisecond
)

// debouncer admits the first call per key and drops the rest until the
// window has passed. Backed by a burst-1 limiter per key.
type debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	limiters map[string]*rate.Limiter
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (d *debouncer) allow(key string) bool {
	d.mu.Lock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.window), 1)
		d.limiters[key] = l
	}
	d.mu.Unlock()

	return l.Allow()
}
