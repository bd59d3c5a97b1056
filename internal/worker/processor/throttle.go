package processor

import (
	"sync"

	"golang.org/x/time/rate"
)

// throttle coalesces progress updates before they reach the relay. Repeated
// values are dropped, distinct ones are rate limited, and 100 always passes.
type throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	last    float64
	sent    bool
	send    func(float64)
}

func newThrottle(perSecond float64, send func(float64)) *throttle {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &throttle{limiter: rate.NewLimiter(limit, 1), send: send}
}

// Offer is safe to call from the engine's output goroutine.
func (t *throttle) Offer(percent float64) {
	t.mu.Lock()
	if t.sent && percent == t.last {
		t.mu.Unlock()
		return
	}
	if percent < 100 && !t.limiter.Allow() {
		t.mu.Unlock()
		return
	}
	t.last, t.sent = percent, true
	t.mu.Unlock()

	t.send(percent)
}
