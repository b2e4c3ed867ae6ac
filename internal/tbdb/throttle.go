package tbdb

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval spaces requests until TBDB reports its real limit.
const DefaultInterval = 1100 * time.Millisecond

// Throttle enforces a minimum gap between TBDB requests. The gap is learned
// from X-RateLimit-Limit / X-RateLimit-Window on every response. One
// Throttle is shared by all clients in a process so rebuilding a client does
// not forget what the provider told us.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	limiter  *rate.Limiter
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval < 0 {
		interval = 0
	}
	return &Throttle{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Interval is the current minimum spacing between requests.
func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Reserve claims the next request slot and returns how long the caller must
// wait before sending it.
func (t *Throttle) Reserve(now time.Time) time.Duration {
	r := t.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Observe recomputes the interval from rate-limit headers, if present.
func (t *Throttle) Observe(h http.Header, now time.Time) {
	limit, err := strconv.Atoi(strings.TrimSpace(h.Get("X-RateLimit-Limit")))
	if err != nil || limit <= 0 {
		return
	}
	window := parseWindow(h.Get("X-RateLimit-Window"))
	if window <= 0 {
		return
	}
	interval := window / time.Duration(limit)

	t.mu.Lock()
	defer t.mu.Unlock()
	if interval == t.interval {
		return
	}
	t.interval = interval
	t.limiter.SetLimitAt(now, rate.Every(interval))
}
