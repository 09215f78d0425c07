package venue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter provides per-host rate limiting using a token bucket,
// adapted from the teacher's internal/net/ratelimit.Limiter down to
// the single Binance host this engine talks to.
type hostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	return &hostLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *hostLimiter) get(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = lim
	return lim
}

// Wait blocks until a request to host is allowed or ctx is cancelled.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}
