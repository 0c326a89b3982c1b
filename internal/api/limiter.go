package api

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// endpointLimiter keeps one token bucket per backend endpoint so a burst of
// quote refreshes cannot starve the payment calls.
type endpointLimiter struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newEndpointLimiter(rps float64, burst int) *endpointLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &endpointLimiter{rps: rps, burst: burst}
}

func (l *endpointLimiter) get(endpoint string) *rate.Limiter {
	if v, ok := l.limiters.Load(endpoint); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	limit := rate.Limit(l.rps)
	if l.rps <= 0 {
		limit = rate.Inf
	}

	lim := rate.NewLimiter(limit, l.burst)
	actual, loaded := l.limiters.LoadOrStore(endpoint, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

func (l *endpointLimiter) wait(ctx context.Context, endpoint string) error {
	return l.get(endpoint).Wait(ctx)
}
