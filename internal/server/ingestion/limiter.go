package ingestion

import (
	"sync"

	"github.com/R3E-Network/service_layer/infrastructure/ratelimit"
)

// limiterRegistry lazily builds one ratelimit.RateLimiter per device id.
// ratelimit.RateLimiter is single-key, so ingestion keeps a map keyed by
// device id under a mutex rather than sharing one limiter across devices.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*ratelimit.RateLimiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{limiters: make(map[string]*ratelimit.RateLimiter)}
}

func (r *limiterRegistry) get(deviceID string, cfg ratelimit.RateLimitConfig) *ratelimit.RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[deviceID]; ok {
		return l
	}
	l := ratelimit.New(cfg)
	r.limiters[deviceID] = l
	return l
}
