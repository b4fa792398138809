package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// actorRateLimiter hands out one token bucket per actor. Buckets idle longer
// than evictTTL are dropped on the next sweep.
type actorRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	limit    rate.Limit
	burst    int
	evictTTL time.Duration
	now      func() time.Time
}

func newActorRateLimiter(perSecond float64, burst int, evictTTL time.Duration) *actorRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &actorRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    limit,
		burst:    max(burst, 1),
		evictTTL: evictTTL,
		now:      time.Now,
	}
}

func (rl *actorRateLimiter) Allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[actor]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[actor] = l
	}
	now := rl.now()
	rl.lastSeen[actor] = now
	return l.AllowN(now, 1)
}

func (rl *actorRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.evictTTL)
	for actor, last := range rl.lastSeen {
		if last.Before(cutoff) {
			delete(rl.limiters, actor)
			delete(rl.lastSeen, actor)
		}
	}
}
