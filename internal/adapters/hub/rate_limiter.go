package hub

import (
	"sync"
	"time"

	"github.com/devhazem/meetmesh/internal/domain"
)

// SubscribeRateLimiter caps subscribe attempts per presence key inside a
// sliding window.
type SubscribeRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PresenceKey][]time.Time
	limit    int
	interval time.Duration
}

func NewSubscribeRateLimiter(limit int, interval time.Duration) *SubscribeRateLimiter {
	return &SubscribeRateLimiter{
		history:  make(map[domain.PresenceKey][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *SubscribeRateLimiter) Allow(key domain.PresenceKey) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		return false
	}

	fresh = append(fresh, now)
	rl.history[key] = fresh

	return true
}
