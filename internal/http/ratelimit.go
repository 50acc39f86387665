package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter rate limits login attempts per remote address.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiter(perMinute, burst int) *loginLimiter {
	return &loginLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (l *loginLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[addr]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = entry
	}
	entry.lastSeen = time.Now()
	if len(l.limiters) > 1000 {
		l.evictLocked()
	}
	return entry.limiter.Allow()
}

func (l *loginLimiter) evictLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for addr, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, addr)
		}
	}
}
