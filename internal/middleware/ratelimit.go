package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter caps how often one client IP may request a login code. Every
// allowed request costs an outbound mail, so the mailer is the resource
// being protected, not the handler. Fixed windows per key; a window opens on
// the first request and everything past the cap inside it is rejected.
type RateLimiter struct {
	mu    sync.Mutex
	hits  map[string]*hitWindow
	limit int
	span  time.Duration
	now   func() time.Time
}

type hitWindow struct {
	openedAt time.Time
	n        int
}

func NewRateLimiter(limit int, span time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, span, time.Now)
}

func NewRateLimiterWithNow(limit int, span time.Duration, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		hits:  make(map[string]*hitWindow),
		limit: limit,
		span:  span,
		now:   now,
	}
	go rl.sweep()
	return rl
}

// sweep drops closed windows so one-off callers do not accumulate forever.
func (rl *RateLimiter) sweep() {
	if rl.span <= 0 {
		return
	}

	ticker := time.NewTicker(rl.span)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, w := range rl.hits {
			if now.Sub(w.openedAt) >= rl.span {
				delete(rl.hits, key)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.hits[key]
	if w == nil || now.Sub(w.openedAt) >= rl.span {
		rl.hits[key] = &hitWindow{openedAt: now, n: 1}
		return true
	}
	if w.n >= rl.limit {
		return false
	}
	w.n++
	return true
}

// RateLimit guards a route with the limiter, keyed by client IP.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
