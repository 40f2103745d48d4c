// Package ratelimit implements a token-bucket request limiter. Buckets are
// keyed per session token when one is present, falling back to the client IP,
// so shoppers behind a shared NAT do not exhaust each other's budget.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config sets the bucket shape.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per key.
	RequestsPerMinute int
	// BurstSize is the bucket capacity, the short-term allowance above the
	// sustained rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 100,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	}
}

// bucket is one key's token balance.
type bucket struct {
	tokens   float64
	refilled time.Time
}

// Limiter holds the per-key buckets and a janitor goroutine.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

// New creates a limiter and starts its janitor.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Stop terminates the janitor goroutine.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			idle := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.refilled.Before(idle) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Allow spends one token for key, refilling the bucket for the time elapsed
// since the last call. A new key starts with a full bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.buckets[key]
	if b == nil {
		l.buckets[key] = &bucket{
			tokens:   float64(l.cfg.BurstSize) - 1,
			refilled: now,
		}
		return true
	}

	perSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	b.tokens += now.Sub(b.refilled).Seconds() * perSecond
	if ceil := float64(l.cfg.BurstSize); b.tokens > ceil {
		b.tokens = ceil
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects over-budget requests with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if auth := c.GetHeader("Authorization"); auth != "" {
			key = "auth:" + auth[:min(24, len(auth))]
		}

		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}

// MiddlewareWithConfig is a convenience for one-off limiters.
func MiddlewareWithConfig(cfg Config) gin.HandlerFunc {
	return New(cfg).Middleware()
}
