// Package ratelimit spaces out archive retrievals per storage host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/chapterwatch/internal/metrics"
)

// Config holds limiter configuration.
type Config struct {
	// MinInterval is the minimum gap between retrievals from one host.
	// Zero disables limiting.
	MinInterval time.Duration
}

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until link's host may be contacted again or ctx is done.
func (l *Limiter) Wait(ctx context.Context, link string) error {
	host := "unknown"
	if u, err := url.Parse(link); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Waits under a millisecond mean the token was already there.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottle(host, waited)
	}
	return nil
}
