// Package ratelimit paces outbound fetches with a token bucket per site.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
	"github.com/GMartin-Data/imdb-api/internal/metrics"
)

// Limiter manages per-site rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the site of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := metrics.SanitizeSite(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[site]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[site] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available are not worth a sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

// Fetcher paces another crawler.Fetcher through a Limiter.
type Fetcher struct {
	next    crawler.Fetcher
	limiter *Limiter
}

// Wrap returns next unchanged when cfg disables limiting.
func Wrap(next crawler.Fetcher, cfg Config) crawler.Fetcher {
	if cfg.RPS <= 0 {
		return next
	}
	return &Fetcher{next: next, limiter: New(cfg)}
}

// Fetch waits for a token and then delegates.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return crawler.FetchResponse{}, err
	}
	resp, err := f.next.Fetch(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("paced fetch: %w", err)
	}
	return resp, nil
}
