// Package ratelimit implements a token bucket rate limiter keyed by marketplace.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver records how long a caller was held back.
type DelayObserver func(key string, d time.Duration)

// Limiter manages per-key rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	observe      DelayObserver
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Observer, when set, receives every wait longer than a millisecond.
	Observer DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limitOf(cfg.DefaultRPS),
		defaultBurst: burstOf(cfg.DefaultBurst),
		observe:      cfg.Observer,
	}
}

// Set overrides the rate for a single key.
func (l *Limiter) Set(key string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[key] = rate.NewLimiter(limitOf(rps), burstOf(burst))
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observe != nil {
		l.observe(key, d)
	}
	return nil
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstOf(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}
