// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides the admission gate of proxy listeners: a
// connection semaphore and a token bucket on the accept rate.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when the accept rate is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm for rate limiting.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
// capacity is the maximum number of tokens.
// refillRate is the number of tokens added per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request should be allowed.
// Returns true if allowed, false if rate limited.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if N requests should be allowed.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

// refill adds tokens based on elapsed time.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tokensToAdd := int64(elapsed * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Gate bounds the connections a listener forwards concurrently and the rate
// at which it admits new ones. A nil *Gate admits everything.
type Gate struct {
	sem    chan struct{}
	bucket *TokenBucket
}

// NewGate creates a gate. maxConns <= 0 leaves concurrency unbounded and
// rate <= 0 leaves the accept rate unbounded; when both are unbounded
// NewGate returns nil. burst defaults to rate.
func NewGate(maxConns int, rate, burst int64) *Gate {
	if maxConns <= 0 && rate <= 0 {
		return nil
	}

	g := &Gate{}
	if maxConns > 0 {
		g.sem = make(chan struct{}, maxConns)
	}
	if rate > 0 {
		if burst <= 0 {
			burst = rate
		}
		g.bucket = NewTokenBucket(burst, rate)
	}
	return g
}

// Allow reports whether the accept rate admits one more connection.
func (g *Gate) Allow() bool {
	if g == nil || g.bucket == nil {
		return true
	}
	return g.bucket.Allow()
}

// Acquire takes a connection slot, waiting until one frees up or ctx is done.
// The returned release func must be called once the connection ends.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if g == nil || g.sem == nil {
		return func() {}, nil
	}

	select {
	case g.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-g.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InUse returns the number of held connection slots.
func (g *Gate) InUse() int {
	if g == nil || g.sem == nil {
		return 0
	}
	return len(g.sem)
}

// Capacity returns the connection limit, 0 when unbounded.
func (g *Gate) Capacity() int {
	if g == nil || g.sem == nil {
		return 0
	}
	return cap(g.sem)
}
