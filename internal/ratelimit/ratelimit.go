package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity.
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can be allowed and consumes a token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

type keyedBucket struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// Limiter gates proxy handshakes with a global bucket plus one bucket per
// source key (remote IP). A rate of 0 disables that dimension.
type Limiter struct {
	mu     sync.Mutex
	global *TokenBucket
	perKey map[string]*keyedBucket
	rate   int
	burst  int
}

// New creates a limiter. globalRate and perKeyRate are tokens per second;
// burst is the bucket capacity for both dimensions.
func New(globalRate, perKeyRate, burst int) *Limiter {
	l := &Limiter{
		perKey: make(map[string]*keyedBucket),
		rate:   perKeyRate,
		burst:  burst,
	}
	if globalRate > 0 {
		l.global = NewTokenBucket(globalRate, burst)
	}
	return l
}

// Allow reports whether a handshake from key may proceed.
func (l *Limiter) Allow(key string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	kb, exists := l.perKey[key]
	if !exists {
		kb = &keyedBucket{bucket: NewTokenBucket(l.rate, l.burst)}
		l.perKey[key] = kb
	}
	kb.lastUsed = time.Now()
	l.mu.Unlock()

	return kb.bucket.Allow()
}

// Prune removes per-key buckets not used within maxIdle.
func (l *Limiter) Prune(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, kb := range l.perKey {
		if kb.lastUsed.Before(cutoff) {
			delete(l.perKey, key)
		}
	}
}
