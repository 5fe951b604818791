package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	bucket := NewTokenBucket(2, 5) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	// Next request should be denied (bucket empty)
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	// Wait and check if tokens are refilled
	time.Sleep(1100 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}

	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestLimiterPerKey(t *testing.T) {
	l := New(0, 2, 3) // no global limit; per-key 2/s with burst 3

	key := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !l.Allow(key) {
			t.Errorf("Expected handshake %d to be allowed for %s", i, key)
		}
	}
	if l.Allow(key) {
		t.Error("Expected handshake to be denied once burst is spent")
	}

	// A different source has its own bucket
	if !l.Allow("10.0.0.2") {
		t.Error("Expected handshake from a fresh source to be allowed")
	}
}

func TestLimiterGlobal(t *testing.T) {
	l := New(2, 0, 2) // global 2/s burst 2, per-key disabled

	if !l.Allow("a") {
		t.Error("Expected first global handshake to be allowed")
	}
	if !l.Allow("b") {
		t.Error("Expected second global handshake to be allowed")
	}
	if l.Allow("c") {
		t.Error("Expected handshake to be denied due to global limit")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0, 5)
	for i := 0; i < 100; i++ {
		if !l.Allow("anyone") {
			t.Errorf("Expected handshake %d to be allowed with limits disabled", i)
		}
	}
}

func TestLimiterPrune(t *testing.T) {
	l := New(0, 1, 1)
	l.Allow("stale")
	l.Allow("fresh")

	l.mu.Lock()
	l.perKey["stale"].lastUsed = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Prune(time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.perKey["stale"]; exists {
		t.Error("Expected stale bucket to be pruned")
	}
	if _, exists := l.perKey["fresh"]; !exists {
		t.Error("Expected fresh bucket to remain")
	}
}
