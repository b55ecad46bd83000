package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a token bucket refilling at an integer rate (tokens/sec)
// from a provided Clock.
//
// Refill accounting uses nanosecond fixed point ("nano-tokens") so the bucket
// behaves deterministically under a fake clock without float rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

const nanosPerToken = int64(time.Second)

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; don't refill, just move the reference point.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanosPerToken
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}
	// rate tokens/sec equals rate nano-tokens/ns in this representation. Clamp
	// to capacity before multiplying to avoid overflow on long idle gaps.
	if elapsed >= need/b.rate {
		b.available = max
		return
	}
	b.available += elapsed * b.rate
}
