package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"
)

// ErrRateLimitExceeded is returned when a session has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket admits at most capacity exchanges per session in a burst and
// refills one token every refillRate.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time
	lastSweep  time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a per-session token bucket limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes one token for key. The returned release is a no-op; tokens
// come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.sweep(now)

	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if add := int(now.Sub(b.lastRefill) / tb.refillRate); add > 0 {
		b.tokens = min(b.tokens+add, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--
	return func() {}, nil
}

// sweep drops buckets that have refilled completely; a missing bucket starts
// full, so admission is unchanged. Runs at most once per full refill period.
func (tb *TokenBucket) sweep(now time.Time) {
	full := time.Duration(tb.capacity) * tb.refillRate
	if now.Sub(tb.lastSweep) < full {
		return
	}
	tb.lastSweep = now
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) >= full {
			delete(tb.buckets, key)
		}
	}
}

var _ chatports.Limiter = (*TokenBucket)(nil)
