package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a key has exhausted its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// defaultIdleTTL bounds how long an unused key keeps its limiter.
const defaultIdleTTL = 10 * time.Minute

// KeyedLimiter holds one token bucket per key (a principal id, a chat id).
// A zero or negative limit disables limiting.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows perSecond events per key with the given burst.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Enabled reports whether the limiter enforces anything.
func (k *KeyedLimiter) Enabled() bool {
	return k != nil && k.limit > 0
}

func (k *KeyedLimiter) get(key string) (*rate.Limiter, time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.lim, now
}

// Allow consumes one token for key, or returns ErrRateLimited.
func (k *KeyedLimiter) Allow(key string) error {
	if !k.Enabled() {
		return nil
	}
	lim, now := k.get(key)
	if !lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Wait blocks until key may proceed or ctx is done.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if !k.Enabled() {
		return ctx.Err()
	}
	lim, _ := k.get(key)
	return lim.Wait(ctx)
}

// Prune drops limiters idle for longer than the idle TTL and returns how
// many were removed.
func (k *KeyedLimiter) Prune() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.idleTTL)
	removed := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
