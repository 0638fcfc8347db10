package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may issue another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds the rate limit of a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// idleAfter is how long an unused per-subject bucket is kept.
const idleAfter = 3 * time.Minute

// TierLimiter is an in-process token bucket limiter with one bucket per
// subject and tier. The bucket refills at the tier's per-minute rate and
// allows bursts of up to one minute's worth of requests.
type TierLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTierLimiter creates a limiter. Tiers missing from tiers use
// defaultRPM; a rate of zero or less means unlimited.
func NewTierLimiter(tiers map[string]TierConfig, defaultRPM int) *TierLimiter {
	return &TierLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*bucket),
		lastSweep:  time.Now(),
	}
}

// Allow returns ErrTooManyRequests when the identity's bucket is empty.
func (l *TierLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier
	now := time.Now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets at most once per minute. Must hold l.mu.
func (l *TierLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// Len returns the number of live buckets.
func (l *TierLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
