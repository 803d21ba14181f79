// Package ratelimit provides a per-key token-bucket limiter used to bound
// TABLE_QUERY calls per table. It wraps golang.org/x/time/rate rather than
// hand-rolling a bucket.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a keyed set of token buckets, one per distinct key (e.g. table
// name), created lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	buckets  map[string]*rate.Limiter
}

// New builds a limiter that allows rps requests per second per key, with the
// given burst allowance.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a call keyed by key may proceed right now.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	return b
}
