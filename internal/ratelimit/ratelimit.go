// Package ratelimit implements a per-source-address sliding-window counter
// used on the relay's connection-accept path.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	timestamps []time.Time
}

// Limiter tracks recent request timestamps per source address
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	buckets     map[string]*bucket
}

// New creates a limiter allowing maxRequests per window per address
func New(window time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		window:      window,
		maxRequests: maxRequests,
		buckets:     make(map[string]*bucket),
	}
}

// Allow records a request from addr at time now and reports whether it is
// within the configured maximum for the current window.
func (l *Limiter) Allow(addr string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{}
		l.buckets[addr] = b
	}

	cutoff := now.Add(-l.window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = append(kept, now)

	return len(b.timestamps) <= l.maxRequests
}

// Sweep evicts buckets whose last request is older than a full window.
// Called on the cleanup scheduler cadence.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	evicted := 0
	for addr, b := range l.buckets {
		if len(b.timestamps) == 0 || !b.timestamps[len(b.timestamps)-1].After(cutoff) {
			delete(l.buckets, addr)
			evicted++
		}
	}
	return evicted
}

// BucketCount returns the number of tracked addresses
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
