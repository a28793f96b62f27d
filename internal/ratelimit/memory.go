package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a single-process sliding window used when no Redis is
// configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter builds an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := l.now()
	if max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	kept := l.events[key][:0]
	for _, at := range l.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	l.events[key] = kept
	if len(l.events) > 4096 {
		l.sweepLocked(cutoff)
	}

	remaining := max - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	return len(kept) <= max, remaining, kept[0].Add(window), nil
}

// sweepLocked drops keys whose events all fell out of the window.
func (l *MemoryLimiter) sweepLocked(cutoff time.Time) {
	for k, events := range l.events {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.events, k)
		}
	}
}
