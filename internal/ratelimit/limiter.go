// Package ratelimit enforces a minimum interval between actions per key.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter tracks the last permitted action for each key (an account name in
// the upload service).
type Limiter struct {
	mu          sync.Mutex
	last        map[string]time.Time
	minInterval time.Duration
	now         func() time.Time
}

// New creates a limiter allowing one action per key every minInterval.
func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		last:        make(map[string]time.Time),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Allow reports whether key may act now and, if so, records the action.
// A refused call does not move the window.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.minInterval <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.minInterval {
		return false
	}
	l.last[key] = now
	l.prune(now)
	return true
}

// RetryAfter returns how long key must wait before Allow succeeds.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l == nil || l.minInterval <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[key]
	if !ok {
		return 0
	}
	if remaining := l.minInterval - l.now().Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}

// Wait blocks until key may act, then records the action.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		if l.Allow(key) {
			return nil
		}
		timer := time.NewTimer(l.RetryAfter(key))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
}

// prune drops expired entries once the map grows, so idle accounts do not
// accumulate. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	if len(l.last) < 1024 {
		return
	}
	for key, last := range l.last {
		if now.Sub(last) >= l.minInterval {
			delete(l.last, key)
		}
	}
}
