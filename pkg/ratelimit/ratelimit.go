// Package ratelimit implements an in-memory token-bucket limiter keyed by an
// arbitrary string (client address for the audit API).
package ratelimit

import (
	"sync"
	"time"
)

// entry tracks the token-bucket state for a single key.
type entry struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter refills each key's bucket at a rate of (limit / window) per second.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a limiter with the given refill window and starts the
// background sweep of idle keys. Call Close to stop it.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow consumes one token for key and reports whether one was available.
// A limit of zero or less disables limiting.
func (l *Limiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[key]
	if !exists {
		l.entries[key] = &entry{
			tokens:    float64(limit - 1),
			lastCheck: now,
		}
		return true
	}

	elapsed := now.Sub(e.lastCheck)
	e.lastCheck = now

	rate := float64(limit) / l.window.Seconds()
	e.tokens += elapsed.Seconds() * rate
	if e.tokens > float64(limit) {
		e.tokens = float64(limit)
	}

	if e.tokens < 1 {
		return false
	}

	e.tokens--
	return true
}

// Reset clears the state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for key, e := range l.entries {
		if e.lastCheck.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
