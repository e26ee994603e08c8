package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, clock *time.Time) *Limiter {
	t.Helper()
	l := New(time.Minute)
	l.now = func() time.Time { return *clock }
	t.Cleanup(l.Close)
	return l
}

func TestAllow_ExhaustsAndRefills(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &clock)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1", 3), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1", 3))
	assert.True(t, l.Allow("10.0.0.2", 3), "keys are independent")

	clock = clock.Add(20 * time.Second) // one token at 3/min
	assert.True(t, l.Allow("10.0.0.1", 3))
	assert.False(t, l.Allow("10.0.0.1", 3))
}

func TestAllow_ZeroLimitDisables(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(t, &clock)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k", 0))
	}
}

func TestSweep_RemovesIdleKeys(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, &clock)
	l.Allow("old", 5)

	clock = clock.Add(3 * time.Minute)
	l.Allow("fresh", 5)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.entries, "old")
	assert.Contains(t, l.entries, "fresh")
}
