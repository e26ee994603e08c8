package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errIndexDown = errors.New("index down")

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("elasticsearch", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }

	failing := func() error { return errIndexDown }
	assert.ErrorIs(t, cb.Execute(failing), errIndexDown)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(failing), errIndexDown)
	assert.Equal(t, StateOpen, cb.GetState())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "open circuit must not invoke fn")

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("elasticsearch", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(func() error { return errIndexDown })
	clock = clock.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errIndexDown })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_IgnoredErrorsResetStreak(t *testing.T) {
	errBadQuery := errors.New("bad query")
	cb := NewCircuitBreaker("elasticsearch", CircuitBreakerConfig{
		FailureThreshold: 2,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBadQuery) },
	})

	_ = cb.Execute(func() error { return errIndexDown })
	assert.ErrorIs(t, cb.Execute(func() error { return errBadQuery }), errBadQuery)
	_ = cb.Execute(func() error { return errIndexDown })
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Execute(func() error { return errIndexDown })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "search", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "search")

	err = WithTimeout(context.Background(), time.Second, "search", func(ctx context.Context) error { return errIndexDown })
	assert.ErrorIs(t, err, errIndexDown)

	err = WithTimeout(context.Background(), 0, "search", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
