package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. Exceeding it yields an error wrapping
// context.DeadlineExceeded and naming the operation.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	var err error
	select {
	case err = <-done:
		if err == nil || !errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return err
		}
	case <-timeoutCtx.Done():
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
	}
	return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
}
