package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRetrievalFailed = errors.New("retrieval failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

// AppError pairs a sentinel kind with a caller-facing message and, when the
// error was produced by a failing dependency, the underlying cause.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap attaches cause to a sentinel kind. The message names the operation
// that failed; Error() renders "message: cause".
func Wrap(sentinel error, statusCode int, cause error, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Retrieval wraps an index failure as ErrRetrievalFailed for operation op.
func Retrieval(op string, cause error) *AppError {
	return Wrap(ErrRetrievalFailed, http.StatusInternalServerError, cause, op)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
