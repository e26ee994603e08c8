package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens/pkg/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's X-Request-ID or generates one, echoes it
// on the response, and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the request ID set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	return logger.RequestID(ctx)
}
