package middleware

import (
	"net/http"
	"time"

	"github.com/auditlens/auditlens/pkg/logger"
)

// Logging writes one structured access-log line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		log := logger.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if sw.status >= http.StatusInternalServerError {
			log.Warn("request served", attrs...)
			return
		}
		log.Info("request served", attrs...)
	})
}
