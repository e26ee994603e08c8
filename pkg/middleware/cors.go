package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig controls Cross-Origin Resource Sharing behaviour.
type CORSConfig struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int // seconds
}

// DefaultCORSConfig allows any origin to read the audit API, which is what
// the browser visualisation front-end needs.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        86400,
	}
}

// CORS sets CORS response headers for allowed origins and answers preflight
// requests with 204.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	wildcard := slices.Contains(cfg.AllowOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !(wildcard || slices.Contains(cfg.AllowOrigins, origin)) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}
			h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
