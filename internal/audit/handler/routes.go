// Package handler exposes the audit service over HTTP.
package handler

import "net/http"

// Register mounts the audit API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit/by-uuid/{uuid}", h.ByUUID)
	mux.HandleFunc("GET /api/audit/by-title/{title}", h.ByTitle)
	mux.HandleFunc("GET /api/audit/summary/{uuid}", h.Summary)
	mux.HandleFunc("GET /api/audit/timeline/{uuid}", h.Timeline)
	mux.HandleFunc("GET /api/audit/event-types", h.EventTypes)
	mux.HandleFunc("GET /api/audit/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/audit/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", h.Health)
}
