package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/auditlens/auditlens/pkg/logger"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 500
)

// SnapshotLister is implemented by *aggregator.Store.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]AggregatedStats, error)
}

type Handler struct {
	aggregator *Aggregator
	snapshots  SnapshotLister
	logger     *slog.Logger
}

// NewHandler creates the analytics HTTP handler. snapshots may be nil when
// persistence is disabled.
func NewHandler(aggregator *Aggregator, snapshots SnapshotLister) *Handler {
	return &Handler{
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     logger.WithComponent("analytics-handler"),
	}
}

// Stats serves GET /api/v1/analytics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

// Snapshots serves GET /api/v1/analytics/snapshots?limit=N, newest first.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot persistence is disabled"})
		return
	}
	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSnapshotLimit)
	}
	snapshots, err := h.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing snapshots failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list snapshots"})
		return
	}
	if snapshots == nil {
		snapshots = []AggregatedStats{}
	}
	h.writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
