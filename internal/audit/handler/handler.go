package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/internal/audit/aggregate"
	"github.com/auditlens/auditlens/internal/audit/query"
	"github.com/auditlens/auditlens/internal/audit/validator"
	"github.com/auditlens/auditlens/pkg/config"
	apperrors "github.com/auditlens/auditlens/pkg/errors"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
	"github.com/auditlens/auditlens/pkg/middleware"
	"github.com/auditlens/auditlens/pkg/tracing"
)

const genericFailure = "An unexpected error occurred"

// AuditService is implemented by *service.Service.
type AuditService interface {
	GetByIdentifier(ctx context.Context, id string, opts query.Options) (*query.Page, error)
	GetByTitle(ctx context.Context, title string, opts query.Options) (*query.TitlePage, error)
	GetSummary(ctx context.Context, id string) (*aggregate.Summary, error)
	GetTimeline(ctx context.Context, id string) (*aggregate.Timeline, error)
	LookupEventTypes(ctx context.Context) ([]query.EventTypeCount, bool, error)
}

// CatalogCache is implemented by *cache.CatalogCache.
type CatalogCache interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) error
}

// Options carries the optional collaborators of a Handler. Nil members
// disable the corresponding feature.
type Options struct {
	Cache   CatalogCache
	Tracker analytics.Tracker
	Metrics *metrics.Metrics
	Tracing bool
}

type Handler struct {
	service     AuditService
	api         config.APIConfig
	development bool
	opts        Options
	logger      *slog.Logger
}

func New(svc AuditService, api config.APIConfig, server config.ServerConfig, opts Options) *Handler {
	return &Handler{
		service:     svc,
		api:         api,
		development: server.IsDevelopment(),
		opts:        opts,
		logger:      logger.WithComponent("audit-handler"),
	}
}

// lookup describes one finished call for logging, metrics and analytics.
type lookup struct {
	kind     analytics.LookupKind
	target   string
	total    int64
	returned int
	cacheHit bool
	err      error
}

func (h *Handler) ByUUID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if err := validator.ValidateIdentifier(id); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	opts, err := validator.ParseListParams(r.URL.Query(), h.api)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	ctx, done := h.begin(r, analytics.LookupByUUID, id)
	page, err := h.service.GetByIdentifier(ctx, id, opts)
	if err != nil {
		done(lookup{err: err})
		h.writeFailure(w, r, err)
		return
	}
	done(lookup{total: page.Total, returned: len(page.Events)})
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) ByTitle(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	if err := validator.ValidateTitle(title); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	opts, err := validator.ParseListParams(r.URL.Query(), h.api)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	ctx, done := h.begin(r, analytics.LookupByTitle, title)
	page, err := h.service.GetByTitle(ctx, title, opts)
	if err != nil {
		done(lookup{err: err})
		h.writeFailure(w, r, err)
		return
	}
	done(lookup{total: page.Total, returned: len(page.Events)})
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if err := validator.ValidateIdentifier(id); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	ctx, done := h.begin(r, analytics.LookupSummary, id)
	summary, err := h.service.GetSummary(ctx, id)
	if err != nil {
		done(lookup{err: err})
		h.writeFailure(w, r, err)
		return
	}
	done(lookup{total: int64(summary.Events), returned: summary.Events})
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if err := validator.ValidateIdentifier(id); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	ctx, done := h.begin(r, analytics.LookupTimeline, id)
	timeline, err := h.service.GetTimeline(ctx, id)
	if err != nil {
		done(lookup{err: err})
		h.writeFailure(w, r, err)
		return
	}
	done(lookup{total: int64(timeline.Events), returned: timeline.Events})
	h.writeJSON(w, http.StatusOK, timeline)
}

func (h *Handler) EventTypes(w http.ResponseWriter, r *http.Request) {
	ctx, done := h.begin(r, analytics.LookupEventTypes, "")
	counts, cached, err := h.service.LookupEventTypes(ctx)
	if err != nil {
		done(lookup{err: err})
		h.writeFailure(w, r, err)
		return
	}
	done(lookup{total: int64(len(counts)), returned: len(counts), cacheHit: cached})
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.opts.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	if err := h.opts.Cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeFailure(w, r, apperrors.Wrap(apperrors.ErrInternal, http.StatusInternalServerError, err, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// begin opens a request span and returns a callback that records the
// outcome once the service call returns.
func (h *Handler) begin(r *http.Request, kind analytics.LookupKind, target string) (context.Context, func(lookup)) {
	start := time.Now()
	requestID := middleware.GetRequestID(r.Context())
	ctx, span := tracing.StartSpan(r.Context(), "audit."+string(kind), requestID)
	span.SetAttr("target", target)

	return ctx, func(l lookup) {
		l.kind, l.target = kind, target
		span.End()
		latency := time.Since(start)
		log := logger.FromContext(ctx)

		if l.err != nil {
			span.SetAttr("error", l.err.Error())
		} else {
			span.SetAttr("events", l.returned)
			log.Info("audit lookup completed",
				"kind", kind,
				"target", target,
				"total", l.total,
				"returned", l.returned,
				"latency_ms", latency.Milliseconds(),
			)
			if h.opts.Metrics != nil && kind != analytics.LookupEventTypes {
				h.opts.Metrics.AuditEventsReturned.WithLabelValues(string(kind)).Observe(float64(l.returned))
			}
		}
		if h.opts.Tracing {
			span.Log()
		}
		if h.opts.Tracker != nil {
			h.opts.Tracker.Track(analytics.LookupEvent{
				Kind:      kind,
				Target:    target,
				Total:     l.total,
				Returned:  l.returned,
				Empty:     l.err == nil && l.returned == 0,
				Failed:    l.err != nil && !errors.Is(l.err, apperrors.ErrInvalidInput),
				CacheHit:  l.cacheHit,
				LatencyMs: latency.Milliseconds(),
				Timestamp: time.Now().UTC(),
				RequestID: requestID,
			})
		}
	}
}

// writeFailure maps err to a response. Validation failures are 400 with
// details; everything else is a generic 500 whose message is only exposed
// in development.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"fields": verr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	if status == http.StatusBadRequest {
		var appErr *apperrors.AppError
		msg := err.Error()
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		h.writeJSON(w, status, map[string]any{"error": msg})
		return
	}

	logger.FromContext(r.Context()).Error("audit request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	message := genericFailure
	if h.development {
		message = err.Error()
	}
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Server error",
		"message": message,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
