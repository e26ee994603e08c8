// Package query translates document identifiers and titles into search
// requests against the audit index and normalizes the hits into events.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditlens/auditlens/internal/audit"
	"github.com/auditlens/auditlens/pkg/config"
	apperrors "github.com/auditlens/auditlens/pkg/errors"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
	"github.com/auditlens/auditlens/pkg/tracing"
)

const (
	opByIdentifier = "failed to retrieve audit events"
	opByTitle      = "failed to retrieve audit events by title"
	opCatalog      = "failed to retrieve event types"

	// EventTypesAggregation is the aggregation name used by the catalog query.
	EventTypesAggregation = "event_types"
)

// TitleFields are searched by FetchByTitle, highest weight first.
var TitleFields = []string{"comment^3", "comment.fulltext^2", "extended.title"}

// Searcher executes one _search request. *elasticsearch.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, request any, response any) error
}

// Page is one page of events for a single document.
type Page struct {
	Total  int64         `json:"total"`
	Events []audit.Event `json:"events"`
}

// TitlePage is the result of a title lookup. SearchResults lists the
// document identifiers resolved in the discovery phase.
type TitlePage struct {
	Total         int64         `json:"total"`
	Events        []audit.Event `json:"events"`
	SearchResults []string      `json:"searchResults"`
}

// EventTypeCount is one bucket of the event-type catalog.
type EventTypeCount struct {
	EventID string `json:"eventId"`
	Count   int64  `json:"count"`
}

type Executor struct {
	searcher     Searcher
	historyLimit int
	catalogSize  int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Executor. m may be nil.
func New(searcher Searcher, cfg config.APIConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		searcher:     searcher,
		historyLimit: cfg.HistoryLimit,
		catalogSize:  cfg.CatalogSize,
		metrics:      m,
		logger:       logger.WithComponent("query-executor"),
	}
}

// HistoryLimit is the upper bound on events fetched for one document.
func (e *Executor) HistoryLimit() int {
	return e.historyLimit
}

// FetchByIdentifier returns the requested page of events whose docUUID
// matches id.
func (e *Executor) FetchByIdentifier(ctx context.Context, id string, opts Options) (*Page, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	req := SearchRequest{
		Size:  opts.Size,
		From:  opts.From,
		Sort:  opts.Sort.clause(),
		Query: ptr(matchQuery(audit.FieldDocUUID, id)),
	}
	var resp SearchResponse
	if err := e.search(ctx, "by_identifier", req, &resp); err != nil {
		return nil, apperrors.Retrieval(opByIdentifier, err)
	}
	return &Page{Total: resp.Hits.Total.Value, Events: resp.events()}, nil
}

// FetchByTitle resolves text to document identifiers with a weighted
// relevance query, then fetches up to the history limit of events for
// those identifiers. With no identifiers the discovery hits are returned
// as they are.
func (e *Executor) FetchByTitle(ctx context.Context, text string, opts Options) (*TitlePage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	discovery := SearchRequest{
		Size: opts.Size,
		From: opts.From,
		Sort: opts.Sort.clause(),
		Query: &Query{MultiMatch: &MultiMatch{
			Query:  text,
			Fields: TitleFields,
		}},
	}
	var found SearchResponse
	if err := e.search(ctx, "by_title_discovery", discovery, &found); err != nil {
		return nil, apperrors.Retrieval(opByTitle, err)
	}

	ids := distinctDocUUIDs(found.Hits.Hits)
	if len(ids) == 0 {
		return &TitlePage{
			Total:         found.Hits.Total.Value,
			Events:        found.events(),
			SearchResults: []string{},
		}, nil
	}

	history := SearchRequest{
		Size:  e.historyLimit,
		Sort:  opts.Sort.clause(),
		Query: ptr(anyOf(audit.FieldDocUUID, ids)),
	}
	var resp SearchResponse
	if err := e.search(ctx, "by_title_history", history, &resp); err != nil {
		return nil, apperrors.Retrieval(opByTitle, err)
	}
	e.logger.Debug("title resolved", "title", text, "documents", len(ids), "events", len(resp.Hits.Hits))
	return &TitlePage{
		Total:         resp.Hits.Total.Value,
		Events:        resp.events(),
		SearchResults: ids,
	}, nil
}

// FetchEventTypeCatalog returns event types by descending frequency, as
// ordered by the index.
func (e *Executor) FetchEventTypeCatalog(ctx context.Context) ([]EventTypeCount, error) {
	req := SearchRequest{
		Size: 0,
		Aggs: map[string]Aggregation{
			EventTypesAggregation: {Terms: &TermsAggregation{Field: audit.FieldEventID, Size: e.catalogSize}},
		},
	}
	var resp SearchResponse
	if err := e.search(ctx, "event_types", req, &resp); err != nil {
		return nil, apperrors.Retrieval(opCatalog, err)
	}
	agg, ok := resp.Aggregations[EventTypesAggregation]
	if !ok {
		return nil, apperrors.Retrieval(opCatalog, fmt.Errorf("response has no %q aggregation", EventTypesAggregation))
	}
	counts := make([]EventTypeCount, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		counts = append(counts, EventTypeCount{EventID: b.Key, Count: b.DocCount})
	}
	return counts, nil
}

func (e *Executor) search(ctx context.Context, operation string, req SearchRequest, resp *SearchResponse) error {
	ctx, span := tracing.StartChildSpan(ctx, "index."+operation)
	defer span.End()

	start := time.Now()
	err := e.searcher.Search(ctx, req, resp)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		span.SetAttr("error", err.Error())
		e.logger.Error("index query failed",
			"operation", operation,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		span.SetAttr("hits", len(resp.Hits.Hits))
	}
	if e.metrics != nil {
		e.metrics.IndexQueriesTotal.WithLabelValues(operation, status).Inc()
		e.metrics.IndexQueryLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	}
	return err
}

// distinctDocUUIDs returns each non-empty docUUID once, in first-seen order.
func distinctDocUUIDs(hits []Hit) []string {
	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0)
	for _, h := range hits {
		id := h.Source.DocUUID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
