// Package service is the boundary the HTTP layer calls. It composes the
// query executor with the summary and timeline builders.
package service

import (
	"context"
	"log/slog"

	"github.com/auditlens/auditlens/internal/audit/aggregate"
	"github.com/auditlens/auditlens/internal/audit/query"
	"github.com/auditlens/auditlens/pkg/logger"
)

// Fetcher is implemented by *query.Executor.
type Fetcher interface {
	FetchByIdentifier(ctx context.Context, id string, opts query.Options) (*query.Page, error)
	FetchByTitle(ctx context.Context, text string, opts query.Options) (*query.TitlePage, error)
	FetchEventTypeCatalog(ctx context.Context) ([]query.EventTypeCount, error)
}

// CatalogCache is implemented by *cache.CatalogCache.
type CatalogCache interface {
	GetOrCompute(ctx context.Context, computeFn func(ctx context.Context) ([]query.EventTypeCount, error)) ([]query.EventTypeCount, bool, error)
}

var timelineSort = query.Sort{Field: "eventDate", Order: query.OrderAsc}

type Service struct {
	fetcher      Fetcher
	historyLimit int
	defaultSort  query.Sort
	catalog      CatalogCache
	logger       *slog.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCatalogCache serves the event-type catalog through c.
func WithCatalogCache(c CatalogCache) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// New creates a Service. historyLimit bounds the events fetched for a
// summary or timeline; defaultSort orders summary fetches.
func New(fetcher Fetcher, historyLimit int, defaultSort query.Sort, opts ...Option) *Service {
	s := &Service{
		fetcher:      fetcher,
		historyLimit: historyLimit,
		defaultSort:  defaultSort,
		logger:       logger.WithComponent("audit-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetByIdentifier(ctx context.Context, id string, opts query.Options) (*query.Page, error) {
	return s.fetcher.FetchByIdentifier(ctx, id, opts)
}

func (s *Service) GetByTitle(ctx context.Context, title string, opts query.Options) (*query.TitlePage, error) {
	return s.fetcher.FetchByTitle(ctx, title, opts)
}

// GetSummary fetches up to the history limit of events for id and groups
// them by event type. Longer histories are truncated.
func (s *Service) GetSummary(ctx context.Context, id string) (*aggregate.Summary, error) {
	page, err := s.fetcher.FetchByIdentifier(ctx, id, query.Options{Size: s.historyLimit, Sort: s.defaultSort})
	if err != nil {
		return nil, err
	}
	s.warnIfTruncated(id, page)
	return aggregate.BuildSummary(id, page.Events), nil
}

// GetTimeline fetches up to the history limit of events for id in
// ascending eventDate order and walks them pairwise.
func (s *Service) GetTimeline(ctx context.Context, id string) (*aggregate.Timeline, error) {
	page, err := s.fetcher.FetchByIdentifier(ctx, id, query.Options{Size: s.historyLimit, Sort: timelineSort})
	if err != nil {
		return nil, err
	}
	s.warnIfTruncated(id, page)
	return aggregate.BuildTimeline(id, page.Events), nil
}

func (s *Service) GetEventTypeCatalog(ctx context.Context) ([]query.EventTypeCount, error) {
	counts, _, err := s.LookupEventTypes(ctx)
	return counts, err
}

// LookupEventTypes is GetEventTypeCatalog that also reports whether the
// catalog came from the cache.
func (s *Service) LookupEventTypes(ctx context.Context) (counts []query.EventTypeCount, cached bool, err error) {
	if s.catalog == nil {
		counts, err = s.fetcher.FetchEventTypeCatalog(ctx)
		return counts, false, err
	}
	return s.catalog.GetOrCompute(ctx, s.fetcher.FetchEventTypeCatalog)
}

func (s *Service) warnIfTruncated(id string, page *query.Page) {
	if page.Total > int64(len(page.Events)) {
		s.logger.Warn("audit history truncated",
			"doc_uuid", id,
			"total", page.Total,
			"fetched", len(page.Events),
		)
	}
}
