// Package tracing records request-scoped span trees carried in a context and
// writes them to slog once the request finishes.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type contextKey struct{}

type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	attrs    map[string]any
	children []*Span
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
}

// StartSpan starts a root span for traceID, normally the request ID.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan starts a span under the one in ctx. Without a parent the
// child is detached and never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	var traceID string
	if parent != nil {
		traceID = parent.TraceID
	}
	child := newSpan(name, traceID)
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attr returns a previously set attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Children returns a snapshot of the direct child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes one record per span, depth first.
func (s *Span) Log() {
	s.log(slog.Default(), 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, s.attrs[k]))
	}
	duration := s.Duration
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.Info("span",
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
		"duration_ms", duration.Milliseconds(),
		slog.Group("attrs", attrs...),
	)
	for _, child := range children {
		child.log(logger, depth+1)
	}
}
