package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/metrics"
)

func TestAggregator_Stats(t *testing.T) {
	agg := NewAggregator()
	start := agg.startTime
	agg.now = func() time.Time { return start.Add(2 * time.Minute) }

	for _, latency := range []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		agg.Record(LookupEvent{Kind: LookupSummary, Target: "doc-a", Returned: 3, LatencyMs: latency})
	}
	agg.Record(LookupEvent{Kind: LookupTimeline, Target: "doc-b", Empty: true, LatencyMs: 5})
	agg.Record(LookupEvent{Kind: LookupByTitle, Target: "Quarterly report", LatencyMs: 5})
	agg.Record(LookupEvent{Kind: LookupByUUID, Target: "doc-c", Failed: true, LatencyMs: 5})
	agg.Record(LookupEvent{Kind: LookupEventTypes, CacheHit: true, LatencyMs: 1})

	stats := agg.Stats()
	assert.Equal(t, int64(14), stats.TotalLookups)
	assert.Equal(t, int64(10), stats.ByKind[LookupSummary])
	assert.Equal(t, int64(1), stats.ByKind[LookupEventTypes])
	assert.Equal(t, int64(1), stats.EmptyResults)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(40), stats.P50LatencyMs)
	assert.Equal(t, int64(100), stats.P99LatencyMs)
	assert.InDelta(t, 7.0, stats.LookupsPerMinute, 0.001)

	assert.Equal(t, []TargetCount{{"doc-a", 10}, {"doc-b", 1}}, stats.TopDocuments)
	assert.Equal(t, []TargetCount{{"Quarterly report", 1}}, stats.TopTitles)
	assert.Equal(t, []TargetCount{{"doc-b", 1}}, stats.EmptyLookups)
}

func TestAggregator_EmptyStats(t *testing.T) {
	stats := NewAggregator().Stats()
	assert.Zero(t, stats.TotalLookups)
	assert.Zero(t, stats.P95LatencyMs)
	assert.Empty(t, stats.TopDocuments)
	assert.NotNil(t, stats.TopDocuments)
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)

	value, _ := json.Marshal(LookupEvent{Kind: LookupByUUID, Target: "doc-a", Returned: 2, LatencyMs: 12})
	require.NoError(t, handle(context.Background(), []byte("by_uuid"), value))
	require.NoError(t, handle(context.Background(), []byte("by_uuid"), []byte("not json")))

	stats := agg.Stats()
	assert.Equal(t, int64(1), stats.TotalLookups)
	assert.Equal(t, int64(12), stats.P50LatencyMs)
}

func TestTopN_TieBreakByTarget(t *testing.T) {
	got := topN(map[string]int64{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	assert.Equal(t, []TargetCount{{"c", 5}, {"a", 2}, {"b", 2}}, got)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestCollector_PublishesTrackedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 10, nil)
	c.Start(context.Background())

	c.Track(LookupEvent{Kind: LookupTimeline, Target: "doc-a"})
	c.Track(LookupEvent{Kind: LookupSummary, Target: "doc-a"})
	c.Close()

	require.Equal(t, 2, pub.count())
	assert.Equal(t, "timeline", pub.events[0].Key)
	assert.Equal(t, LookupEvent{Kind: LookupTimeline, Target: "doc-a"}, pub.events[0].Value)
}

func TestCollector_DropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewCollector(&recordingPublisher{}, 1, m)

	c.Track(LookupEvent{Kind: LookupByUUID})
	c.Track(LookupEvent{Kind: LookupByUUID})
	c.Track(LookupEvent{Kind: LookupByUUID})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LookupsDroppedTotal))
	c.Close()
}

func TestCollector_PublishErrorsAreSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	c := NewCollector(pub, 4, nil)
	c.Start(context.Background())
	c.Track(LookupEvent{Kind: LookupByTitle})
	c.Close()
	assert.Equal(t, 1, pub.count())
}

func TestCollector_TrackAfterCloseIsDropped(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pub := &recordingPublisher{}
	c := NewCollector(pub, 4, m)
	c.Start(context.Background())
	c.Track(LookupEvent{Kind: LookupSummary})
	c.Close()

	assert.NotPanics(t, func() {
		c.Track(LookupEvent{Kind: LookupSummary})
		c.Close()
	})
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsDroppedTotal))
}

type fakeLister struct {
	snapshots []AggregatedStats
	err       error
	limit     int
}

func (f *fakeLister) ListSnapshots(_ context.Context, limit int) ([]AggregatedStats, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func TestHandler_Stats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(LookupEvent{Kind: LookupSummary, Target: "doc-a", LatencyMs: 3})
	h := NewHandler(agg, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.TotalLookups)
	assert.Equal(t, int64(1), got.ByKind[LookupSummary])
}

func TestHandler_Snapshots(t *testing.T) {
	lister := &fakeLister{}
	h := NewHandler(NewAggregator(), lister)

	rec := httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=9999", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, maxSnapshotLimit, lister.limit)

	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lister.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, defaultSnapshotLimit, lister.limit)
}

func TestHandler_SnapshotsDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(NewAggregator(), nil).Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
