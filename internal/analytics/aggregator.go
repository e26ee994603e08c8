// Package analytics records audit API lookups, aggregates them into
// usage statistics and serves those statistics over HTTP.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/logger"
)

const (
	maxLatencySamples = 100000
	topListSize       = 10
)

type AggregatedStats struct {
	TotalLookups     int64                `json:"total_lookups"`
	ByKind           map[LookupKind]int64 `json:"by_kind"`
	EmptyResults     int64                `json:"empty_results"`
	Failures         int64                `json:"failures"`
	CacheHits        int64                `json:"cache_hits"`
	AvgLatencyMs     float64              `json:"avg_latency_ms"`
	P50LatencyMs     int64                `json:"p50_latency_ms"`
	P95LatencyMs     int64                `json:"p95_latency_ms"`
	P99LatencyMs     int64                `json:"p99_latency_ms"`
	TopDocuments     []TargetCount        `json:"top_documents"`
	TopTitles        []TargetCount        `json:"top_titles"`
	EmptyLookups     []TargetCount        `json:"empty_lookups"`
	LookupsPerMinute float64              `json:"lookups_per_minute"`
	CapturedAt       time.Time            `json:"captured_at"`
}

type TargetCount struct {
	Target string `json:"target"`
	Count  int64  `json:"count"`
}

// Aggregator keeps running lookup statistics in memory.
type Aggregator struct {
	mu           sync.RWMutex
	totalLookups atomic.Int64
	emptyResults atomic.Int64
	failures     atomic.Int64
	cacheHits    atomic.Int64
	byKind       map[LookupKind]int64
	latencies    []int64
	documents    map[string]int64
	titles       map[string]int64
	emptyTargets map[string]int64
	startTime    time.Time
	now          func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byKind:       make(map[LookupKind]int64),
		latencies:    make([]int64, 0, 10000),
		documents:    make(map[string]int64),
		titles:       make(map[string]int64),
		emptyTargets: make(map[string]int64),
		startTime:    time.Now(),
		now:          time.Now,
		logger:       logger.WithComponent("analytics-aggregator"),
	}
}

// HandleEvent decodes lookup events from Kafka into agg. Undecodable
// messages are logged and acknowledged.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[LookupEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode lookup event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Record(event LookupEvent) {
	a.totalLookups.Add(1)
	if event.Failed {
		a.failures.Add(1)
	} else if event.Empty {
		a.emptyResults.Add(1)
	}
	if event.CacheHit {
		a.cacheHits.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.byKind[event.Kind]++
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.totalLookups.Load()%maxLatencySamples] = event.LatencyMs
	}
	if event.Target == "" || event.Failed {
		return
	}
	if event.Kind == LookupByTitle {
		a.titles[event.Target]++
	} else {
		a.documents[event.Target]++
	}
	if event.Empty {
		a.emptyTargets[event.Target]++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	stats := AggregatedStats{
		TotalLookups: a.totalLookups.Load(),
		ByKind:       make(map[LookupKind]int64, len(a.byKind)),
		EmptyResults: a.emptyResults.Load(),
		Failures:     a.failures.Load(),
		CacheHits:    a.cacheHits.Load(),
		CapturedAt:   now.UTC(),
	}
	for k, v := range a.byKind {
		stats.ByKind[k] = v
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopDocuments = topN(a.documents, topListSize)
	stats.TopTitles = topN(a.titles, topListSize)
	stats.EmptyLookups = topN(a.emptyTargets, topListSize)
	if elapsed := now.Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.LookupsPerMinute = float64(stats.TotalLookups) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count descending, then target ascending.
func topN(counts map[string]int64, n int) []TargetCount {
	result := make([]TargetCount, 0, len(counts))
	for target, count := range counts {
		result = append(result, TargetCount{Target: target, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Target < result[j].Target
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
