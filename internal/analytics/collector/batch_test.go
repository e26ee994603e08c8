package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/metrics"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (r *batchRecorder) PublishBatch(_ context.Context, events []kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, events)
	return nil
}

func (r *batchRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBatchCollector_FlushesOnSize(t *testing.T) {
	rec := &batchRecorder{}
	bc := NewBatchCollector(rec, 3, time.Hour, nil)

	for i := 0; i < 3; i++ {
		bc.Track(analytics.LookupEvent{Kind: analytics.LookupSummary, Target: "doc-a"})
	}
	require.Eventually(t, func() bool { return rec.total() == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, bc.BufferLen())
	assert.Equal(t, "summary", rec.batches[0][0].Key)
}

func TestBatchCollector_FinalFlushOnShutdown(t *testing.T) {
	rec := &batchRecorder{}
	bc := NewBatchCollector(rec, 100, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track(analytics.LookupEvent{Kind: analytics.LookupTimeline})
	bc.Track(analytics.LookupEvent{Kind: analytics.LookupTimeline})
	cancel()
	bc.Close()

	assert.Equal(t, 2, rec.total())
}

func TestBatchCollector_RequeuesAndDropsOverflow(t *testing.T) {
	rec := &batchRecorder{err: errors.New("broker unavailable")}
	m := metrics.New(prometheus.NewRegistry())
	bc := NewBatchCollector(rec, 2, time.Hour, m)

	for i := 0; i < 7; i++ {
		bc.mu.Lock()
		bc.buffer = append(bc.buffer, kafka.Event{Key: "by_uuid"})
		bc.mu.Unlock()
	}
	bc.Flush(context.Background())

	assert.Equal(t, 6, bc.BufferLen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsDroppedTotal))

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	bc.Flush(context.Background())
	assert.Equal(t, 6, rec.total())
	assert.Zero(t, bc.BufferLen())
}
