// Package collector provides a batch-oriented lookup collector that
// accumulates events in memory and flushes them to Kafka in bulk.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auditlens/auditlens/internal/analytics"
	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
)

// BatchPublisher is implemented by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector accumulates lookup events and flushes them either when the
// batch reaches batchSize or after flushInterval. It satisfies
// analytics.Tracker.
type BatchCollector struct {
	publisher     BatchPublisher
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	done          chan struct{}
}

var _ analytics.Tracker = (*BatchCollector)(nil)

// NewBatchCollector creates a BatchCollector. m may be nil.
func NewBatchCollector(publisher BatchPublisher, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       m,
		logger:        logger.WithComponent("batch-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and then performs a final flush.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers event. A full batch is flushed asynchronously.
func (bc *BatchCollector) Track(event analytics.LookupEvent) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: string(event.Kind), Value: event})
	shouldFlush := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if shouldFlush {
		go bc.Flush(context.Background())
	}
}

// Close waits for the background flush loop to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

// BufferLen returns the current number of buffered events.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes everything buffered so far. Failed batches are re-queued
// up to three batches' worth; the overflow is dropped.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if limit := bc.batchSize * 3; len(bc.buffer) > limit {
			dropped := len(bc.buffer) - limit
			bc.buffer = bc.buffer[:limit]
			if bc.metrics != nil {
				bc.metrics.LookupsDroppedTotal.Add(float64(dropped))
			}
			bc.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		bc.mu.Unlock()
		return
	}

	bc.logger.Debug("batch flushed", "events", len(batch))
}
