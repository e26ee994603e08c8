package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/auditlens/auditlens/pkg/kafka"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers lookup events and publishes them one at a time from a
// background goroutine. A full buffer drops events.
type Collector struct {
	publisher Publisher
	eventCh   chan LookupEvent
	metrics   *metrics.Metrics
	logger    *slog.Logger
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool

	mu     sync.RWMutex
	closed bool
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(publisher Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan LookupEvent, bufferSize),
		metrics:   m,
		logger:    logger.WithComponent("analytics-collector"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	c.started.Store(true)
	go func() {
		defer close(c.done)
		for {
			select {
			case event := <-c.eventCh:
				c.publish(ctx, event)
			case <-c.stop:
				c.drainRemaining()
				return
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues event. It never blocks. Events tracked after Close are
// dropped.
func (c *Collector) Track(event LookupEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		if c.metrics != nil {
			c.metrics.LookupsDroppedTotal.Inc()
		}
		return
	}
	select {
	case c.eventCh <- event:
	default:
		if c.metrics != nil {
			c.metrics.LookupsDroppedTotal.Inc()
		}
		c.logger.Warn("analytics event dropped (buffer full)", "kind", event.Kind)
	}
}

// Close stops accepting events and waits for the publish loop to flush
// what is already queued. It is safe to call more than once.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stop)
	}
	c.mu.Unlock()
	if c.started.Load() {
		<-c.done
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event := <-c.eventCh:
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}

func (c *Collector) publish(ctx context.Context, event LookupEvent) {
	if err := c.publisher.Publish(ctx, kafka.Event{
		Key:   string(event.Kind),
		Value: event,
	}); err != nil {
		c.logger.Error("failed to publish analytics event", "kind", event.Kind, "error", err)
	}
}
