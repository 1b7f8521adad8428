// Package events publishes query-analytics events to Kafka and consumes
// cache-invalidation/index-complete notifications that require bumping the
// Block Cache's session id. The publishing side buffers events in a
// channel and drops them under backpressure rather than blocking the query
// path.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/distsearch/query-core/internal/store/cache"
	"github.com/distsearch/query-core/pkg/kafka"
	"github.com/distsearch/query-core/pkg/resilience"
)

// QueryExecuted is the analytics event emitted once per completed query.
type QueryExecuted struct {
	ClientID      string    `json:"client_id"`
	TermCount     int       `json:"term_count"`
	MaxWordDivNum int32     `json:"max_word_div_num"`
	DocCount      int       `json:"doc_count"`
	DurationMs    int64     `json:"duration_ms"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Collector buffers QueryExecuted events and publishes them to Kafka
// asynchronously. If the internal channel fills up, events are dropped
// with a warning log rather than slowing down query responses.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan QueryExecuted
	logger   *slog.Logger
	done     chan struct{}
	breaker  *resilience.CircuitBreaker
}

// NewCollector creates a Collector with the given Kafka producer and
// channel buffer size. If bufferSize <= 0 it defaults to 10 000. producer
// may be nil to disable publishing entirely.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan QueryExecuted, bufferSize),
		logger:   slog.Default().With("component", "events-collector"),
		done:     make(chan struct{}),
		breaker:  resilience.NewCircuitBreaker("kafka-analytics-publish", resilience.CircuitBreakerConfig{}),
	}
}

// Start begins the background goroutine that reads events from the channel
// and publishes them to Kafka. It stops when ctx is cancelled, draining any
// remaining events before returning.
func (c *Collector) Start(ctx context.Context) {
	if c.producer == nil {
		close(c.done)
		return
	}
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("events collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues a QueryExecuted event for asynchronous publishing. It is
// non-blocking: if the internal buffer is full the event is dropped and a
// warning is logged.
func (c *Collector) Track(event QueryExecuted) {
	if c.producer == nil {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("query-analytics event dropped (buffer full)")
	}
}

// Close shuts down the collector by closing the event channel and waiting
// for the background goroutine to finish draining.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event QueryExecuted) {
	err := c.breaker.Execute(func() error {
		return c.producer.Publish(ctx, kafka.Event{Key: event.ClientID, Value: event})
	})
	if err != nil {
		c.logger.Error("failed to publish query-analytics event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}

// cacheInvalidate is the payload of a cache-invalidate or index-complete
// notification: a new index segment landed, so every Block Cache entry
// must be treated as possibly stale.
type cacheInvalidate struct {
	Reason string `json:"reason"`
}

// InvalidateHandler returns a kafka.MessageHandler that bumps blockCache's
// session id on every cache-invalidate or index-complete message, so that
// in-flight queries keep reading their own pinned blocks while new queries
// pick up freshly indexed data.
func InvalidateHandler(blockCache *cache.Cache) kafka.MessageHandler {
	logger := slog.Default().With("component", "events-invalidate-handler")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[cacheInvalidate](value)
		if err != nil {
			logger.Error("failed to decode cache-invalidate event", "error", err, "key", string(key))
			return nil
		}
		session := blockCache.BeginQuery()
		logger.Info("block cache session bumped", "reason", event.Reason, "session", session)
		return nil
	}
}
