package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/distsearch/query-core/internal/store/cache"
	"github.com/distsearch/query-core/pkg/config"
	"github.com/distsearch/query-core/pkg/kafka"
)

func TestTrackIsNoOpWithNilProducer(t *testing.T) {
	c := NewCollector(nil, 10)
	c.Start(context.Background())
	// Must not panic or block when Kafka isn't configured.
	c.Track(QueryExecuted{ClientID: "client-1", ExecutedAt: time.Now()})
	c.Close()
}

func TestTrackDropsEventsWhenBufferFull(t *testing.T) {
	// NewProducer only builds the kafka.Writer struct; it does not dial, so
	// this is safe to construct without a running broker as long as
	// Publish is never called (the buffer fills before Start drains it).
	producer := kafka.NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "query-analytics-events")
	c := NewCollector(producer, 1)
	c.Track(QueryExecuted{ClientID: "a"})
	c.Track(QueryExecuted{ClientID: "b"})
	if len(c.eventCh) != 1 {
		t.Fatalf("buffered events = %d, want 1 (second Track should have been dropped)", len(c.eventCh))
	}
}

func TestInvalidateHandlerBumpsCacheSession(t *testing.T) {
	blockCache := cache.New(1<<20, 64, nil)
	before := blockCache.CurrentSession()

	handler := InvalidateHandler(blockCache)
	payload, _ := json.Marshal(map[string]string{"reason": "index-complete"})
	if err := handler(context.Background(), []byte("shard-1"), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}

	after := blockCache.CurrentSession()
	if after != before+1 {
		t.Fatalf("session = %d, want %d", after, before+1)
	}
}

func TestInvalidateHandlerIgnoresUndecodableMessages(t *testing.T) {
	blockCache := cache.New(1<<20, 64, nil)
	before := blockCache.CurrentSession()

	handler := InvalidateHandler(blockCache)
	if err := handler(context.Background(), []byte("shard-1"), []byte("not json")); err != nil {
		t.Fatalf("handler should swallow decode errors, got: %v", err)
	}
	if blockCache.CurrentSession() != before {
		t.Fatal("session should not change on an undecodable message")
	}
}
