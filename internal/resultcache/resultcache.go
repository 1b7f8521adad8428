// Package resultcache caches ranked query responses in Redis, keyed on the
// client and its exact term set, so that repeated identical queries from a
// client (pagination re-requests, retried connections) skip the full PSS/
// DAR/augmentor pipeline. A singleflight.Group collapses concurrent
// identical requests into one pipeline run on top of the go-redis/v9
// client pkg/redis wraps.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/distsearch/query-core/internal/wire"
	"github.com/distsearch/query-core/pkg/metrics"
	"github.com/distsearch/query-core/pkg/redis"
	"github.com/distsearch/query-core/pkg/resilience"
)

// Result is the cached shape of a query response.
type Result struct {
	MaxWordDivNum int32              `json:"max_word_div_num"`
	Docs          []wire.ResponseDoc `json:"docs"`
}

// Compute produces a fresh Result on a cache miss.
type Compute func() (Result, error)

// Cache is the Redis-backed query response cache. A nil *redis.Client
// disables caching entirely: Get always misses and Set is a no-op, so
// callers can wire Cache unconditionally regardless of whether Redis is
// configured.
type Cache struct {
	redis   *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// New creates a Cache backed by client with the given entry TTL. client may
// be nil.
func New(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		redis:   client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "resultcache"),
	}
}

// Key derives a deterministic cache key from clientID and the query's term
// set: the wire factor is excluded since it doesn't change which postings
// are read, only how they'd be weighted by a ranker stage this query core
// doesn't implement.
func Key(clientID string, terms []wire.Term) string {
	sorted := append([]wire.Term(nil), terms...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WordID != sorted[j].WordID {
			return sorted[i].WordID < sorted[j].WordID
		}
		return sorted[i].LocalID < sorted[j].LocalID
	})

	h := sha256.New()
	fmt.Fprintf(h, "client:%s", clientID)
	for _, t := range sorted {
		fmt.Fprintf(h, "|%d:%d", t.WordID, t.LocalID)
	}
	return "querycore:result:" + hex.EncodeToString(h.Sum(nil))
}

// GetOrCompute returns the cached Result for key if present, otherwise runs
// compute, caches its result, and returns it. Concurrent calls sharing key
// collapse onto a single compute invocation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute Compute) (Result, error) {
	if c.redis == nil {
		return compute()
	}

	if result, ok := c.get(ctx, key); ok {
		if c.metrics != nil {
			c.metrics.ResultCacheHitsTotal.Inc()
		}
		return result, nil
	}
	if c.metrics != nil {
		c.metrics.ResultCacheMissesTotal.Inc()
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return Result{}, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) get(ctx context.Context, key string) (Result, bool) {
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("result cache read failed", "key", key, "error", err)
		}
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn("result cache entry corrupt, discarding", "key", key, "error", err)
		return Result{}, false
	}
	return result, true
}

func (c *Cache) set(ctx context.Context, key string, result Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("failed to marshal result for caching", "key", key, "error", err)
		return
	}
	err = resilience.Retry(ctx, "resultcache-write", resilience.RetryConfig{MaxAttempts: 2}, func() error {
		return c.redis.Set(ctx, key, raw, c.ttl)
	})
	if err != nil {
		c.logger.Warn("result cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops key from the cache. It is a no-op when Redis is not
// configured.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, key)
}
