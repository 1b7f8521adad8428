// Package cache implements the Block Cache (BC): a process-global, arena-
// indexed LRU over decompressed Compressed Block Store blocks, with
// per-query session pinning so that blocks touched by the query currently
// running are never evicted out from under it.
//
// A conventional pointer-chasing LRU (and libraries such as
// hashicorp/golang-lru) cannot express this: eviction candidates must be
// skippable based on a live session id, which means the eviction walk needs
// access to more than "least recently used" — it needs "least recently used
// among entries not pinned to the current session". So the cache is
// hand-rolled here, following the arena-indexed-instead-of-pointer-graph
// guidance for exactly this kind of cyclic structure: slots live in a flat
// slice, and LRU/hash links are slot indices rather than pointers.
package cache

import (
	"hash/fnv"
	"sync"

	"github.com/distsearch/query-core/pkg/metrics"
)

// Key identifies one cached block: the owning file handle and its block
// index within that file's CBS store.
type Key struct {
	FileHandleID uint32
	BlockID      uint64
}

func (k Key) hash() uint64 {
	h := fnv.New64a()
	var buf [12]byte
	buf[0] = byte(k.FileHandleID)
	buf[1] = byte(k.FileHandleID >> 8)
	buf[2] = byte(k.FileHandleID >> 16)
	buf[3] = byte(k.FileHandleID >> 24)
	for i := 0; i < 8; i++ {
		buf[4+i] = byte(k.BlockID >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

const nilSlot = -1

type entry struct {
	key       Key
	data      []byte
	sessionID uint64
	lruPrev   int32
	lruNext   int32
	hashNext  int32
	free      bool
}

// Loader fetches a block's decompressed bytes on a cache miss.
type Loader func() ([]byte, error)

// Cache is the process-global Block Cache. It is safe for concurrent use,
// though the query execution core's single-threaded-per-query model means
// most access is naturally serialized already.
type Cache struct {
	mu sync.Mutex

	entries  []entry
	freeList []int32
	buckets  []int32

	lruHead int32
	lruTail int32

	bytesLoaded int64
	maxBytes    int64

	sessionID uint64

	lastKey  Key
	lastSlot int32
	haveLast bool

	metrics *metrics.Metrics
}

// New creates a Block Cache bounded at maxBytes total decompressed bytes.
// hashHeaderKB sizes the bucket array (one int32 slot id per 4 bytes of
// budget) per §4.2's chain-head-per-byte-budget hash table layout; m may be
// nil to disable metrics recording.
func New(maxBytes int64, hashHeaderKB int, m *metrics.Metrics) *Cache {
	numBuckets := hashHeaderKB * 1024 / 4
	if numBuckets < 1 {
		numBuckets = 1024
	}
	buckets := make([]int32, numBuckets)
	for i := range buckets {
		buckets[i] = nilSlot
	}
	return &Cache{
		maxBytes: maxBytes,
		buckets:  buckets,
		lruHead:  nilSlot,
		lruTail:  nilSlot,
		lastSlot: nilSlot,
		metrics:  m,
	}
}

// BeginQuery bumps the global session id, implicitly unpinning every entry
// pinned by the previous query — no entry carries the new id until it is
// next touched.
func (c *Cache) BeginQuery() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID++
	return c.sessionID
}

// CurrentSession returns the session id a query started with BeginQuery
// should pass to Get to keep its blocks pinned.
func (c *Cache) CurrentSession() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Get returns the decompressed bytes for key, loading them via load on a
// miss. session must be the value returned by the query's BeginQuery call;
// any block fetched under that session is protected from eviction until a
// later BeginQuery call supersedes it.
func (c *Cache) Get(key Key, session uint64, load Loader) ([]byte, error) {
	c.mu.Lock()
	if c.haveLast && c.lastKey == key {
		slot := c.lastSlot
		c.entries[slot].sessionID = session
		c.moveToFront(slot)
		data := c.entries[slot].data
		c.mu.Unlock()
		c.recordHit()
		return data, nil
	}
	if slot, ok := c.lookup(key); ok {
		c.entries[slot].sessionID = session
		c.moveToFront(slot)
		c.lastKey, c.lastSlot, c.haveLast = key, slot, true
		data := c.entries[slot].data
		c.mu.Unlock()
		c.recordHit()
		return data, nil
	}
	c.mu.Unlock()

	c.recordMiss()
	data, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.lookup(key); ok {
		// Raced with another loader for the same key; keep the existing entry.
		c.entries[slot].sessionID = session
		c.moveToFront(slot)
		return c.entries[slot].data, nil
	}
	slot := c.insert(key, data, session)
	c.lastKey, c.lastSlot, c.haveLast = key, slot, true
	return data, nil
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.BlockCacheHitsTotal.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.BlockCacheMissesTotal.Inc()
	}
}

// lookup must be called with c.mu held.
func (c *Cache) lookup(key Key) (int32, bool) {
	bucket := int(key.hash() % uint64(len(c.buckets)))
	for slot := c.buckets[bucket]; slot != nilSlot; slot = c.entries[slot].hashNext {
		if c.entries[slot].key == key {
			return slot, true
		}
	}
	return nilSlot, false
}

// insert must be called with c.mu held. It evicts from the LRU tail as
// needed to stay within maxBytes, skipping entries pinned to the current
// query's session, then creates a new entry at the LRU head.
func (c *Cache) insert(key Key, data []byte, session uint64) int32 {
	incoming := int64(len(data))
	for c.bytesLoaded+incoming > c.maxBytes {
		victim := c.evictableTailSlot(session)
		if victim == nilSlot {
			break
		}
		c.evict(victim)
	}

	slot := c.allocSlot()
	c.entries[slot] = entry{
		key:       key,
		data:      data,
		sessionID: session,
		lruPrev:   nilSlot,
		lruNext:   nilSlot,
		hashNext:  nilSlot,
	}
	bucket := int(key.hash() % uint64(len(c.buckets)))
	c.entries[slot].hashNext = c.buckets[bucket]
	c.buckets[bucket] = slot

	c.pushFront(slot)
	c.bytesLoaded += incoming
	if c.metrics != nil {
		c.metrics.BlockCacheBytesInUse.Set(float64(c.bytesLoaded))
	}
	return slot
}

// evictableTailSlot walks the LRU list from the tail looking for the first
// entry not pinned to session. Pinned entries are skipped rather than
// evicted; if every live entry is pinned, the cache is allowed to exceed
// its budget for the rest of the query.
func (c *Cache) evictableTailSlot(session uint64) int32 {
	for slot := c.lruTail; slot != nilSlot; slot = c.entries[slot].lruPrev {
		if c.entries[slot].sessionID != session {
			return slot
		}
	}
	return nilSlot
}

func (c *Cache) evict(slot int32) {
	key := c.entries[slot].key
	bucket := int(key.hash() % uint64(len(c.buckets)))
	prev := int32(nilSlot)
	for cur := c.buckets[bucket]; cur != nilSlot; cur = c.entries[cur].hashNext {
		if cur == slot {
			if prev == nilSlot {
				c.buckets[bucket] = c.entries[cur].hashNext
			} else {
				c.entries[prev].hashNext = c.entries[cur].hashNext
			}
			break
		}
		prev = cur
	}

	c.unlink(slot)
	c.bytesLoaded -= int64(len(c.entries[slot].data))
	if c.metrics != nil {
		c.metrics.BlockCacheBytesInUse.Set(float64(c.bytesLoaded))
		c.metrics.BlockCacheEvictedTotal.Inc()
	}
	if c.haveLast && c.lastSlot == slot {
		c.haveLast = false
	}
	c.entries[slot] = entry{free: true}
	c.freeList = append(c.freeList, slot)
}

func (c *Cache) allocSlot() int32 {
	if n := len(c.freeList); n > 0 {
		slot := c.freeList[n-1]
		c.freeList = c.freeList[:n-1]
		return slot
	}
	c.entries = append(c.entries, entry{})
	return int32(len(c.entries) - 1)
}

func (c *Cache) pushFront(slot int32) {
	c.entries[slot].lruPrev = nilSlot
	c.entries[slot].lruNext = c.lruHead
	if c.lruHead != nilSlot {
		c.entries[c.lruHead].lruPrev = slot
	}
	c.lruHead = slot
	if c.lruTail == nilSlot {
		c.lruTail = slot
	}
}

func (c *Cache) unlink(slot int32) {
	e := c.entries[slot]
	if e.lruPrev != nilSlot {
		c.entries[e.lruPrev].lruNext = e.lruNext
	} else {
		c.lruHead = e.lruNext
	}
	if e.lruNext != nilSlot {
		c.entries[e.lruNext].lruPrev = e.lruPrev
	} else {
		c.lruTail = e.lruPrev
	}
}

func (c *Cache) moveToFront(slot int32) {
	if c.lruHead == slot {
		return
	}
	c.unlink(slot)
	c.pushFront(slot)
}

// BytesInUse returns the current total decompressed bytes held by the cache.
func (c *Cache) BytesInUse() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesLoaded
}
