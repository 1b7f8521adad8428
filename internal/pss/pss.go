// Package pss implements Priority Spatial Search (PSS): bounded-work
// best-first expansion of doc-id ranges across the posting streams of all
// surviving query terms, using a size-limited priority queue ordered by
// (unique-term-count, density-score, depth). Its bounded min/max-heap is a
// container/heap priority queue with the comparator swapped for the
// Priority Region ordering in §4.5.
package pss

import (
	"container/heap"

	"github.com/distsearch/query-core/internal/hitseg"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/worddiv"
	"github.com/distsearch/query-core/pkg/metrics"
)

// Region is a chain of Hit Segments covering one doc-id range across
// multiple terms, with the tie-break fields PSS orders its queue by.
type Region struct {
	Chain         []*hitseg.Segment
	UniqueWordNum int
	SpatialScore  float64
	TreeLevel     uint16
	Rank          int32
}

// higherPriority reports whether a should be expanded before b: primary key
// unique_word_num descending, secondary spatial_score descending, tertiary
// tree_level ascending.
func higherPriority(a, b *Region) bool {
	if a.UniqueWordNum != b.UniqueWordNum {
		return a.UniqueWordNum > b.UniqueWordNum
	}
	if a.SpatialScore != b.SpatialScore {
		return a.SpatialScore > b.SpatialScore
	}
	return a.TreeLevel < b.TreeLevel
}

// regionHeap is a container/heap.Interface ordered so that Pop always
// returns the highest-priority region (the heap root is the "smallest"
// element under higherPriority, which is the one that should go first).
type regionHeap []*Region

func (h regionHeap) Len() int            { return len(h) }
func (h regionHeap) Less(i, j int) bool  { return higherPriority(h[i], h[j]) }
func (h regionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *regionHeap) Push(x interface{}) { *h = append(*h, x.(*Region)) }
func (h *regionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the bounded priority queue of Priority Regions (capacity 8 000
// by default). On overflow, the lowest-priority region is discarded and its
// hit-segment chain returned to the caller as a best-effort arena-reclaim
// hint.
type Queue struct {
	items   regionHeap
	cap     int
	metrics *metrics.Metrics
}

// NewQueue creates a Queue bounded at capacity regions; m may be nil.
func NewQueue(capacity int, m *metrics.Metrics) *Queue {
	q := &Queue{cap: capacity, metrics: m}
	heap.Init(&q.items)
	return q
}

// Len returns the number of regions currently queued.
func (q *Queue) Len() int { return q.items.Len() }

// Push inserts r, evicting the lowest-priority region if the queue is at
// capacity and r outranks it. At capacity it returns the chain of whichever
// region was dropped: the evicted one, or r itself when r does not outrank
// the current worst. It returns nil when the queue had room.
func (q *Queue) Push(r *Region) []*hitseg.Segment {
	if q.items.Len() < q.cap {
		heap.Push(&q.items, r)
		return nil
	}
	worstIdx := 0
	for i := 1; i < len(q.items); i++ {
		if higherPriority(q.items[worstIdx], q.items[i]) {
			worstIdx = i
		}
	}
	if q.metrics != nil {
		q.metrics.PSSQueueOverflowTotal.Inc()
	}
	if higherPriority(r, q.items[worstIdx]) {
		evicted := q.items[worstIdx]
		heap.Remove(&q.items, worstIdx)
		heap.Push(&q.items, r)
		return evicted.Chain
	}
	return r.Chain
}

// Pop removes and returns the highest-priority region.
func (q *Queue) Pop() (*Region, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Region), true
}

// PeekUniqueWordNum returns the unique_word_num of the current top region,
// or -1 if the queue is empty.
func (q *Queue) PeekUniqueWordNum() int {
	if q.items.Len() == 0 {
		return -1
	}
	return q.items[0].UniqueWordNum
}

// spatialScore implements §4.5's density signal: sum over segments of
// (6 / segment_byte_width) weighted by hit type, favouring chains whose
// hits are packed densely rather than spread thin.
func spatialScore(chain []*hitseg.Segment) float64 {
	var score float64
	for _, seg := range chain {
		width := seg.ByteWidth()
		if width == 0 {
			continue
		}
		weight := 1.0
		if seg.HitType == worddiv.Title {
			weight = 2.0
		}
		score += (6.0 / float64(width)) * weight
	}
	return score
}

// uniqueWordNum counts the distinct local ids represented in chain.
func uniqueWordNum(chain []*hitseg.Segment) int {
	seen := make(map[uint8]struct{}, len(chain))
	for _, s := range chain {
		seen[s.LocalID] = struct{}{}
	}
	return len(seen)
}

// TermStream is one surviving query term's posting access, with its
// client-assigned local id.
type TermStream struct {
	LocalID uint8
	Term    *worddiv.Term
}

// EmitFunc receives a terminal region (one covering a single doc id) for
// the Document Assembler & Ranker to fold into its document map.
type EmitFunc func(chain []*hitseg.Segment) error

// Result summarises one PSS run for metrics, logging, and audit purposes.
type Result struct {
	MaxWordDivNum   int
	Iterations      int
	BudgetExhausted bool
	DocEmitCount    int
}

// Run drives the seed → client-partition → pre-partition → expansion
// sequence of §4.5 over terms, emitting terminal regions through emit.
// maxWordDivNum is the running maximum unique_word_num observed, seeded
// from the caller (the orchestrator carries it across title→excerpt
// phases per §9). docCap bounds the number of terminal documents emitted
// in this run (0 disables the cap; the title phase uses the configured
// title-hit cap).
func Run(
	terms []TermStream,
	hitType worddiv.HitType,
	clientID, clientNum int,
	maxIt int,
	queueCap int,
	partLevel int,
	docCap int,
	maxWordDivNumIn int,
	session uint64,
	emit EmitFunc,
	m *metrics.Metrics,
) (Result, error) {
	q := NewQueue(queueCap, m)
	maxWordDivNum := maxWordDivNumIn
	iterations := 0
	docCount := 0
	rankCounter := int32(0)

	seed, err := seedSegments(terms, hitType, session)
	if err != nil {
		return Result{}, err
	}
	if len(seed) == 0 {
		return Result{MaxWordDivNum: maxWordDivNum}, nil
	}

	partitioned, err := clientPartition(seed, clientID, clientNum, session)
	if err != nil {
		return Result{}, err
	}
	if len(partitioned) == 0 {
		return Result{MaxWordDivNum: maxWordDivNum}, nil
	}

	leaves, err := prePartition(partitioned, hitType, partLevel, maxWordDivNum, session)
	if err != nil {
		return Result{}, err
	}
	for _, leaf := range leaves {
		uwn := uniqueWordNum(leaf)
		if uwn > maxWordDivNum {
			maxWordDivNum = uwn
		}
		q.Push(&Region{Chain: leaf, UniqueWordNum: uwn, SpatialScore: spatialScore(leaf)})
	}

	budgetExhausted := false
	for {
		if q.Len() == 0 {
			break
		}
		if docCap > 0 && docCount >= docCap {
			break
		}
		if iterations >= maxIt {
			budgetExhausted = true
			break
		}
		if q.PeekUniqueWordNum() < maxWordDivNum {
			break
		}
		iterations++

		region, ok := q.Pop()
		if !ok {
			break
		}

		left, right, err := hitseg.CrossTermSplit(region.Chain, session)
		if err == hitseg.ErrSingleDocID {
			if err := emit(region.Chain); err != nil {
				return Result{}, err
			}
			docCount++
			continue
		}
		if err != nil {
			return Result{}, err
		}

		rankCounter++
		for _, child := range [][]*hitseg.Segment{left, right} {
			if len(child) == 0 {
				continue
			}
			uwn := uniqueWordNum(child)
			if uwn > maxWordDivNum {
				maxWordDivNum = uwn
			}
			if uwn < maxWordDivNum {
				continue
			}
			q.Push(&Region{
				Chain:         child,
				UniqueWordNum: uwn,
				SpatialScore:  spatialScore(child),
				TreeLevel:     region.TreeLevel + 1,
				Rank:          rankCounter + region.Rank,
			})
		}
	}

	if m != nil {
		m.PSSIterationsTotal.WithLabelValues(hitType.String()).Observe(float64(iterations))
		if budgetExhausted {
			m.QueryBudgetExhausted.WithLabelValues(hitType.String()).Inc()
		}
	}

	return Result{
		MaxWordDivNum:   maxWordDivNum,
		Iterations:      iterations,
		BudgetExhausted: budgetExhausted,
		DocEmitCount:    docCount,
	}, nil
}

// seedSegments constructs the initial full-range hit segment for each
// surviving term, reading its boundary doc ids from the first and last
// 6-byte records of the stream.
func seedSegments(terms []TermStream, hitType worddiv.HitType, session uint64) ([]*hitseg.Segment, error) {
	var chain []*hitseg.Segment
	for _, ts := range terms {
		length := ts.Term.HitByteNum(hitType)
		if length == 0 {
			continue
		}
		startBuf := make([]byte, nodeid.Size)
		if err := ts.Term.RetrieveHitBytes(session, startBuf, 0, hitType); err != nil {
			return nil, err
		}
		startID, err := nodeid.Decode(startBuf)
		if err != nil {
			return nil, err
		}
		endBuf := make([]byte, nodeid.Size)
		if err := ts.Term.RetrieveHitBytes(session, endBuf, length-6, hitType); err != nil {
			return nil, err
		}
		endID, err := nodeid.Decode(endBuf)
		if err != nil {
			return nil, err
		}
		chain = append(chain, &hitseg.Segment{
			LocalID:    ts.LocalID,
			HitType:    hitType,
			Source:     ts.Term,
			Start:      0,
			End:        length,
			StartDocID: startID,
			EndDocID:   endID,
		})
	}
	return chain, nil
}

// clientPartition implements the boundary partition of §5: divides the
// union doc-id range evenly across clientNum clients and keeps only this
// client's band.
func clientPartition(chain []*hitseg.Segment, clientID, clientNum int, session uint64) ([]*hitseg.Segment, error) {
	if clientNum <= 1 {
		return chain, nil
	}
	start, end := unionRange(chain)
	if start >= end {
		return chain, nil
	}
	total := uint64(end) - uint64(start)
	base := total / uint64(clientNum)
	extra := total % uint64(clientNum)

	var bandStart uint64
	for i := 0; i < clientID; i++ {
		width := base
		if uint64(i) < extra {
			width++
		}
		bandStart += width
	}
	bandWidth := base
	if uint64(clientID) < extra {
		bandWidth++
	}
	bandEnd := bandStart + bandWidth

	loDocID := nodeid.NodeId(uint64(start) + bandStart)
	hiDocID := nodeid.NodeId(uint64(start) + bandEnd)

	cur := chain
	if clientID > 0 {
		_, right, err := hitseg.SplitChainAtDocID(cur, loDocID, session)
		if err != nil {
			return nil, err
		}
		cur = right
	}
	if clientID < clientNum-1 {
		left, _, err := hitseg.SplitChainAtDocID(cur, hiDocID, session)
		if err != nil {
			return nil, err
		}
		cur = left
	}
	return cur, nil
}

func unionRange(chain []*hitseg.Segment) (nodeid.NodeId, nodeid.NodeId) {
	start, end := nodeid.Max, nodeid.NodeId(0)
	for _, s := range chain {
		if s.StartDocID < start {
			start = s.StartDocID
		}
		if s.EndDocID > end {
			end = s.EndDocID
		}
	}
	return start, end
}

// prePartition recursively splits chain at the midpoint of its doc-id union
// until partLevel recursion depth is reached or a child's unique_word_num
// falls below maxWordDivNum, producing the leaves that seed the expansion
// queue.
func prePartition(chain []*hitseg.Segment, hitType worddiv.HitType, partLevel int, maxWordDivNum int, session uint64) ([][]*hitseg.Segment, error) {
	return prePartitionLevel(chain, partLevel, maxWordDivNum, session)
}

func prePartitionLevel(chain []*hitseg.Segment, levelsRemaining int, maxWordDivNum int, session uint64) ([][]*hitseg.Segment, error) {
	if levelsRemaining <= 0 || len(chain) == 0 {
		return [][]*hitseg.Segment{chain}, nil
	}
	left, right, err := hitseg.CrossTermSplit(chain, session)
	if err == hitseg.ErrSingleDocID {
		return [][]*hitseg.Segment{chain}, nil
	}
	if err != nil {
		return nil, err
	}

	var leaves [][]*hitseg.Segment
	for _, child := range [][]*hitseg.Segment{left, right} {
		if len(child) == 0 {
			continue
		}
		if uniqueWordNum(child) < maxWordDivNum {
			continue
		}
		sub, err := prePartitionLevel(child, levelsRemaining-1, maxWordDivNum, session)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}
