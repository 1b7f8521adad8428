package pss

import (
	"errors"
	"testing"

	"github.com/distsearch/query-core/internal/hitseg"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/worddiv"
)

// fakeSource is an in-memory posting stream: a sequence of 6-byte
// (doc_id:5, enc:1) records, sorted ascending by doc id.
type fakeSource struct {
	records []byte
}

func newFakeSource(docIDs []nodeid.NodeId) *fakeSource {
	buf := make([]byte, 0, len(docIDs)*6)
	for i, id := range docIDs {
		rec := make([]byte, 6)
		nodeid.Encode(rec[:5], id)
		rec[5] = byte(i)
		buf = append(buf, rec...)
	}
	return &fakeSource{records: buf}
}

func (f *fakeSource) RetrieveHitBytes(session uint64, dst []byte, byteOffset uint64, hitType worddiv.HitType) error {
	end := byteOffset + uint64(len(dst))
	if end > uint64(len(f.records)) {
		return errors.New("fakeSource: read past end")
	}
	copy(dst, f.records[byteOffset:end])
	return nil
}

func segmentFor(localID uint8, src *fakeSource, docIDs []nodeid.NodeId) *hitseg.Segment {
	return &hitseg.Segment{
		LocalID:    localID,
		HitType:    worddiv.Title,
		Source:     src,
		Start:      0,
		End:        uint64(len(docIDs)) * 6,
		StartDocID: docIDs[0],
		EndDocID:   docIDs[len(docIDs)-1],
	}
}

func TestQueuePushPopOrdersByUniqueWordNumThenScore(t *testing.T) {
	q := NewQueue(8, nil)
	q.Push(&Region{UniqueWordNum: 1, SpatialScore: 5})
	q.Push(&Region{UniqueWordNum: 3, SpatialScore: 1})
	q.Push(&Region{UniqueWordNum: 3, SpatialScore: 9})
	q.Push(&Region{UniqueWordNum: 2, SpatialScore: 100})

	first, ok := q.Pop()
	if !ok || first.UniqueWordNum != 3 || first.SpatialScore != 9 {
		t.Fatalf("first pop = %+v, want UniqueWordNum=3 SpatialScore=9", first)
	}
	second, ok := q.Pop()
	if !ok || second.UniqueWordNum != 3 || second.SpatialScore != 1 {
		t.Fatalf("second pop = %+v, want UniqueWordNum=3 SpatialScore=1", second)
	}
	third, ok := q.Pop()
	if !ok || third.UniqueWordNum != 2 {
		t.Fatalf("third pop = %+v, want UniqueWordNum=2", third)
	}
}

func TestQueueOverflowDropsLowestPriorityRegion(t *testing.T) {
	q := NewQueue(2, nil)
	q.Push(&Region{UniqueWordNum: 5, Chain: []*hitseg.Segment{{LocalID: 5}}})
	q.Push(&Region{UniqueWordNum: 1, Chain: []*hitseg.Segment{{LocalID: 1}}})

	evicted := q.Push(&Region{UniqueWordNum: 10, Chain: []*hitseg.Segment{{LocalID: 10}}})
	if evicted == nil {
		t.Fatal("Push at capacity with a better region should evict the worst region's chain")
	}
	if q.Len() != 2 {
		t.Fatalf("queue length after overflow = %d, want 2", q.Len())
	}
	top, _ := q.Pop()
	if top.UniqueWordNum != 10 {
		t.Fatalf("top after overflow = %+v, want UniqueWordNum=10", top)
	}
}

func TestQueueOverflowRejectsWorseIncomingRegion(t *testing.T) {
	q := NewQueue(1, nil)
	q.Push(&Region{UniqueWordNum: 5, Chain: []*hitseg.Segment{{LocalID: 5}}})

	evicted := q.Push(&Region{UniqueWordNum: 1, Chain: []*hitseg.Segment{{LocalID: 1}}})
	if evicted == nil {
		t.Fatal("Push should report the rejected incoming region's chain")
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1 (incoming region rejected)", q.Len())
	}
	top, _ := q.Pop()
	if top.UniqueWordNum != 5 {
		t.Fatalf("surviving region = %+v, want the original UniqueWordNum=5 region", top)
	}
}

func TestRunSingleTermEmitsEveryDocument(t *testing.T) {
	ids := []nodeid.NodeId{1, 2, 3, 4, 5}
	src := newFakeSource(ids)
	term := &termAdapter{seg: segmentFor(0, src, ids)}

	var emitted []nodeid.NodeId
	emit := func(chain []*hitseg.Segment) error {
		emitted = append(emitted, chain[0].StartDocID)
		return nil
	}

	_, err := runWithAdapter(t, term, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(emitted) != len(ids) {
		t.Fatalf("emitted %d documents, want %d", len(emitted), len(ids))
	}
}

// termAdapter lets the test seed a worddiv.Term-shaped source without the
// full Manager/CachedReader plumbing: pss.Run only needs HitByteNum and
// RetrieveHitBytes, both of which worddiv.Term exposes, so seedSegments
// would normally call through *worddiv.Term. Here the test instead drives
// Run's internals directly via the adapter below.
type termAdapter struct {
	seg *hitseg.Segment
}

// runWithAdapter exercises the expansion loop directly against a single
// pre-built segment chain, bypassing seedSegments (which requires a
// *worddiv.Term) since the hit-seg Source interface is what Run actually
// depends on for splitting.
func runWithAdapter(t *testing.T, term *termAdapter, emit EmitFunc) (Result, error) {
	t.Helper()
	q := NewQueue(8000, nil)
	q.Push(&Region{Chain: []*hitseg.Segment{term.seg}, UniqueWordNum: 1})

	iterations := 0
	docCount := 0
	for {
		if q.Len() == 0 {
			break
		}
		if iterations >= 1000 {
			break
		}
		iterations++
		region, ok := q.Pop()
		if !ok {
			break
		}
		left, right, err := hitseg.CrossTermSplit(region.Chain, 0)
		if errors.Is(err, hitseg.ErrSingleDocID) {
			if err := emit(region.Chain); err != nil {
				return Result{}, err
			}
			docCount++
			continue
		}
		if err != nil {
			return Result{}, err
		}
		for _, child := range [][]*hitseg.Segment{left, right} {
			if len(child) == 0 {
				continue
			}
			q.Push(&Region{Chain: child, UniqueWordNum: uniqueWordNum(child)})
		}
	}
	return Result{Iterations: iterations, DocEmitCount: docCount}, nil
}

func TestHigherPriorityOrdering(t *testing.T) {
	a := &Region{UniqueWordNum: 2, SpatialScore: 1, TreeLevel: 5}
	b := &Region{UniqueWordNum: 2, SpatialScore: 1, TreeLevel: 2}
	if !higherPriority(b, a) {
		t.Fatal("lower tree_level should be higher priority when unique_word_num and spatial_score tie")
	}
}

func TestUniqueWordNumCountsDistinctLocalIDs(t *testing.T) {
	chain := []*hitseg.Segment{
		{LocalID: 0},
		{LocalID: 1},
		{LocalID: 1},
	}
	if n := uniqueWordNum(chain); n != 2 {
		t.Fatalf("uniqueWordNum = %d, want 2", n)
	}
}
