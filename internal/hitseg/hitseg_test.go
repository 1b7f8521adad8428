package hitseg

import (
	"errors"
	"testing"

	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/worddiv"
)

// fakeSource is an in-memory posting stream for one hit type: a sequence of
// 6-byte (doc_id:5, enc:1) records, sorted ascending by doc id.
type fakeSource struct {
	records []byte
}

func newFakeSource(docIDs []nodeid.NodeId) *fakeSource {
	buf := make([]byte, 0, len(docIDs)*recordSize)
	for i, id := range docIDs {
		rec := make([]byte, recordSize)
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

func segmentFor(src *fakeSource, docIDs []nodeid.NodeId) *Segment {
	return &Segment{
		Source:     src,
		Start:      0,
		End:        uint64(len(docIDs)) * recordSize,
		StartDocID: docIDs[0],
		EndDocID:   docIDs[len(docIDs)-1],
	}
}

func TestSplitSingleDocIDReturnsErrSingleDocID(t *testing.T) {
	ids := []nodeid.NodeId{7, 7, 7}
	src := newFakeSource(ids)
	seg := segmentFor(src, ids)

	_, _, err := seg.Split(0)
	if !errors.Is(err, ErrSingleDocID) {
		t.Fatalf("Split error = %v, want ErrSingleDocID", err)
	}
}

func TestSplitProducesAlignedNonOverlappingChildren(t *testing.T) {
	ids := []nodeid.NodeId{1, 1, 2, 2, 3, 3, 4, 4}
	src := newFakeSource(ids)
	seg := segmentFor(src, ids)

	left, right, err := seg.Split(0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if left.Start%recordSize != 0 || left.End%recordSize != 0 {
		t.Fatalf("left segment not 6-byte aligned: [%d,%d)", left.Start, left.End)
	}
	if right.Start%recordSize != 0 || right.End%recordSize != 0 {
		t.Fatalf("right segment not 6-byte aligned: [%d,%d)", right.Start, right.End)
	}
	if left.End != right.Start {
		t.Fatalf("children are not adjacent: left ends at %d, right starts at %d", left.End, right.Start)
	}
	if left.Start != seg.Start || right.End != seg.End {
		t.Fatalf("children do not cover the full parent range")
	}
	if left.StartDocID != seg.StartDocID || right.EndDocID != seg.EndDocID {
		t.Fatalf("child boundary doc ids do not match parent")
	}
	if left.EndDocID > right.StartDocID {
		t.Fatalf("left.EndDocID (%d) > right.StartDocID (%d)", left.EndDocID, right.StartDocID)
	}
}

func TestFindBeginningOfDocIDAlignsToRunStart(t *testing.T) {
	ids := []nodeid.NodeId{5, 5, 5, 9, 9}
	src := newFakeSource(ids)

	begin, err := FindBeginningOfDocID(src, 0, worddiv.Title, 0, 2*recordSize, 5)
	if err != nil {
		t.Fatalf("FindBeginningOfDocID: %v", err)
	}
	if begin != 0 {
		t.Fatalf("FindBeginningOfDocID = %d, want 0 (the start of the run of doc id 5)", begin)
	}
}

func TestCrossTermSplitPartitionsChain(t *testing.T) {
	idsA := []nodeid.NodeId{1, 2, 3, 4, 5, 6}
	idsB := []nodeid.NodeId{2, 4}
	srcA := newFakeSource(idsA)
	srcB := newFakeSource(idsB)
	segA := segmentFor(srcA, idsA)
	segA.LocalID = 0
	segB := segmentFor(srcB, idsB)
	segB.LocalID = 1

	left, right, err := CrossTermSplit([]*Segment{segA, segB}, 0)
	if err != nil {
		t.Fatalf("CrossTermSplit: %v", err)
	}
	if len(left)+len(right) == 0 {
		t.Fatal("CrossTermSplit produced no children")
	}
	for _, s := range left {
		if s.Start%recordSize != 0 || s.End%recordSize != 0 {
			t.Fatalf("left child not aligned: [%d,%d)", s.Start, s.End)
		}
	}
	for _, s := range right {
		if s.Start%recordSize != 0 || s.End%recordSize != 0 {
			t.Fatalf("right child not aligned: [%d,%d)", s.Start, s.End)
		}
	}
}
