package worddiv

import (
	"bytes"
	"testing"

	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/store/block"
	"github.com/distsearch/query-core/internal/store/cache"
)

func TestInitializeMissingTermReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, cache.New(1<<20, 4, nil))
	_, ok, err := mgr.Initialize(nodeid.NodeId(999))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ok {
		t.Fatal("Initialize returned ok=true for a term with no posting files")
	}
}

func TestInitializeAndRetrieveHitBytes(t *testing.T) {
	dir := t.TempDir()
	blockCache := cache.New(1<<20, 4, nil)
	mgr := NewManager(dir, blockCache)

	termID := nodeid.NodeId(42)
	path := mgr.postingPath(termID, Title)

	records := make([]byte, 0, 18)
	for i := 0; i < 3; i++ {
		rec := make([]byte, recordSize)
		nodeid.Encode(rec[:5], nodeid.NodeId(i*10))
		rec[5] = byte(i)
		records = append(records, rec...)
	}
	w, err := block.OpenWrite(path, 64, true)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if err := w.Append(records); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	term, ok, err := mgr.Initialize(termID)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !ok {
		t.Fatal("Initialize returned ok=false for a term with a title stream")
	}
	if term.HitByteNum(Title) != uint64(len(records)) {
		t.Fatalf("HitByteNum = %d, want %d", term.HitByteNum(Title), len(records))
	}
	if term.HitByteNum(Excerpt) != 0 {
		t.Fatalf("HitByteNum(Excerpt) = %d, want 0 for an unopened stream", term.HitByteNum(Excerpt))
	}

	session := blockCache.BeginQuery()
	got := make([]byte, recordSize)
	if err := term.RetrieveHitBytes(session, got, recordSize, Title); err != nil {
		t.Fatalf("RetrieveHitBytes: %v", err)
	}
	if !bytes.Equal(got, records[recordSize:2*recordSize]) {
		t.Fatalf("RetrieveHitBytes = %v, want %v", got, records[recordSize:2*recordSize])
	}
}
