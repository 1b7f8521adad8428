package orchestrator

import (
	"context"
	"testing"

	"github.com/distsearch/query-core/internal/hitseg"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/rank"
	"github.com/distsearch/query-core/internal/store/cache"
	"github.com/distsearch/query-core/internal/wire"
	"github.com/distsearch/query-core/internal/worddiv"
	"github.com/distsearch/query-core/pkg/config"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := &config.Config{}
	cfg.PSS.TitlePartLevel = 15
	cfg.PSS.ExcerptPartLevel = 5
	cfg.PSS.RegionQueueCap = 100
	cfg.PSS.TitleHitCap = 50
	cfg.PSS.DefaultMaxIt = 1000
	cfg.DAR.QueueCapacity = 100
	cfg.Augment.KeywordBag = []string{"1", "2"}
	cfg.Augment.ExcerptIterationCeiling = 1000
	cfg.Augment.KeywordIterationCeiling = 1000
	cfg.Augment.AugmentorQueueCapacity = 100
	cfg.Search.MaxConcurrentQueries = 4

	blockCache := cache.New(1<<20, 64, nil)
	manager := worddiv.NewManager(t.TempDir(), blockCache)
	return New(cfg, manager, blockCache, nil)
}

func TestExecuteReturnsEmptyWhenNoTermsHavePostings(t *testing.T) {
	o := newTestOrchestrator(t)
	req := &wire.Request{
		ClientID:  0,
		ClientNum: 1,
		Terms:     []wire.Term{{WordID: nodeid.NodeId(1), Factor: 1, LocalID: 0}},
		MaxIt:     1000,
	}

	maxWordDivNum, docs, err := o.Execute(context.Background(), "test-client", req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if maxWordDivNum != 0 || len(docs) != 0 {
		t.Fatalf("got (%d, %d docs), want (0, 0) when no term has a posting stream", maxWordDivNum, len(docs))
	}
}

func TestParseKeywordBagSkipsUnparsable(t *testing.T) {
	ids := parseKeywordBag([]string{"10", "not-a-number", "20"})
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 20 {
		t.Fatalf("parseKeywordBag = %v, want [10 20]", ids)
	}
}

func TestCountDistinctLocalIDs(t *testing.T) {
	chain := []*hitseg.Segment{
		{LocalID: 0},
		{LocalID: 1},
		{LocalID: 0},
	}
	if got := countDistinctLocalIDs(chain); got != 2 {
		t.Fatalf("countDistinctLocalIDs = %d, want 2", got)
	}
}

func TestBuildCandidatesMirrorsDocumentMap(t *testing.T) {
	m := rank.NewDocumentMap(4)
	m.Upsert(nodeid.NodeId(1), 2, worddiv.Title)
	m.Upsert(nodeid.NodeId(2), 3, worddiv.Title)

	candidates := buildCandidates(m)
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	for i, c := range candidates {
		if c.NodeID != m.All()[i].NodeID {
			t.Fatalf("candidate %d NodeID = %v, want %v", i, c.NodeID, m.All()[i].NodeID)
		}
	}
}

func TestResolveTermsDropsTermsWithoutPostingsAndComputesClusterTermNum(t *testing.T) {
	o := newTestOrchestrator(t)
	terms := []wire.Term{
		{WordID: nodeid.NodeId(1), Factor: 1, LocalID: 0},
		{WordID: nodeid.NodeId(2), Factor: 1, LocalID: 3},
	}
	pssTerms, augTerms, clusterTermNum := o.resolveTerms(terms)
	if len(pssTerms) != 0 || len(augTerms) != 0 {
		t.Fatalf("expected all terms dropped (no posting files exist), got %d pss / %d aug", len(pssTerms), len(augTerms))
	}
	if clusterTermNum != 0 {
		t.Fatalf("clusterTermNum = %d, want 0 when nothing survived", clusterTermNum)
	}
}
