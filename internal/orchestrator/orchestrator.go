// Package orchestrator implements the Query Orchestrator (§4.7, §4.9): it
// drives one query's Receiving → Searching-Title → (Searching-Excerpt |
// Augmenting) → Emitting → Reset state machine, wiring Word Division,
// Priority Spatial Search, the Document Assembler & Ranker, and the
// Keyword Augmentor together around the process-global Block Cache.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/distsearch/query-core/internal/augment"
	"github.com/distsearch/query-core/internal/hitseg"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/pss"
	"github.com/distsearch/query-core/internal/rank"
	"github.com/distsearch/query-core/internal/store/cache"
	"github.com/distsearch/query-core/internal/wire"
	"github.com/distsearch/query-core/internal/worddiv"
	"github.com/distsearch/query-core/pkg/config"
	"github.com/distsearch/query-core/pkg/metrics"
	"github.com/distsearch/query-core/pkg/tracing"
)

// minDocsForKeywordAugment is the §4.7 DAR-size threshold: below it, the
// title phase is judged too thin and the excerpt PSS phase runs instead of
// keyword augmentation.
const minDocsForKeywordAugment = 1000

// Orchestrator executes queries against a shared Word Division Manager and
// Block Cache, bounding how many run concurrently.
type Orchestrator struct {
	cfg     *config.Config
	manager *worddiv.Manager
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	sem        *semaphore.Weighted
	keywordBag []nodeid.NodeId
}

// New creates an Orchestrator. manager and blockCache are shared across
// every query the process serves; cfg.Search.MaxConcurrentQueries bounds
// how many run at once.
func New(cfg *config.Config, manager *worddiv.Manager, blockCache *cache.Cache, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		manager:    manager,
		cache:      blockCache,
		metrics:    m,
		logger:     slog.Default().With("component", "orchestrator"),
		sem:        semaphore.NewWeighted(int64(cfg.Search.MaxConcurrentQueries)),
		keywordBag: parseKeywordBag(cfg.Augment.KeywordBag),
	}
}

func parseKeywordBag(bag []string) []nodeid.NodeId {
	ids := make([]nodeid.NodeId, 0, len(bag))
	for _, s := range bag {
		v, err := strconv.ParseUint(s, 10, 40)
		if err != nil {
			continue
		}
		ids = append(ids, nodeid.NodeId(v))
	}
	return ids
}

// Execute runs the full query pipeline for req and returns the
// max_word_div_num and ranked documents the wire layer should write back.
func (o *Orchestrator) Execute(ctx context.Context, clientID string, req *wire.Request) (int32, []wire.ResponseDoc, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, fmt.Errorf("orchestrator: acquiring query slot: %w", err)
	}
	defer o.sem.Release(1)

	ctx, span := tracing.StartSpan(ctx, "query.execute", clientID)
	defer span.End()
	defer span.Log()

	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
		}
	}()

	session := o.cache.BeginQuery()

	pssTerms, augTerms, clusterTermNum := o.resolveTerms(req.Terms)
	span.SetAttr("surviving_terms", len(pssTerms))
	span.SetAttr("cluster_term_num", clusterTermNum)
	if len(pssTerms) == 0 {
		return 0, nil, nil
	}

	docMap := rank.NewDocumentMap(o.cfg.PSS.TitleHitCap)

	titleResult, err := o.runPhase(ctx, "title", pssTerms, worddiv.Title,
		int(req.ClientID), int(req.ClientNum), o.cfg.PSS.DefaultMaxIt,
		o.cfg.PSS.TitlePartLevel, o.cfg.PSS.TitleHitCap, 0, session, docMap)
	if err != nil {
		return 0, nil, err
	}
	maxWordDivNum := titleResult.MaxWordDivNum

	if maxWordDivNum < clusterTermNum || docMap.Len() < minDocsForKeywordAugment {
		excerptResult, err := o.runPhase(ctx, "excerpt", pssTerms, worddiv.Excerpt,
			int(req.ClientID), int(req.ClientNum), int(req.MaxIt),
			o.cfg.PSS.ExcerptPartLevel, 0, maxWordDivNum, session, docMap)
		if err != nil {
			return 0, nil, err
		}
		if excerptResult.MaxWordDivNum > maxWordDivNum {
			maxWordDivNum = excerptResult.MaxWordDivNum
		}
	} else {
		if err := o.attachKeywords(ctx, docMap, clusterTermNum, session); err != nil {
			return 0, nil, err
		}
	}

	if err := o.attachExcerpts(ctx, augTerms, docMap, session); err != nil {
		return 0, nil, err
	}

	docs := rank.FinalizeRanking(docMap, o.cfg.DAR.QueueCapacity)
	if o.metrics != nil {
		o.metrics.DARDocumentsEmittedTotal.Add(float64(len(docs)))
	}

	out := make([]wire.ResponseDoc, len(docs))
	for i, d := range docs {
		out[i] = wire.ResponseDoc{
			WordDivNum:  d.WordDivNum,
			TitleDivNum: d.TitleDivNum,
			NodeID:      d.NodeID,
			HitScore:    d.HitScore,
			CheckSum:    d.CheckSum,
		}
	}
	return int32(maxWordDivNum), out, nil
}

// resolveTerms initializes Word Division for every requested term, dropping
// terms with no posting stream at all, and computes cluster_term_num — one
// more than the largest surviving local id.
func (o *Orchestrator) resolveTerms(terms []wire.Term) ([]pss.TermStream, []augment.TermStream, int) {
	var pssTerms []pss.TermStream
	var augTerms []augment.TermStream
	clusterTermNum := 0
	for _, t := range terms {
		term, ok, err := o.manager.Initialize(t.WordID)
		if err != nil {
			o.logger.Warn("failed to initialize word division term", "word_id", t.WordID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		pssTerms = append(pssTerms, pss.TermStream{LocalID: t.LocalID, Term: term})
		augTerms = append(augTerms, augment.TermStream{LocalID: t.LocalID, Term: term})
		if int(t.LocalID)+1 > clusterTermNum {
			clusterTermNum = int(t.LocalID) + 1
		}
	}
	return pssTerms, augTerms, clusterTermNum
}

// runPhase drives one PSS pass (title or excerpt) and folds every terminal
// region it emits into docMap.
func (o *Orchestrator) runPhase(
	ctx context.Context,
	phase string,
	terms []pss.TermStream,
	hitType worddiv.HitType,
	clientID, clientNum, maxIt, partLevel, docCap, maxWordDivNumIn int,
	session uint64,
	docMap *rank.DocumentMap,
) (pss.Result, error) {
	_, span := tracing.StartChildSpan(ctx, "pss."+phase)
	defer span.End()

	start := time.Now()
	result, err := pss.Run(terms, hitType, clientID, clientNum, maxIt, o.cfg.PSS.RegionQueueCap,
		partLevel, docCap, maxWordDivNumIn, session, o.emitTerminal(docMap, session), o.metrics)
	if o.metrics != nil {
		o.metrics.QueryDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
	span.SetAttr("iterations", result.Iterations)
	span.SetAttr("max_word_div_num", result.MaxWordDivNum)
	span.SetAttr("budget_exhausted", result.BudgetExhausted)
	if err != nil {
		return pss.Result{}, fmt.Errorf("orchestrator: %s phase: %w", phase, err)
	}
	if result.BudgetExhausted {
		o.logger.Debug("pss phase exhausted its iteration budget", "phase", phase, "iterations", result.Iterations)
	}
	return result, nil
}

// emitTerminal returns the EmitFunc that folds a PSS terminal region — a
// chain of single-document hit segments, one per surviving term that hit
// this doc — into docMap, recording every hit in the chain against the
// upserted Document.
func (o *Orchestrator) emitTerminal(docMap *rank.DocumentMap, session uint64) pss.EmitFunc {
	return func(chain []*hitseg.Segment) error {
		if len(chain) == 0 {
			return nil
		}
		nodeID := chain[0].StartDocID
		hitType := chain[0].HitType
		wordDivNum := countDistinctLocalIDs(chain)

		doc, ok := docMap.Upsert(nodeID, uint8(wordDivNum), hitType)
		if !ok {
			return nil
		}
		for _, seg := range chain {
			if err := augment.AttachSegmentHits(seg, seg.LocalID, seg.HitType, doc, session); err != nil {
				return err
			}
		}
		return nil
	}
}

func countDistinctLocalIDs(chain []*hitseg.Segment) int {
	seen := make(map[uint8]struct{}, len(chain))
	for _, s := range chain {
		seen[s.LocalID] = struct{}{}
	}
	return len(seen)
}

// attachKeywords runs the fixed keyword bag against the best title-phase
// documents, per §4.8's AttachKeywordHits.
func (o *Orchestrator) attachKeywords(ctx context.Context, docMap *rank.DocumentMap, clusterTermNum int, session uint64) error {
	_, span := tracing.StartChildSpan(ctx, "augment.keywords")
	defer span.End()

	candidates := buildCandidates(docMap)
	for _, c := range candidates {
		rank.FindTitleHitNum(c.Doc)
	}
	maxTitleDivNum := augment.MaxTitleDivNum(candidates)
	span.SetAttr("max_title_div_num", maxTitleDivNum)

	return augment.AttachKeywordHits(
		o.keywordBag, uint8(clusterTermNum), candidates, maxTitleDivNum,
		o.manager, o.cfg.Augment.AugmentorQueueCapacity, o.cfg.Augment.KeywordIterationCeiling, session,
	)
}

// attachExcerpts always runs after the title/excerpt-or-keyword branch,
// supplementing every candidate document with excerpt context from the
// full surviving term set.
func (o *Orchestrator) attachExcerpts(ctx context.Context, terms []augment.TermStream, docMap *rank.DocumentMap, session uint64) error {
	_, span := tracing.StartChildSpan(ctx, "augment.excerpts")
	defer span.End()

	candidates := buildCandidates(docMap)
	span.SetAttr("candidate_count", len(candidates))
	return augment.AttachExcerptHits(
		terms, candidates, o.cfg.Augment.AugmentorQueueCapacity, o.cfg.Augment.ExcerptIterationCeiling, session,
	)
}

func buildCandidates(docMap *rank.DocumentMap) []*augment.Candidate {
	docs := docMap.All()
	out := make([]*augment.Candidate, len(docs))
	for i, d := range docs {
		out[i] = &augment.Candidate{NodeID: d.NodeID, Doc: d}
	}
	return out
}
