// Package augment implements the Keyword Augmentor (§4.8): a second pass,
// run after the title phase, that attaches extra hits to already-found
// documents from either the full set of original query terms' excerpt
// streams (AttachExcerptHits) or a small fixed bag of globally important
// disambiguation keywords (AttachKeywordHits).
//
// Both reuse the Hit-Segment Partitioner's binary split and the
// container/heap bounded-queue idiom (as internal/pss and internal/rank
// already do), ordered here by region "density" — the fraction of the
// segment's doc-id range that's actually a document of interest — the same
// score CAddKeywords.CompareRegions orders by.
package augment

import (
	"container/heap"

	"github.com/distsearch/query-core/internal/hitseg"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/rank"
	"github.com/distsearch/query-core/internal/worddiv"
)

// recordSize is the width of one (doc_id:5, enc:1) hit record; the low byte
// of enc is read back as the hit's position for scoring purposes.
const recordSize = 6

// Candidate pairs a document already in the Document Map with the document
// record hits should be attached to.
type Candidate struct {
	NodeID nodeid.NodeId
	Doc    *rank.Document
}

// region is one node in the augmentor's expansion tree: a hit segment plus
// the candidate documents whose doc id falls within it.
type region struct {
	seg   *hitseg.Segment
	docs  []*Candidate
	score float64
}

func scoreOf(seg *hitseg.Segment, docCount int) float64 {
	width := uint64(seg.EndDocID) - uint64(seg.StartDocID) + 1
	return float64(docCount) / float64(width)
}

type regionHeap []*region

func (h regionHeap) Len() int            { return len(h) }
func (h regionHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h regionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *regionHeap) Push(x interface{}) { *h = append(*h, x.(*region)) }
func (h *regionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// queue is the bounded (score-descending) expansion queue, capacity taken
// from cfg.Augment.AugmentorQueueCapacity (8 000 by default).
type queue struct {
	items regionHeap
	cap   int
}

func newQueue(capacity int) *queue {
	q := &queue{cap: capacity}
	heap.Init(&q.items)
	return q
}

func (q *queue) push(r *region) {
	if len(r.docs) == 0 {
		return
	}
	if q.items.Len() < q.cap {
		heap.Push(&q.items, r)
		return
	}
	worstIdx := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].score < q.items[worstIdx].score {
			worstIdx = i
		}
	}
	if r.score > q.items[worstIdx].score {
		heap.Remove(&q.items, worstIdx)
		heap.Push(&q.items, r)
	}
}

func (q *queue) pop() (*region, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*region), true
}

// partitionCandidates splits docs across a completed split's boundary: a
// candidate at or below left.EndDocID goes left, one at or above
// right.StartDocID goes right. Candidates falling strictly inside the
// (rare, single-record) gap between the two are dropped, mirroring
// GroupChildren's boundary handling.
func partitionCandidates(docs []*Candidate, left, right *hitseg.Segment) (l, r []*Candidate) {
	for _, c := range docs {
		switch {
		case c.NodeID <= left.EndDocID:
			l = append(l, c)
		case c.NodeID >= right.StartDocID:
			r = append(r, c)
		}
	}
	return l, r
}

// AttachSegmentHits records every hit record in seg's byte range against doc
// — the same fold-terminal-segment-into-document step both the augmentor
// and the Query Orchestrator's PSS terminal-emission handler use.
func AttachSegmentHits(seg *hitseg.Segment, localID uint8, hitType worddiv.HitType, doc *rank.Document, session uint64) error {
	buf := make([]byte, recordSize)
	for offset := seg.Start; offset < seg.End; offset += recordSize {
		if err := seg.Source.RetrieveHitBytes(session, buf, offset, hitType); err != nil {
			return err
		}
		pos := uint16(worddiv.DecodePosition(buf[recordSize-1]))
		doc.AddHit(uint32(localID), pos, hitType)
	}
	return nil
}

// AttachKeywordSet runs the full expand-and-attach loop for one term's
// stream against candidates: documents whose doc id falls in the term's
// posting range are tracked through successive binary splits of the
// stream, in score-descending order, until a region narrows to a single
// document (whose hits are then attached) or the queue drains or
// iterationCeiling expansions have run.
func AttachKeywordSet(
	term *worddiv.Term,
	hitType worddiv.HitType,
	localID uint8,
	candidates []*Candidate,
	queueCap int,
	iterationCeiling int,
	session uint64,
) error {
	length := term.HitByteNum(hitType)
	if length == 0 {
		return nil
	}

	startBuf := make([]byte, nodeid.Size)
	if err := term.RetrieveHitBytes(session, startBuf, 0, hitType); err != nil {
		return err
	}
	startID, err := nodeid.Decode(startBuf)
	if err != nil {
		return err
	}
	endBuf := make([]byte, nodeid.Size)
	if err := term.RetrieveHitBytes(session, endBuf, length-recordSize, hitType); err != nil {
		return err
	}
	endID, err := nodeid.Decode(endBuf)
	if err != nil {
		return err
	}

	seg := &hitseg.Segment{
		LocalID: localID, HitType: hitType, Source: term,
		Start: 0, End: length,
		StartDocID: startID, EndDocID: endID,
	}

	var matched []*Candidate
	for _, c := range candidates {
		if c.NodeID < seg.StartDocID || c.NodeID > seg.EndDocID {
			continue
		}
		matched = append(matched, c)
	}
	if len(matched) == 0 {
		return nil
	}

	q := newQueue(queueCap)
	q.push(&region{seg: seg, docs: matched, score: scoreOf(seg, len(matched))})

	for i := 0; i < iterationCeiling; i++ {
		r, ok := q.pop()
		if !ok {
			return nil
		}
		if r.seg.StartDocID == r.seg.EndDocID {
			if err := AttachSegmentHits(r.seg, localID, hitType, r.docs[0].Doc, session); err != nil {
				return err
			}
			continue
		}

		left, right, err := r.seg.Split(session)
		if err != nil {
			if err == hitseg.ErrSingleDocID {
				if err := AttachSegmentHits(r.seg, localID, hitType, r.docs[0].Doc, session); err != nil {
					return err
				}
				continue
			}
			return err
		}

		leftDocs, rightDocs := partitionCandidates(r.docs, left, right)
		if len(leftDocs) > 0 {
			q.push(&region{seg: left, docs: leftDocs, score: scoreOf(left, len(leftDocs))})
		}
		if len(rightDocs) > 0 {
			q.push(&region{seg: right, docs: rightDocs, score: scoreOf(right, len(rightDocs))})
		}
	}
	return nil
}

// TermStream pairs a query term's posting access with its local id, the
// same shape internal/pss.TermStream uses.
type TermStream struct {
	LocalID uint8
	Term    *worddiv.Term
}

// AttachExcerptHits runs AttachKeywordSet's excerpt stream for every
// surviving query term against candidates (the documents found during the
// title phase), supplementing them with excerpt context before ranking.
func AttachExcerptHits(terms []TermStream, candidates []*Candidate, queueCap, iterationCeiling int, session uint64) error {
	for _, ts := range terms {
		if err := AttachKeywordSet(ts.Term, worddiv.Excerpt, ts.LocalID, candidates, queueCap, iterationCeiling, session); err != nil {
			return err
		}
	}
	return nil
}

// AttachKeywordHits runs AttachKeywordSet's title stream for each id in
// keywordIDs (the configured keyword bag) against the subset of candidates
// whose title phase produced at least maxTitleDivNum distinct title hits —
// the "attach disambiguating keywords only to the already-best documents"
// restriction from the original AttachKeywordHits. baseLocalID is the local
// id assigned to keywordIDs[0]; subsequent keywords get baseLocalID+i.
func AttachKeywordHits(
	keywordIDs []nodeid.NodeId,
	baseLocalID uint8,
	candidates []*Candidate,
	maxTitleDivNum uint8,
	manager *worddiv.Manager,
	queueCap, iterationCeiling int,
	session uint64,
) error {
	var eligible []*Candidate
	for _, c := range candidates {
		if c.Doc.MatchesPhase(worddiv.Title) && c.Doc.TitleDivNum >= maxTitleDivNum {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	for i, id := range keywordIDs {
		term, ok, err := manager.Initialize(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		localID := baseLocalID + uint8(i)
		if err := AttachKeywordSet(term, worddiv.Title, localID, eligible, queueCap, iterationCeiling, session); err != nil {
			return err
		}
	}
	return nil
}

// MaxTitleDivNum returns the largest TitleDivNum among candidates, the
// threshold AttachKeywordHits restricts itself to.
func MaxTitleDivNum(candidates []*Candidate) uint8 {
	var max uint8
	for _, c := range candidates {
		if c.Doc.TitleDivNum > max {
			max = c.Doc.TitleDivNum
		}
	}
	return max
}
