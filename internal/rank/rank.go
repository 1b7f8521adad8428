// Package rank implements the Document Assembler & Ranker (DAR): it folds
// terminal Hit Segments emitted by Priority Spatial Search and the keyword
// augmentor into a Document Map, scores each document's excerpt hits, and
// selects the top-ranked documents into a bounded queue for the response.
//
// The scoring rules (hit score packing, the 45-occurrence spam guard, the
// title-hit count, and the final comparator) implement §4.6's ranked-list
// assembly; the bounded queue is a container/heap merge queue with that
// comparator swapped in.
package rank

import (
	"container/heap"
	"sort"

	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/worddiv"
)

// spamOccurrenceLimit is the per-term excerpt-hit occurrence count above
// which a document is treated as keyword-stuffed and its checksum zeroed.
const spamOccurrenceLimit = 45

// HitItem is one occurrence of a query term within a document, as recorded
// against the Document Map entry for scoring.
type HitItem struct {
	WordID  uint32
	Pos     uint16
	HitType worddiv.HitType
}

// Document is one result candidate: the fields sent to the client plus the
// working state DAR needs to score and rank it.
type Document struct {
	NodeID      nodeid.NodeId
	WordDivNum  uint8
	TitleDivNum uint8
	Rank        int32
	HitScore    uint8
	CheckSum    uint32
	Hits        []HitItem

	prevHitType worddiv.HitType
}

// DocumentMap upserts documents by node id, applying the same "only advance
// on a better or phase-changed observation" rule as the original
// NewExcerptDocument: a title→excerpt phase transition always reopens the
// document for updates; within one phase, only an observation whose
// word_div_num matches or improves on what's already recorded is accepted.
type DocumentMap struct {
	docs  map[nodeid.NodeId]*Document
	order []*Document
}

// NewDocumentMap creates an empty Document Map sized for an expected
// document count (a capacity hint only; the map grows as needed).
func NewDocumentMap(expected int) *DocumentMap {
	return &DocumentMap{docs: make(map[nodeid.NodeId]*Document, expected)}
}

// Upsert resolves nodeID to its Document, creating one on first sight. It
// returns ok=false when the observation should be discarded: an existing
// document in the same hit-type phase whose recorded word_div_num already
// exceeds the incoming one is left untouched and the caller must not record
// hits against it.
func (m *DocumentMap) Upsert(nodeID nodeid.NodeId, wordDivNum uint8, hitType worddiv.HitType) (doc *Document, ok bool) {
	doc, found := m.docs[nodeID]
	if !found {
		doc = &Document{NodeID: nodeID, WordDivNum: wordDivNum, prevHitType: hitType}
		m.docs[nodeID] = doc
		m.order = append(m.order, doc)
		return doc, true
	}
	if hitType != doc.prevHitType {
		doc.prevHitType = hitType
		doc.WordDivNum = wordDivNum
		return doc, true
	}
	if wordDivNum >= doc.WordDivNum {
		doc.WordDivNum = wordDivNum
		return doc, true
	}
	return nil, false
}

// Len returns the number of distinct documents recorded so far.
func (m *DocumentMap) Len() int { return len(m.order) }

// All returns every document recorded so far, in first-seen order.
func (m *DocumentMap) All() []*Document { return m.order }

// Reset clears the map for the next query, reusing its backing storage.
func (m *DocumentMap) Reset() {
	for k := range m.docs {
		delete(m.docs, k)
	}
	m.order = m.order[:0]
}

// MatchesPhase reports whether doc's most recent observation was in the
// given hit-type phase, the same check the keyword augmentor uses to
// restrict itself to documents already confirmed via the title phase.
func (doc *Document) MatchesPhase(hitType worddiv.HitType) bool {
	return doc.prevHitType == hitType
}

// AddHit records one term occurrence against doc.
func (doc *Document) AddHit(wordID uint32, pos uint16, hitType worddiv.HitType) {
	doc.Hits = append(doc.Hits, HitItem{WordID: wordID, Pos: pos, HitType: hitType})
}

// FindTitleHitNum counts the distinct query terms that hit within the first
// 12 title positions, the "does this document's title actually match"
// signal sent alongside word_div_num.
func FindTitleHitNum(doc *Document) {
	doc.TitleDivNum = 0
	seen := make(map[uint32]struct{})
	for _, h := range doc.Hits {
		if h.HitType != worddiv.Title || h.Pos >= 12 {
			continue
		}
		if _, ok := seen[h.WordID]; !ok {
			seen[h.WordID] = struct{}{}
			doc.TitleDivNum++
		}
	}
}

// hitScore runs one gap-windowed distinct-term sweep over position-sorted
// excerpt hits: a run of hits breaks whenever consecutive positions are more
// than maxGap apart, and the score is the largest number of distinct terms
// seen within any one run.
func hitScore(hits []HitItem, maxGap int) int {
	seen := make(map[uint32]struct{})
	termNum := 0
	maxTermNum := 0
	for i := 0; i < len(hits)-1; i++ {
		if _, ok := seen[hits[i].WordID]; !ok {
			seen[hits[i].WordID] = struct{}{}
			termNum++
			if termNum > maxTermNum {
				maxTermNum = termNum
			}
		}
		gap := int(hits[i+1].Pos) - int(hits[i].Pos)
		if gap > maxGap {
			seen = make(map[uint32]struct{})
			termNum = 0
		}
	}
	last := hits[len(hits)-1]
	if _, ok := seen[last.WordID]; !ok {
		termNum++
		if termNum > maxTermNum {
			maxTermNum = termNum
		}
	}
	return maxTermNum
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CalculateCheckSum computes doc's checksum and packed hit score from its
// excerpt hits. A document whose excerpt repeats any single term more than
// spamOccurrenceLimit times is flagged as keyword stuffing: its checksum is
// zeroed and the hit score is left as it was, not computed.
func CalculateCheckSum(doc *Document) {
	var checkSum uint32
	occurrences := make(map[uint32]int)
	maxOccur := 0
	var excerptHits []HitItem
	for _, h := range doc.Hits {
		if h.HitType != worddiv.Excerpt {
			continue
		}
		checkSum += (uint32(h.WordID) + 1) << (h.Pos >> 1)
		excerptHits = append(excerptHits, h)
		occurrences[h.WordID]++
		if occurrences[h.WordID] > maxOccur {
			maxOccur = occurrences[h.WordID]
		}
	}

	if maxOccur > spamOccurrenceLimit {
		doc.CheckSum = 0
		return
	}
	doc.CheckSum = checkSum

	if len(excerptHits) == 0 {
		doc.HitScore = 0
		return
	}

	sort.Slice(excerptHits, func(i, j int) bool { return excerptHits[i].Pos < excerptHits[j].Pos })

	hitScore1 := hitScore(excerptHits, 3)
	hitScore2 := hitScore(excerptHits, 20)
	doc.HitScore = uint8(minInt(3, hitScore2)) | uint8(minInt(3, hitScore1)<<2)
}

// higherPriority reports whether a ranks ahead of b in the final response:
// documents with more unique matched terms (word_div_num) come first; among
// ties, the document with the numerically lower Rank (a better pulse-rank
// position) comes first. This mirrors CompareFinDoc's ordering exactly.
func higherPriority(a, b *Document) bool {
	if a.WordDivNum != b.WordDivNum {
		return a.WordDivNum > b.WordDivNum
	}
	return a.Rank < b.Rank
}

// docHeap is the container/heap.Interface backing the bounded ranked queue.
type docHeap []*Document

func (h docHeap) Len() int            { return len(h) }
func (h docHeap) Less(i, j int) bool  { return higherPriority(h[i], h[j]) }
func (h docHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *docHeap) Push(x interface{}) { *h = append(*h, x.(*Document)) }
func (h *docHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the bounded ranked queue (capacity 30 000 by default): once full,
// pushing a document evicts whichever current member ranks lowest if the
// incoming document outranks it, otherwise the incoming document is
// dropped.
type Queue struct {
	items docHeap
	cap   int
}

// NewQueue creates a Queue bounded at capacity documents.
func NewQueue(capacity int) *Queue {
	q := &Queue{cap: capacity}
	heap.Init(&q.items)
	return q
}

// Len returns the number of documents currently queued.
func (q *Queue) Len() int { return q.items.Len() }

// Push inserts doc, evicting the lowest-ranked queued document if the queue
// is at capacity and doc outranks it.
func (q *Queue) Push(doc *Document) {
	if q.items.Len() < q.cap {
		heap.Push(&q.items, doc)
		return
	}
	worstIdx := 0
	for i := 1; i < len(q.items); i++ {
		if higherPriority(q.items[worstIdx], q.items[i]) {
			worstIdx = i
		}
	}
	if higherPriority(doc, q.items[worstIdx]) {
		heap.Remove(&q.items, worstIdx)
		heap.Push(&q.items, doc)
	}
}

// Pop removes and returns the highest-ranked document.
func (q *Queue) Pop() (*Document, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Document), true
}

// FinalizeRanking scores every document in m (checksum, hit score,
// title-hit count) and returns them in final response order. When the
// document count is within queueCap, every document is scored and returned
// in insertion order, matching the "send everything" short-circuit in the
// original server; otherwise documents are run through a capacity-queueCap
// Queue and drained in rank order, so only the top queueCap survive.
func FinalizeRanking(m *DocumentMap, queueCap int) []*Document {
	for _, doc := range m.order {
		CalculateCheckSum(doc)
		FindTitleHitNum(doc)
	}

	if len(m.order) <= queueCap {
		return append([]*Document(nil), m.order...)
	}

	q := NewQueue(queueCap)
	for _, doc := range m.order {
		q.Push(doc)
	}
	out := make([]*Document, 0, q.Len())
	for {
		doc, ok := q.Pop()
		if !ok {
			break
		}
		out = append(out, doc)
	}
	return out
}
