// Package worddiv implements Word Division (WD): per-term access to the two
// segmented Compressed Block Store streams (title hits, excerpt hits) that
// back a posting list, routed through the process-global Block Cache.
//
// The Manager's map-of-per-key-resource-guarded-by-RWMutex shape mirrors the
// shard router's engine map: there, shard id maps to an *indexer.Engine;
// here, term id maps to a *Term's pair of CBS streams, opened lazily on
// first use and kept open for the process lifetime once a posting file is
// known to exist.
package worddiv

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/distsearch/query-core/internal/hashdir"
	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/store/block"
	"github.com/distsearch/query-core/internal/store/cache"
)

// HitType distinguishes the title stream from the excerpt stream for a term.
type HitType int

const (
	Title HitType = iota
	Excerpt
)

func (h HitType) String() string {
	if h == Title {
		return "title"
	}
	return "excerpt"
}

// recordSize is the fixed width of one (doc_id:5, enc:1) hit record.
const recordSize = 6

// Term holds the two CBS streams backing one query term's postings.
type Term struct {
	id      nodeid.NodeId
	title   *cache.CachedReader
	excerpt *cache.CachedReader
}

// HitByteNum returns the total byte length of the given stream, or 0 if this
// term has no stream of that hit type.
func (t *Term) HitByteNum(hitType HitType) uint64 {
	r := t.streamFor(hitType)
	if r == nil {
		return 0
	}
	return r.HitByteNum()
}

func (t *Term) streamFor(hitType HitType) *cache.CachedReader {
	if hitType == Title {
		return t.title
	}
	return t.excerpt
}

// RetrieveHitBytes is a thin wrapper over Block-Cache-backed random reads.
// len(dst) must be a multiple of recordSize, or a single byte when probing a
// doc-id boundary during Hit-Segment Partitioning.
func (t *Term) RetrieveHitBytes(session uint64, dst []byte, byteOffset uint64, hitType HitType) error {
	if len(dst) != 1 && len(dst)%recordSize != 0 {
		return fmt.Errorf("worddiv: retrieve length %d is neither 1 nor a multiple of %d", len(dst), recordSize)
	}
	r := t.streamFor(hitType)
	if r == nil {
		return fmt.Errorf("worddiv: term %d has no %s stream", t.id, hitType)
	}
	return r.RandomRead(session, byteOffset, dst)
}

// Manager resolves query terms to their Term streams, opening posting files
// on first use and caching the *Term for the process lifetime (postings are
// immutable once indexed, so there is nothing to invalidate beyond the
// shared Block Cache's own session mechanism).
type Manager struct {
	dataDir string
	cache   *cache.Cache
	logger  *slog.Logger

	mu    sync.RWMutex
	terms map[nodeid.NodeId]*Term

	nextHandle atomic.Uint32
}

// NewManager creates a Manager rooted at dataDir (posting files live at
// dataDir/LocalData/<term_id>.<hit_type>.hit*, subject to directory hashing via
// internal/hashdir), sharing blockCache across all terms.
func NewManager(dataDir string, blockCache *cache.Cache) *Manager {
	return &Manager{
		dataDir: dataDir,
		cache:   blockCache,
		logger:  slog.Default().With("component", "worddiv"),
		terms:   make(map[nodeid.NodeId]*Term),
	}
}

// Initialize resolves term id's posting streams, opening them on first
// reference. It returns ok=false if neither a title nor an excerpt stream
// exists for this term — the caller (Query Orchestrator) must drop the term
// from the active query term set.
func (m *Manager) Initialize(id nodeid.NodeId) (term *Term, ok bool, err error) {
	m.mu.RLock()
	if t, found := m.terms[id]; found {
		m.mu.RUnlock()
		return t, true, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, found := m.terms[id]; found {
		return t, true, nil
	}

	titlePath := m.postingPath(id, Title)
	excerptPath := m.postingPath(id, Excerpt)

	titleReader, titleErr := m.openStream(titlePath)
	excerptReader, excerptErr := m.openStream(excerptPath)

	if titleReader == nil && excerptReader == nil {
		if titleErr != nil {
			m.logger.Debug("no posting streams for term", "term_id", id, "error", titleErr)
		}
		return nil, false, nil
	}

	t := &Term{id: id, title: titleReader, excerpt: excerptReader}
	m.terms[id] = t
	return t, true, nil
}

// openStream opens a segmented CBS store at path if present, returning
// (nil, nil) when the file simply does not exist (a normal "no stream of
// this hit type for this term" outcome, not an error).
func (m *Manager) openStream(path string) (*cache.CachedReader, error) {
	hitPath := path + ".hit"
	if _, err := os.Stat(hitPath); os.IsNotExist(err) {
		return nil, nil
	}
	reader, err := block.OpenRead(path)
	if err != nil {
		return nil, err
	}
	handle := m.nextHandle.Add(1)
	return cache.NewCachedReader(handle, reader, m.cache), nil
}

func (m *Manager) postingPath(id nodeid.NodeId, hitType HitType) string {
	logical := filepath.Join("LocalData", fmt.Sprintf("%d.%s", uint64(id), hitType.String()))
	return filepath.Join(m.dataDir, hashdir.Rewrite(logical))
}

// Close closes every opened posting stream.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, t := range m.terms {
		if t.title != nil {
			if err := t.title.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if t.excerpt != nil {
			if err := t.excerpt.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
