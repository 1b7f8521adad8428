// Package hitseg implements the Hit-Segment Partitioner (HSP): the binary
// split and cross-term split primitives that Priority Spatial Search and
// keyword augmentation both drive to subdivide posting-stream byte ranges
// down to single-document granularity.
package hitseg

import (
	"errors"
	"fmt"

	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/worddiv"
)

// recordSize is the width of one (doc_id:5, enc:1) hit record.
const recordSize = 6

// ErrSingleDocID is returned when a segment already covers exactly one doc
// id and so cannot be subdivided further — the stopping condition for PSS
// and the augmentor.
var ErrSingleDocID = errors.New("hitseg: segment covers a single doc id")

// Source retrieves raw hit bytes for one query term's stream. It is
// satisfied by *worddiv.Term.
type Source interface {
	RetrieveHitBytes(session uint64, dst []byte, byteOffset uint64, hitType worddiv.HitType) error
}

// Segment is a byte range `[Start, End)` within one term's hit-type stream,
// always 6-byte aligned, with its boundary doc ids cached so repeated
// comparisons don't re-read the stream.
type Segment struct {
	LocalID      uint8
	HitType      worddiv.HitType
	Source       Source
	Start        uint64
	End          uint64
	StartDocID   nodeid.NodeId
	EndDocID     nodeid.NodeId
}

// ByteWidth returns the number of bytes the segment spans.
func (s *Segment) ByteWidth() uint64 {
	return s.End - s.Start
}

// recordCount returns the number of 6-byte hit records the segment spans.
func (s *Segment) recordCount() uint64 {
	return s.ByteWidth() / recordSize
}

// docIDAt reads the 5-byte doc id at a 6-byte-aligned byte offset.
func docIDAt(src Source, session uint64, hitType worddiv.HitType, byteOffset uint64) (nodeid.NodeId, error) {
	buf := make([]byte, nodeid.Size)
	if err := src.RetrieveHitBytes(session, buf, byteOffset, hitType); err != nil {
		return 0, err
	}
	return nodeid.Decode(buf)
}

// FindBeginningOfDocID scans backward from midByte by 6-byte strides (never
// past segStart) until the preceding doc id differs from candidate,
// returning the byte offset of the first record whose doc id equals
// candidate — i.e. the aligned start of the run of records sharing that id.
func FindBeginningOfDocID(src Source, session uint64, hitType worddiv.HitType, segStart, midByte uint64, candidate nodeid.NodeId) (uint64, error) {
	pos := midByte
	for pos > segStart {
		prev := pos - recordSize
		id, err := docIDAt(src, session, hitType, prev)
		if err != nil {
			return 0, err
		}
		if id != candidate {
			break
		}
		pos = prev
	}
	return pos, nil
}

// Split performs the binary split at a byte midpoint (§4.4): the segment is
// divided at the start of the run of records sharing the doc id observed at
// the midpoint, so that run begins the right child. It returns ErrSingleDocID when the segment
// already covers one doc id, which is the PSS/augmentor termination signal.
func (s *Segment) Split(session uint64) (left, right *Segment, err error) {
	if s.StartDocID == s.EndDocID {
		return nil, nil, ErrSingleDocID
	}
	if s.recordCount() < 2 {
		return nil, nil, ErrSingleDocID
	}

	midByte := alignDown(s.Start + (s.End-s.Start)/2)
	if midByte <= s.Start {
		midByte = s.Start + recordSize
	}
	if midByte >= s.End {
		midByte = s.End - recordSize
	}

	candidate, err := docIDAt(s.Source, session, s.HitType, midByte)
	if err != nil {
		return nil, nil, err
	}

	splitByte, err := FindBeginningOfDocID(s.Source, session, s.HitType, s.Start, midByte, candidate)
	if err != nil {
		return nil, nil, err
	}
	if splitByte <= s.Start {
		// The entire left half shares the start doc id; nudge one record in
		// so the split still makes progress.
		splitByte = s.Start + recordSize
		candidate, err = docIDAt(s.Source, session, s.HitType, splitByte)
		if err != nil {
			return nil, nil, err
		}
	}

	leftEndDocID, err := docIDAt(s.Source, session, s.HitType, splitByte-recordSize)
	if err != nil {
		return nil, nil, err
	}

	left = &Segment{
		LocalID: s.LocalID, HitType: s.HitType, Source: s.Source,
		Start: s.Start, End: splitByte,
		StartDocID: s.StartDocID, EndDocID: leftEndDocID,
	}
	right = &Segment{
		LocalID: s.LocalID, HitType: s.HitType, Source: s.Source,
		Start: splitByte, End: s.End,
		StartDocID: candidate, EndDocID: s.EndDocID,
	}
	return left, right, nil
}

func alignDown(byteOffset uint64) uint64 {
	return byteOffset - byteOffset%recordSize
}

// FindSplitPointForDocID binary-searches within seg for the smallest byte
// offset whose doc id is >= partDocID, descending by 6-byte-aligned
// midpoints as §4.4 describes for the cross-term split's interior case.
func FindSplitPointForDocID(seg *Segment, session uint64, partDocID nodeid.NodeId) (uint64, error) {
	loRec, hiRec := uint64(0), seg.recordCount()
	for loRec < hiRec {
		midRec := loRec + (hiRec-loRec)/2
		byteOff := seg.Start + midRec*recordSize
		id, err := docIDAt(seg.Source, session, seg.HitType, byteOff)
		if err != nil {
			return 0, err
		}
		if id >= partDocID {
			hiRec = midRec
		} else {
			loRec = midRec + 1
		}
	}
	return seg.Start + loRec*recordSize, nil
}

// CrossTermSplit splits a chain of segments (covering the same doc range,
// one per surviving local id) into left and right children at a single
// shared part_doc_id, chosen from the widest segment in the chain (the
// pivot). Segments lying wholly on one side move there unchanged; segments
// straddling the boundary are split via FindSplitPointForDocID.
func CrossTermSplit(chain []*Segment, session uint64) (left, right []*Segment, err error) {
	if len(chain) == 0 {
		return nil, nil, fmt.Errorf("hitseg: cannot split an empty chain")
	}

	pivot := chain[0]
	for _, s := range chain[1:] {
		if s.ByteWidth() > pivot.ByteWidth() {
			pivot = s
		}
	}
	if pivot.StartDocID == pivot.EndDocID {
		return nil, nil, ErrSingleDocID
	}

	midByte := alignDown(pivot.Start + (pivot.End-pivot.Start)/2)
	if midByte <= pivot.Start {
		midByte = pivot.Start + recordSize
	}
	partDocID, err := docIDAt(pivot.Source, session, pivot.HitType, midByte)
	if err != nil {
		return nil, nil, err
	}
	splitByte, err := FindBeginningOfDocID(pivot.Source, session, pivot.HitType, pivot.Start, midByte, partDocID)
	if err != nil {
		return nil, nil, err
	}
	if splitByte > pivot.Start {
		if v, err := docIDAt(pivot.Source, session, pivot.HitType, splitByte); err == nil {
			partDocID = v
		}
	}

	return SplitChainAtDocID(chain, partDocID, session)
}

// SplitChainAtDocID partitions chain into left/right children at a caller-
// chosen partDocID, without picking a pivot. Segments lying wholly below
// partDocID move to left, wholly at-or-above move to right, and straddling
// segments are split via FindSplitPointForDocID. This is the primitive the
// client-partition boundary split (§4.5 step 2) uses directly, and that
// CrossTermSplit uses after computing partDocID from its pivot.
func SplitChainAtDocID(chain []*Segment, partDocID nodeid.NodeId, session uint64) (left, right []*Segment, err error) {
	for _, s := range chain {
		switch {
		case s.EndDocID < partDocID:
			left = append(left, s)
		case s.StartDocID > partDocID || (s.StartDocID == partDocID && s.StartDocID == s.EndDocID):
			right = append(right, s)
		default:
			cut, err := FindSplitPointForDocID(s, session, partDocID)
			if err != nil {
				return nil, nil, err
			}
			if cut <= s.Start {
				right = append(right, s)
				continue
			}
			if cut >= s.End {
				left = append(left, s)
				continue
			}
			endDocID, err := docIDAt(s.Source, session, s.HitType, cut-recordSize)
			if err != nil {
				return nil, nil, err
			}
			startDocID, err := docIDAt(s.Source, session, s.HitType, cut)
			if err != nil {
				return nil, nil, err
			}
			left = append(left, &Segment{
				LocalID: s.LocalID, HitType: s.HitType, Source: s.Source,
				Start: s.Start, End: cut,
				StartDocID: s.StartDocID, EndDocID: endDocID,
			})
			right = append(right, &Segment{
				LocalID: s.LocalID, HitType: s.HitType, Source: s.Source,
				Start: cut, End: s.End,
				StartDocID: startDocID, EndDocID: s.EndDocID,
			})
		}
	}
	return left, right, nil
}
