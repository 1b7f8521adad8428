// Package wire implements the binary query-request/response framing of
// §6.1 and §6.5: a length-prefixed request carrying the client's shard
// position and query term set, and a response that opens with the -1
// end-of-expansion sentinel and then streams the ranked documents.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/distsearch/query-core/internal/nodeid"
	qerrors "github.com/distsearch/query-core/pkg/errors"
)

// tagSize is the width of the fixed ASCII tag every request opens with.
const tagSize = 20

// endOfExpansionSentinel is written before the response body (§6.5 item 1).
const endOfExpansionSentinel int32 = -1

// Term is one query term as received on the wire: the posting-stream id,
// the client-supplied relevance factor, and the compact local id used to
// tag hits within this query's document scoring.
type Term struct {
	WordID  nodeid.NodeId
	Factor  float32
	LocalID uint8
}

// Request is a decoded inbound query request.
type Request struct {
	ClientID  int32
	ClientNum int32
	Terms     []Term
	MaxIt     int32
}

// ReadRequest decodes one request from r per §6.1. It returns
// qerrors.ErrProtocolError if the fixed tag does not contain "Query".
func ReadRequest(r io.Reader) (*Request, error) {
	tag := make([]byte, tagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, fmt.Errorf("wire: reading request tag: %w", qerrors.ErrIoFailure)
	}
	if !bytes.Contains(tag, []byte("Query")) {
		return nil, fmt.Errorf("wire: request tag %q missing \"Query\": %w", tag, qerrors.ErrProtocolError)
	}

	var req Request
	if err := binary.Read(r, binary.LittleEndian, &req.ClientID); err != nil {
		return nil, wrapProtocolErr("client_id", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.ClientNum); err != nil {
		return nil, wrapProtocolErr("client_num", err)
	}

	var termNum int32
	if err := binary.Read(r, binary.LittleEndian, &termNum); err != nil {
		return nil, wrapProtocolErr("query_term_num", err)
	}
	if termNum < 0 {
		return nil, fmt.Errorf("wire: negative query_term_num %d: %w", termNum, qerrors.ErrProtocolError)
	}

	req.Terms = make([]Term, termNum)
	idBuf := make([]byte, nodeid.Size)
	for i := range req.Terms {
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, wrapProtocolErr("word_id", err)
		}
		wordID, err := nodeid.Decode(idBuf)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding word_id: %w", qerrors.ErrProtocolError)
		}
		var factor float32
		if err := binary.Read(r, binary.LittleEndian, &factor); err != nil {
			return nil, wrapProtocolErr("factor", err)
		}
		var localID uint8
		if err := binary.Read(r, binary.LittleEndian, &localID); err != nil {
			return nil, wrapProtocolErr("local_id", err)
		}
		req.Terms[i] = Term{WordID: wordID, Factor: factor, LocalID: localID}
	}

	if err := binary.Read(r, binary.LittleEndian, &req.MaxIt); err != nil {
		return nil, wrapProtocolErr("max_it", err)
	}
	return &req, nil
}

func wrapProtocolErr(field string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("wire: truncated request reading %s: %w", field, qerrors.ErrProtocolError)
	}
	return fmt.Errorf("wire: reading %s: %w", field, qerrors.ErrIoFailure)
}

// ResponseDoc is one ranked document as written on the wire (§6.5 item 4).
type ResponseDoc struct {
	WordDivNum  uint8
	TitleDivNum uint8
	NodeID      nodeid.NodeId
	HitScore    uint8
	CheckSum    uint32
}

// WriteResponse streams maxWordDivNum and docs to w per §6.5. Callers are
// responsible for having already trimmed docs to the 30 000-document cap
// (internal/rank.FinalizeRanking does this).
func WriteResponse(w io.Writer, maxWordDivNum int32, docs []ResponseDoc) error {
	if err := binary.Write(w, binary.LittleEndian, endOfExpansionSentinel); err != nil {
		return fmt.Errorf("wire: writing end-of-expansion sentinel: %w", qerrors.ErrIoFailure)
	}
	if err := binary.Write(w, binary.LittleEndian, maxWordDivNum); err != nil {
		return fmt.Errorf("wire: writing max_word_div_num: %w", qerrors.ErrIoFailure)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(docs))); err != nil {
		return fmt.Errorf("wire: writing doc_num: %w", qerrors.ErrIoFailure)
	}
	idBuf := make([]byte, nodeid.Size)
	for _, doc := range docs {
		if err := binary.Write(w, binary.LittleEndian, doc.WordDivNum); err != nil {
			return fmt.Errorf("wire: writing word_div_num: %w", qerrors.ErrIoFailure)
		}
		if err := binary.Write(w, binary.LittleEndian, doc.TitleDivNum); err != nil {
			return fmt.Errorf("wire: writing title_div_num: %w", qerrors.ErrIoFailure)
		}
		nodeid.Encode(idBuf, doc.NodeID)
		if _, err := w.Write(idBuf); err != nil {
			return fmt.Errorf("wire: writing node_id: %w", qerrors.ErrIoFailure)
		}
		if err := binary.Write(w, binary.LittleEndian, doc.HitScore); err != nil {
			return fmt.Errorf("wire: writing hit_score: %w", qerrors.ErrIoFailure)
		}
		if err := binary.Write(w, binary.LittleEndian, doc.CheckSum); err != nil {
			return fmt.Errorf("wire: writing check_sum: %w", qerrors.ErrIoFailure)
		}
	}
	return nil
}
