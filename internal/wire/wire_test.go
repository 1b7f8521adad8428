package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/distsearch/query-core/internal/nodeid"
	qerrors "github.com/distsearch/query-core/pkg/errors"
)

func buildValidRequest() []byte {
	var buf bytes.Buffer
	tag := make([]byte, tagSize)
	copy(tag, []byte("Query"))
	buf.Write(tag)
	binary.Write(&buf, binary.LittleEndian, int32(2)) // client_id
	binary.Write(&buf, binary.LittleEndian, int32(4)) // client_num
	binary.Write(&buf, binary.LittleEndian, int32(1)) // query_term_num
	buf.Write(nodeid.NodeId(12345).Bytes())
	binary.Write(&buf, binary.LittleEndian, float32(1.5))
	buf.WriteByte(7)
	binary.Write(&buf, binary.LittleEndian, int32(200000)) // max_it
	return buf.Bytes()
}

func TestReadRequestRoundTrip(t *testing.T) {
	data := buildValidRequest()
	req, err := ReadRequest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.ClientID != 2 || req.ClientNum != 4 {
		t.Fatalf("req = %+v, want ClientID=2 ClientNum=4", req)
	}
	if len(req.Terms) != 1 || req.Terms[0].WordID != nodeid.NodeId(12345) || req.Terms[0].LocalID != 7 {
		t.Fatalf("Terms = %+v", req.Terms)
	}
	if req.MaxIt != 200000 {
		t.Fatalf("MaxIt = %d, want 200000", req.MaxIt)
	}
}

func TestReadRequestRejectsBadTag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, tagSize))
	_, err := ReadRequest(&buf)
	if !errors.Is(err, qerrors.ErrProtocolError) {
		t.Fatalf("err = %v, want ErrProtocolError", err)
	}
}

func TestReadRequestRejectsTruncatedBody(t *testing.T) {
	data := buildValidRequest()
	_, err := ReadRequest(bytes.NewReader(data[:tagSize+8]))
	if !errors.Is(err, qerrors.ErrProtocolError) {
		t.Fatalf("err = %v, want ErrProtocolError for a truncated request", err)
	}
}

func TestWriteResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	docs := []ResponseDoc{
		{WordDivNum: 3, TitleDivNum: 1, NodeID: nodeid.NodeId(99), HitScore: 12, CheckSum: 0xdeadbeef},
	}
	if err := WriteResponse(&buf, 5, docs); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	var sentinel, maxWordDivNum, docNum int32
	mustReadLE(t, &buf, &sentinel)
	mustReadLE(t, &buf, &maxWordDivNum)
	mustReadLE(t, &buf, &docNum)
	if sentinel != -1 || maxWordDivNum != 5 || docNum != 1 {
		t.Fatalf("header = (%d,%d,%d), want (-1,5,1)", sentinel, maxWordDivNum, docNum)
	}

	var wordDivNum, titleDivNum uint8
	mustReadLE(t, &buf, &wordDivNum)
	mustReadLE(t, &buf, &titleDivNum)
	idBuf := make([]byte, nodeid.Size)
	if _, err := buf.Read(idBuf); err != nil {
		t.Fatalf("reading node_id: %v", err)
	}
	id, err := nodeid.Decode(idBuf)
	if err != nil {
		t.Fatalf("decoding node_id: %v", err)
	}
	if wordDivNum != 3 || titleDivNum != 1 || id != nodeid.NodeId(99) {
		t.Fatalf("doc fields = (%d,%d,%d), want (3,1,99)", wordDivNum, titleDivNum, id)
	}
}

func mustReadLE(t *testing.T, r *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Read: %v", err)
	}
}
