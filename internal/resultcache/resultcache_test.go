package resultcache

import (
	"context"
	"errors"
	"testing"

	"github.com/distsearch/query-core/internal/nodeid"
	"github.com/distsearch/query-core/internal/wire"
)

func TestKeyIsOrderIndependent(t *testing.T) {
	a := []wire.Term{{WordID: 1, LocalID: 0}, {WordID: 2, LocalID: 1}}
	b := []wire.Term{{WordID: 2, LocalID: 1}, {WordID: 1, LocalID: 0}}
	if Key("client-1", a) != Key("client-1", b) {
		t.Fatal("Key should not depend on term order")
	}
}

func TestKeyDiffersByClient(t *testing.T) {
	terms := []wire.Term{{WordID: 1, LocalID: 0}}
	if Key("client-1", terms) == Key("client-2", terms) {
		t.Fatal("Key should differ across clients")
	}
}

func TestKeyIgnoresFactor(t *testing.T) {
	a := []wire.Term{{WordID: 1, Factor: 1.0, LocalID: 0}}
	b := []wire.Term{{WordID: 1, Factor: 9.9, LocalID: 0}}
	if Key("client-1", a) != Key("client-1", b) {
		t.Fatal("Key should not depend on factor")
	}
}

func TestGetOrComputeCallsComputeWithNilRedis(t *testing.T) {
	c := New(nil, 0, nil)
	calls := 0
	result, err := c.GetOrCompute(context.Background(), "any-key", func() (Result, error) {
		calls++
		return Result{MaxWordDivNum: 3, Docs: []wire.ResponseDoc{{NodeID: nodeid.NodeId(1)}}}, nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}
	if result.MaxWordDivNum != 3 {
		t.Fatalf("MaxWordDivNum = %d, want 3", result.MaxWordDivNum)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c := New(nil, 0, nil)
	wantErr := errors.New("pipeline failed")
	_, err := c.GetOrCompute(context.Background(), "any-key", func() (Result, error) {
		return Result{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestInvalidateIsNoOpWithNilRedis(t *testing.T) {
	c := New(nil, 0, nil)
	if err := c.Invalidate(context.Background(), "any-key"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
}
