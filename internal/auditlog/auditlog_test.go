package auditlog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordIsNoOpWithNilClient(t *testing.T) {
	l := New(nil)
	// Must not panic or block when Postgres isn't configured.
	l.Record(context.Background(), Entry{
		ClientID:      "client-1",
		TermCount:     3,
		MaxWordDivNum: 2,
		DocCount:      10,
		Duration:      5 * time.Millisecond,
		ExecutedAt:    time.Now(),
	})
}

func TestRecordIsNoOpWithNilClientAndError(t *testing.T) {
	l := New(nil)
	l.Record(context.Background(), Entry{
		ClientID: "client-1",
		Err:      errors.New("budget exhausted"),
	})
}

func TestCountForClientReturnsZeroWithNilClient(t *testing.T) {
	l := New(nil)
	count, err := l.CountForClient(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("CountForClient: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}
