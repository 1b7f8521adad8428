// Package auditlog records a trail of executed queries to PostgreSQL: who
// asked, how many terms, how many documents came back, how long the whole
// query took, and whether it failed. Recording is best-effort — a failed write is logged and dropped,
// never propagated back to the query path, the same "db may be nil, update
// is silently skipped" posture the indexer's document-status updates use.
package auditlog

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/distsearch/query-core/pkg/postgres"
	"github.com/distsearch/query-core/pkg/resilience"
)

// Entry is one executed query, ready to persist.
type Entry struct {
	ClientID      string
	TermCount     int
	MaxWordDivNum int32
	DocCount      int
	Duration      time.Duration
	ExecutedAt    time.Time
	Err           error
}

// Log writes query audit entries to PostgreSQL. A nil *postgres.Client
// disables logging entirely (matching the indexer's db==nil convention),
// so callers can wire auditlog unconditionally regardless of whether
// Postgres is configured.
type Log struct {
	client  *postgres.Client
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
}

// New creates a Log backed by client. client may be nil.
func New(client *postgres.Client) *Log {
	return &Log{
		client:  client,
		logger:  slog.Default().With("component", "auditlog"),
		breaker: resilience.NewCircuitBreaker("postgres-audit-log", resilience.CircuitBreakerConfig{}),
	}
}

// Record persists e. Failures are logged and swallowed: a broken audit
// trail must never fail a query. A circuit breaker trips after repeated
// Postgres failures so a stalled database doesn't add a write attempt's
// worth of latency to every subsequent query.
func (l *Log) Record(ctx context.Context, e Entry) {
	if l.client == nil {
		return
	}
	status := "ok"
	var errMsg sql.NullString
	if e.Err != nil {
		status = "error"
		errMsg = sql.NullString{String: e.Err.Error(), Valid: true}
	}

	err := l.breaker.Execute(func() error {
		return l.client.InTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO query_audit_log
					(client_id, term_count, max_word_div_num, doc_count, duration_ms, status, error_message, executed_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.ClientID, e.TermCount, e.MaxWordDivNum, e.DocCount,
				e.Duration.Milliseconds(), status, errMsg, e.ExecutedAt,
			)
			return err
		})
	})
	if err != nil {
		l.logger.Error("failed to write query audit entry", "client_id", e.ClientID, "error", err)
	}
}

// CountForClient returns how many queries clientID has run, used by
// operators investigating a noisy or misbehaving client. It returns 0 with
// no error if logging is disabled.
func (l *Log) CountForClient(ctx context.Context, clientID string) (int, error) {
	if l.client == nil {
		return 0, nil
	}
	var count int
	row := l.client.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM query_audit_log WHERE client_id = $1`,
		clientID,
	)
	err := row.Scan(&count)
	return count, err
}
