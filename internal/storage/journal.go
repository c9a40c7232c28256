package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/community-tips/internal/types"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS tip_events (
	lsn        BIGSERIAL PRIMARY KEY,
	tip_id     TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	reports    INTEGER     NOT NULL DEFAULT 0,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tip_events_tip_idx ON tip_events (tip_id, lsn);
`

// JournalEntry is one row of the moderation journal.
type JournalEntry struct {
	LSN       int64            `json:"lsn"`
	TipID     string           `json:"tip_id"`
	Kind      types.ChangeKind `json:"kind"`
	Reports   int              `json:"reports"`
	Payload   []byte           `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Journal is an append-only Postgres log of tip lifecycle events.
type Journal struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// JournalOption configures the journal.
type JournalOption func(*Journal)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) JournalOption {
	return func(j *Journal) {
		j.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) JournalOption {
	return func(j *Journal) {
		j.retryDelay = d
	}
}

// NewJournal constructs a journal using the provided Postgres pool.
func NewJournal(pool *pgxpool.Pool, opts ...JournalOption) *Journal {
	j := &Journal{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// EnsureSchema creates the journal table when it does not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	return j.retry(ctx, func(ctx context.Context) error {
		_, err := j.pool.Exec(ctx, journalSchema)
		return err
	})
}

// Append durably stores an entry and returns its LSN.
func (j *Journal) Append(ctx context.Context, entry JournalEntry) (int64, error) {
	ctx, span := journalTracer.Start(ctx, "journal.append")
	defer span.End()
	span.SetAttributes(attribute.String("tip.id", entry.TipID), attribute.String("tip.event", string(entry.Kind)))

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	defer func() {
		journalAppendLatency.WithLabelValues(string(entry.Kind)).Observe(time.Since(start).Seconds())
	}()

	var lsn int64
	err := j.retry(ctx, func(ctx context.Context) error {
		tx, err := j.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `
INSERT INTO tip_events (tip_id, kind, reports, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING lsn`,
			entry.TipID, string(entry.Kind), entry.Reports, entry.Payload, entry.CreatedAt,
		)
		if err := row.Scan(&lsn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return lsn, nil
}

// Record converts an engine change into a journal entry and appends it.
// Collection swaps are recorded once under an empty tip id.
func (j *Journal) Record(ctx context.Context, change types.Change) error {
	entry, err := EntryForChange(change)
	if err != nil {
		return err
	}
	_, err = j.Append(ctx, entry)
	return err
}

// EntryForChange builds the journal row for a change. Image payloads are
// stripped from the stored snapshot to keep rows small.
func EntryForChange(change types.Change) (JournalEntry, error) {
	entry := JournalEntry{
		TipID:     change.Tip.ID,
		Kind:      change.Kind,
		Reports:   change.Tip.Reports,
		CreatedAt: change.At,
	}
	if change.Kind == types.ChangeReplaced {
		payload, err := json.Marshal(struct {
			Count int `json:"count"`
		}{Count: len(change.Snapshot)})
		if err != nil {
			return JournalEntry{}, fmt.Errorf("encode replace payload: %w", err)
		}
		entry.Payload = payload
		return entry, nil
	}

	tip := change.Tip.Clone()
	tip.ImageDataURL = ""
	payload, err := json.Marshal(tip)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("encode tip payload: %w", err)
	}
	entry.Payload = payload
	return entry, nil
}

// History returns every event recorded for a tip in LSN order.
func (j *Journal) History(ctx context.Context, tipID string) ([]JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT lsn, tip_id, kind, reports, payload, created_at
		FROM tip_events
		WHERE tip_id = $1
		ORDER BY lsn`, tipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			entry JournalEntry
			kind  string
		)
		if err := rows.Scan(&entry.LSN, &entry.TipID, &kind, &entry.Reports, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = types.ChangeKind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (j *Journal) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := j.retryDelay
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == j.maxRetries {
				return err
			}
			journalRetries.Inc()
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
