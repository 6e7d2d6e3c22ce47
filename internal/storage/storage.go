// Package storage defines the one interface every time-series/update
// back-end adapter implements (C3 in the engine's component table), so the
// scheduler and transformation engine never know whether they're talking to
// an embedded SQLite file, a Postgres/Timescale cluster, or any other
// back-end a future adapter adds.
package storage

import (
	"context"
	"log/slog"
	"time"

	"fluxgate/internal/backoff"
	"fluxgate/internal/logging"
	"fluxgate/internal/model"
)

// ColumnInfo describes one column as reported by a back-end's catalog.
type ColumnInfo struct {
	Name string
	Type model.FieldType
	Meta map[string]string
}

// Adapter is the storage contract from spec.md §4.3. Implementations are
// expected to be safe for concurrent use by multiple ingester ticks.
type Adapter interface {
	// Connect records the connection arguments and dials the back-end
	// before returning.
	Connect(ctx context.Context, host string, port int, dbName, user, password string) error
	Ping(ctx context.Context) error
	Close() error

	CreateDatabase(ctx context.Context, name string, opts map[string]string, force bool) error
	UseDatabase(ctx context.Context, name string) error

	// CreateTable is idempotent: calling it twice for the same ingester
	// signature is a no-op the second time.
	CreateTable(ctx context.Context, ing *model.Ingester, table string) error

	// Insert writes ing's current field values as one row. On a missing
	// table it creates the table and retries exactly once.
	Insert(ctx context.Context, ing *model.Ingester, table string) error
	InsertMany(ctx context.Context, ing *model.Ingester, rows []map[string]any, table string) error
	// Upsert replaces the row keyed by uid (resource_type=update ingesters).
	Upsert(ctx context.Context, ing *model.Ingester, table string, uid string) error

	FetchById(ctx context.Context, table, uid string) (map[string]any, error)
	FetchBatchByIds(ctx context.Context, table string, uids []string) ([]map[string]any, error)

	// Fetch returns rows aggregated into interval-width buckets: the last
	// non-null value per bucket per column, unless useFirst is set.
	Fetch(ctx context.Context, table string, from, to time.Time, interval model.Interval, cols []string, useFirst bool) ([]string, [][]any, error)
	// FetchBatch fans Fetch out across multiple tables and concatenates the
	// rows under one unified column set.
	FetchBatch(ctx context.Context, tables []string, from, to time.Time, interval model.Interval, cols []string) ([]string, [][]any, error)

	ListTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]ColumnInfo, error)
	AlterTable(ctx context.Context, table string, add, drop []model.Field) error

	Commit(ctx context.Context) error
}

// TableName returns the canonical table name for an ingester: its own name,
// lower-cased, unless an explicit override is given.
func TableName(ing *model.Ingester, override string) string {
	if override != "" {
		return override
	}
	return toLowerASCII(ing.Name)
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Reconnector is embedded by adapters to share the lazy-connect /
// exponential-back-off lifecycle: EnsureConnected retries dial until it
// succeeds or ctx is cancelled, honoring the TransientBackendError retry
// rule from spec.md §6.
type Reconnector struct {
	Policy backoff.Policy
	Log    *slog.Logger
	Dial   func(ctx context.Context) error
}

// NewReconnector builds a Reconnector with sane defaults; Dial must be set
// by the caller before EnsureConnected is used.
func NewReconnector(dial func(ctx context.Context) error) *Reconnector {
	return &Reconnector{
		Policy: backoff.Default,
		Log:    logging.Discard(),
		Dial:   dial,
	}
}

func (r *Reconnector) EnsureConnected(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := r.Dial(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		wait := r.Policy.Next(attempt)
		r.Log.Warn("storage backend unreachable, backing off", "attempt", attempt, "wait", wait, "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
