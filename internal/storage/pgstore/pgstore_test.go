package pgstore

import (
	"testing"
	"time"

	"fluxgate/internal/model"
)

// These tests exercise the SQL-generation and in-process aggregation
// helpers only; exercising Store itself needs a live Postgres connection
// and is left to integration testing outside this package.

func TestQuoteIdentEscapesDoubleQuotes(t *testing.T) {
	got := quoteIdent(`weird"name`)
	want := `"weird""name"`
	if got != want {
		t.Fatalf("quoteIdent = %s, want %s", got, want)
	}
}

func TestSQLTypeMapsUnsignedWidths(t *testing.T) {
	cases := map[model.FieldType]string{
		model.TypeUint64:    "NUMERIC(20,0)",
		model.TypeUint32:    "BIGINT",
		model.TypeFloat64:   "DOUBLE PRECISION",
		model.TypeTimestamp: "TIMESTAMPTZ",
		model.TypeBinary:    "BYTEA",
	}
	for ft, want := range cases {
		if got := sqlType(ft); got != want {
			t.Errorf("sqlType(%s) = %s, want %s", ft, got, want)
		}
	}
}

func TestFieldTypeFromSQLRoundTrips(t *testing.T) {
	if fieldTypeFromSQL("double precision") != model.TypeFloat64 {
		t.Fatal("expected float64 for double precision")
	}
	if fieldTypeFromSQL("boolean") != model.TypeBool {
		t.Fatal("expected bool for boolean")
	}
}

func TestBucketRowsKeepsLastValuePerBucket(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := [][]any{
		{base, 100.0},
		{base.Add(10 * time.Second), 101.0},
		{base.Add(70 * time.Second), 200.0},
	}
	cols, rows := bucketRows(raw, "ts", []string{"price"}, model.Interval("m1"), false)
	if len(cols) != 2 || cols[1] != "price" {
		t.Fatalf("cols = %v", cols)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d buckets, want 2", len(rows))
	}
	if rows[0][1] != 101.0 {
		t.Fatalf("bucket 0 = %v, want 101", rows[0][1])
	}
	if rows[1][1] != 200.0 {
		t.Fatalf("bucket 1 = %v, want 200", rows[1][1])
	}
}

func TestBucketRowsUseFirstKeepsEarliest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := [][]any{
		{base, 100.0},
		{base.Add(10 * time.Second), 101.0},
	}
	_, rows := bucketRows(raw, "ts", []string{"price"}, model.Interval("m1"), true)
	if len(rows) != 1 || rows[0][1] != 100.0 {
		t.Fatalf("got %v, want first value 100", rows)
	}
}
