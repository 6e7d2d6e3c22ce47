package sqlitestore

import (
	"context"
	"testing"
	"time"

	"fluxgate/internal/model"
)

func testIngester(t *testing.T) *model.Ingester {
	t.Helper()
	ing, err := model.NewIngester("btcusd_tick", model.ResourceTimeseries, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "price", Type: model.TypeFloat64},
		{Name: "volume", Type: model.TypeFloat64},
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}
	return ing
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background(), "", 0, ":memory:", "", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing := testIngester(t)

	if err := s.CreateTable(ctx, ing, ""); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.CreateTable(ctx, ing, ""); err != nil {
		t.Fatalf("CreateTable (second call): %v", err)
	}

	cols, err := s.GetColumns(ctx, "btcusd_tick")
	if err != nil {
		t.Fatalf("GetColumns: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("got %d columns, want 3 (ts, price, volume)", len(cols))
	}
	if cols[0].Name != "ts" {
		t.Fatalf("first column = %s, want ts", cols[0].Name)
	}
}

func TestInsertCreatesTableOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing := testIngester(t)
	ing.Field("ts").Value = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ing.Field("price").Value = 65000.0
	ing.Field("volume").Value = 12.5

	if err := s.Insert(ctx, ing, ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "btcusd_tick" {
		t.Fatalf("got tables %v", tables)
	}
}

func TestFetchBucketsLastValuePerInterval(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing := testIngester(t)
	if err := s.CreateTable(ctx, ing, ""); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := []struct {
		offset time.Duration
		price  float64
	}{
		{0, 100}, {10 * time.Second, 101}, {20 * time.Second, 102}, // bucket 0
		{60 * time.Second, 200}, {90 * time.Second, 201}, // bucket 1
	}
	for _, sm := range samples {
		ing.Field("ts").Value = base.Add(sm.offset)
		ing.Field("price").Value = sm.price
		ing.Field("volume").Value = 1.0
		if err := s.Insert(ctx, ing, ""); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cols, rows, err := s.Fetch(ctx, "btcusd_tick", base, base.Add(2*time.Minute), model.Interval("m1"), []string{"price"}, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("cols = %v", cols)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d buckets, want 2", len(rows))
	}
	if rows[0][1] != 102.0 {
		t.Fatalf("bucket 0 last value = %v, want 102", rows[0][1])
	}
	if rows[1][1] != 201.0 {
		t.Fatalf("bucket 1 last value = %v, want 201", rows[1][1])
	}
}

func TestFetchUseFirstKeepsEarliestValuePerInterval(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing := testIngester(t)
	if err := s.CreateTable(ctx, ing, ""); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range []float64{100, 101, 102} {
		ing.Field("ts").Value = base.Add(time.Duration(p-100) * time.Second)
		ing.Field("price").Value = p
		ing.Field("volume").Value = 1.0
		if err := s.Insert(ctx, ing, ""); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	_, rows, err := s.Fetch(ctx, "btcusd_tick", base, base.Add(time.Minute), model.Interval("m1"), []string{"price"}, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 || rows[0][1] != 100.0 {
		t.Fatalf("got %v, want first value 100", rows)
	}
}

func TestUpsertReplacesRowByKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing, err := model.NewIngester("positions", model.ResourceUpdate, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "symbol", Type: model.TypeString},
		{Name: "qty", Type: model.TypeFloat64},
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}
	ing.Field("symbol").Value = "BTCUSD"
	ing.Field("qty").Value = 1.0
	if err := s.Upsert(ctx, ing, "", "pos-1"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ing.Field("qty").Value = 2.0
	if err := s.Upsert(ctx, ing, "", "pos-1"); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}

	row, err := s.FetchById(ctx, "positions", "pos-1")
	if err != nil {
		t.Fatalf("FetchById: %v", err)
	}
	if row == nil {
		t.Fatal("expected row, got nil")
	}
	if row["qty"] != 2.0 {
		t.Fatalf("qty = %v, want 2", row["qty"])
	}

	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected exactly one row's worth of table state, got tables=%v", tables)
	}
}

func TestAlterTableAddsColumn(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ing := testIngester(t)
	if err := s.CreateTable(ctx, ing, ""); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.AlterTable(ctx, "btcusd_tick", []model.Field{{Name: "spread", Type: model.TypeFloat64}}, nil); err != nil {
		t.Fatalf("AlterTable: %v", err)
	}
	cols, err := s.GetColumns(ctx, "btcusd_tick")
	if err != nil {
		t.Fatalf("GetColumns: %v", err)
	}
	found := false
	for _, c := range cols {
		if c.Name == "spread" {
			found = true
		}
	}
	if !found {
		t.Fatalf("spread column missing after AlterTable, cols=%v", cols)
	}
}
