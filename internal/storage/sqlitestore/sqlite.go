// Package sqlitestore implements storage.Adapter against an embedded SQLite
// database via modernc.org/sqlite (a pure-Go driver, no cgo toolchain
// required), representing the embedded-SQL class of back-end named in
// spec.md §4.3 (SQLite, DuckDB).
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fluxgate/internal/apperr"
	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/storage"

	_ "modernc.org/sqlite"
)

// Store is a storage.Adapter backed by a single SQLite file (or ":memory:").
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	log  *slog.Logger
	rc   *storage.Reconnector
}

var _ storage.Adapter = (*Store)(nil)

// New constructs an unconnected Store. Call Connect before use.
func New(opts ...Option) *Store {
	s := &Store{log: logging.Discard()}
	for _, o := range opts {
		o(s)
	}
	s.rc = storage.NewReconnector(s.dial)
	s.rc.Log = s.log
	return s
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

func (s *Store) dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.PingContext(ctx)
	}
	if s.path == "" {
		return fmt.Errorf("sqlitestore: no database path set, call Connect first")
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return apperr.NewTransientBackendError("sqlitestore: open", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer; avoid SQLITE_BUSY storms
	if err := db.PingContext(ctx); err != nil {
		return apperr.NewTransientBackendError("sqlitestore: ping", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		s.log.Warn("sqlitestore: could not enable WAL mode", "err", err)
	}
	s.db = db
	return nil
}

// Connect sets the database file path. host/port/user/password are unused
// for an embedded engine; dbName is the file path (or ":memory:").
func (s *Store) Connect(ctx context.Context, _ string, _ int, dbName, _, _ string) error {
	s.mu.Lock()
	s.path = dbName
	s.mu.Unlock()
	return s.rc.EnsureConnected(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateDatabase is a no-op for the embedded engine: the file itself is the
// database, created on first connect. force/opts have no meaning here.
func (s *Store) CreateDatabase(ctx context.Context, name string, opts map[string]string, force bool) error {
	return nil
}

// UseDatabase is a no-op: a Store is already bound to one file.
func (s *Store) UseDatabase(ctx context.Context, name string) error { return nil }

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlType(t model.FieldType) string {
	switch t {
	case model.TypeInt8, model.TypeInt16, model.TypeInt32, model.TypeInt64,
		model.TypeUint8, model.TypeUint16, model.TypeUint32, model.TypeUint64:
		return "INTEGER"
	case model.TypeFloat32, model.TypeFloat64:
		return "REAL"
	case model.TypeBool:
		return "INTEGER"
	case model.TypeTimestamp:
		return "INTEGER" // unix millis
	case model.TypeBinary, model.TypeVarbinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (s *Store) CreateTable(ctx context.Context, ing *model.Ingester, table string) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	table = storage.TableName(ing, table)
	cols := ing.PersistedFields()
	if len(cols) == 0 {
		return fmt.Errorf("sqlitestore: ingester %s has no persisted fields", ing.Name)
	}
	primary := cols[0].Name

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(table))
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", quoteIdent(c.Name), sqlType(c.Type))
		if c.Name == primary {
			sb.WriteString(" PRIMARY KEY")
		}
	}
	sb.WriteString(")")

	_, err := s.db.ExecContext(ctx, sb.String())
	if err != nil {
		return apperr.NewTransientBackendError("sqlitestore: create table "+table, err)
	}
	return nil
}

func (s *Store) insertRow(ctx context.Context, table string, cols []model.Field, upsert bool, conflictKey string) error {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		placeholders[i] = "?"
		values[i] = toStorageValue(c.Value, c.Type)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if upsert {
		var sets []string
		for _, c := range cols {
			if c.Name == conflictKey {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoteIdent(c.Name), quoteIdent(c.Name)))
		}
		fmt.Fprintf(&sb, " ON CONFLICT(%s) DO UPDATE SET %s", quoteIdent(conflictKey), strings.Join(sets, ", "))
	}
	_, err := s.db.ExecContext(ctx, sb.String(), values...)
	return err
}

func (s *Store) Insert(ctx context.Context, ing *model.Ingester, table string) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	table = storage.TableName(ing, table)
	cols := ing.PersistedFields()
	if err := s.insertRow(ctx, table, cols, false, ""); err != nil {
		if !isMissingTable(err) {
			return apperr.NewTransientBackendError("sqlitestore: insert into "+table, err)
		}
		if cerr := s.CreateTable(ctx, ing, table); cerr != nil {
			return cerr
		}
		if err := s.insertRow(ctx, table, cols, false, ""); err != nil {
			return apperr.NewTransientBackendError("sqlitestore: insert into "+table+" (retry)", err)
		}
	}
	return nil
}

func (s *Store) InsertMany(ctx context.Context, ing *model.Ingester, rows []map[string]any, table string) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	table = storage.TableName(ing, table)
	if err := s.CreateTable(ctx, ing, table); err != nil {
		return err
	}
	persisted := ing.PersistedFields()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.NewTransientBackendError("sqlitestore: begin tx", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		cols := make([]model.Field, len(persisted))
		for i, f := range persisted {
			f.Value = row[f.Name]
			cols[i] = f
		}
		if err := s.insertRowTx(ctx, tx, table, cols); err != nil {
			return apperr.NewTransientBackendError("sqlitestore: insert many into "+table, err)
		}
	}
	return tx.Commit()
}

func (s *Store) insertRowTx(ctx context.Context, tx *sql.Tx, table string, cols []model.Field) error {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		placeholders[i] = "?"
		values[i] = toStorageValue(c.Value, c.Type)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	_, err := tx.ExecContext(ctx, q, values...)
	return err
}

func (s *Store) Upsert(ctx context.Context, ing *model.Ingester, table string, uid string) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	table = storage.TableName(ing, table)
	cols := ing.PersistedFields()
	if len(cols) == 0 {
		return fmt.Errorf("sqlitestore: ingester %s has no persisted fields", ing.Name)
	}
	conflictKey := cols[0].Name
	if uid != "" {
		for i := range cols {
			if cols[i].Name == conflictKey {
				cols[i].Value = uid
			}
		}
	}
	err := s.insertRow(ctx, table, cols, true, conflictKey)
	if err != nil {
		if !isMissingTable(err) {
			return apperr.NewTransientBackendError("sqlitestore: upsert into "+table, err)
		}
		if cerr := s.CreateTable(ctx, ing, table); cerr != nil {
			return cerr
		}
		if err := s.insertRow(ctx, table, cols, true, conflictKey); err != nil {
			return apperr.NewTransientBackendError("sqlitestore: upsert into "+table+" (retry)", err)
		}
	}
	return nil
}

func (s *Store) FetchById(ctx context.Context, table, uid string) (map[string]any, error) {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	cols, err := s.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	primary := cols[0].Name
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(primary))
	rows, err := s.db.QueryContext(ctx, q, uid)
	if err != nil {
		return nil, apperr.NewTransientBackendError("sqlitestore: fetch by id", err)
	}
	defer rows.Close()
	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Store) FetchBatchByIds(ctx context.Context, table string, uids []string) ([]map[string]any, error) {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	cols, err := s.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	primary := cols[0].Name
	placeholders := make([]string, len(uids))
	args := make([]any, len(uids))
	for i, u := range uids {
		placeholders[i] = "?"
		args[i] = u
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)", quoteIdent(table), quoteIdent(primary), strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.NewTransientBackendError("sqlitestore: fetch batch by ids", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Store) Fetch(ctx context.Context, table string, from, to time.Time, interval model.Interval, cols []string, useFirst bool) ([]string, [][]any, error) {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return nil, nil, err
	}
	allCols, err := s.GetColumns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	if len(allCols) == 0 {
		return nil, nil, nil
	}
	tsCol := allCols[0].Name

	selectCols := cols
	if len(selectCols) == 0 {
		for _, c := range allCols[1:] {
			selectCols = append(selectCols, c.Name)
		}
	}

	names := make([]string, 0, len(selectCols)+1)
	names = append(names, tsCol)
	for _, c := range selectCols {
		names = append(names, quoteIdent(c))
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s >= ? AND %s <= ? ORDER BY %s ASC",
		quoteIdent(tsCol), strings.Join(quoteAll(selectCols), ", "), quoteIdent(table), quoteIdent(tsCol), quoteIdent(tsCol), quoteIdent(tsCol))
	rows, err := s.db.QueryContext(ctx, q, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, nil, apperr.NewTransientBackendError("sqlitestore: fetch", err)
	}
	defer rows.Close()

	raw, err := scanRawRows(rows, append([]string{tsCol}, selectCols...))
	if err != nil {
		return nil, nil, err
	}
	outCols, outRows := bucketRows(raw, tsCol, selectCols, interval, useFirst)
	return outCols, outRows, nil
}

func (s *Store) FetchBatch(ctx context.Context, tables []string, from, to time.Time, interval model.Interval, cols []string) ([]string, [][]any, error) {
	var outCols []string
	var outRows [][]any
	for _, t := range tables {
		c, r, err := s.Fetch(ctx, t, from, to, interval, cols, false)
		if err != nil {
			return nil, nil, err
		}
		if outCols == nil {
			outCols = append([]string{"__table"}, c...)
		}
		for _, row := range r {
			outRows = append(outRows, append([]any{t}, row...))
		}
	}
	return outCols, outRows, nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, apperr.NewTransientBackendError("sqlitestore: list tables", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) GetColumns(ctx context.Context, table string) ([]storage.ColumnInfo, error) {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, apperr.NewTransientBackendError("sqlitestore: get columns", err)
	}
	defer rows.Close()
	var out []storage.ColumnInfo
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out = append(out, storage.ColumnInfo{Name: name, Type: fieldTypeFromSQL(ctype), Meta: map[string]string{"sql_type": ctype}})
	}
	return out, rows.Err()
}

func (s *Store) AlterTable(ctx context.Context, table string, add, drop []model.Field) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	for _, f := range add {
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(f.Name), sqlType(f.Type))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return apperr.NewTransientBackendError("sqlitestore: alter table add", err)
		}
	}
	for _, f := range drop {
		q := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(f.Name))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return apperr.NewTransientBackendError("sqlitestore: alter table drop", err)
		}
	}
	return nil
}

// Commit is a no-op: every write above auto-commits (sqlitestore does not
// hold an implicit long-lived transaction across calls).
func (s *Store) Commit(ctx context.Context) error { return nil }

// FetchSeries satisfies transform.SeriesSource for {target::fn(lookback)}
// series transformers.
func (s *Store) FetchSeries(ctx context.Context, table, field string, from, to time.Time, interval model.Interval) ([]float64, error) {
	_, rows, err := s.Fetch(ctx, table, from, to, interval, []string{field}, false)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 || r[1] == nil {
			continue
		}
		f, err := toFloat64(r[1])
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such table")
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("sqlitestore: value %v is not numeric", v)
	}
}

func fieldTypeFromSQL(sqlT string) model.FieldType {
	switch strings.ToUpper(sqlT) {
	case "INTEGER":
		return model.TypeInt64
	case "REAL":
		return model.TypeFloat64
	case "BLOB":
		return model.TypeBinary
	default:
		return model.TypeString
	}
}

// toStorageValue applies the per-type encoding rule (UTC millisecond
// timestamps, bool-as-int) before a value reaches the driver.
func toStorageValue(v any, t model.FieldType) any {
	switch t {
	case model.TypeTimestamp:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().UnixMilli()
		}
	case model.TypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	}
	return v
}
