// Package pgstore implements storage.Adapter against Postgres/Timescale via
// pgx's connection pool, representing the clustered-SQL class of back-end
// named in spec.md §4.3.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fluxgate/internal/apperr"
	"fluxgate/internal/logging"
	"fluxgate/internal/model"
	"fluxgate/internal/storage"
)

// Store is a storage.Adapter backed by a pgxpool.Pool.
type Store struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger
	rc   *storage.Reconnector
}

var _ storage.Adapter = (*Store)(nil)

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
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	if s.dsn == "" {
		return fmt.Errorf("pgstore: no connection string set, call Connect first")
	}
	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return apperr.NewPermanentBackendError("pgstore: parse dsn", err)
	}
	// Pool sizing mirrors the env-driven tuning knobs used throughout the
	// rest of the ecosystem for pgxpool deployments.
	if v := os.Getenv("FLUXGATE_DB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("FLUXGATE_DB_MIN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return apperr.NewTransientBackendError("pgstore: create pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return apperr.NewTransientBackendError("pgstore: ping", err)
	}
	s.pool = pool
	return nil
}

// Connect builds the pgxpool DSN from discrete fields; dbName selects the
// database to connect to directly (UseDatabase is a no-op for pgstore since
// pgx pools are bound to one database per connection string).
func (s *Store) Connect(ctx context.Context, host string, port int, dbName, user, password string) error {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, dbName)
	s.mu.Lock()
	s.dsn = dsn
	s.mu.Unlock()
	return s.rc.EnsureConnected(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// CreateDatabase issues CREATE DATABASE against the administrative
// connection. force drops an existing database of the same name first.
func (s *Store) CreateDatabase(ctx context.Context, name string, opts map[string]string, force bool) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	if force {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(name))); err != nil {
			return apperr.NewTransientBackendError("pgstore: drop database", err)
		}
	}
	q := fmt.Sprintf("CREATE DATABASE %s", quoteIdent(name))
	if owner, ok := opts["owner"]; ok {
		q += " OWNER " + quoteIdent(owner)
	}
	_, err := s.pool.Exec(ctx, q)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return apperr.NewTransientBackendError("pgstore: create database", err)
	}
	return nil
}

// UseDatabase is a no-op: a pgxpool.Pool is already bound to one database
// per connection string; switching requires a new Connect.
func (s *Store) UseDatabase(ctx context.Context, name string) error { return nil }

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlType(t model.FieldType) string {
	switch t {
	case model.TypeInt8, model.TypeInt16, model.TypeUint8:
		return "SMALLINT"
	case model.TypeInt32, model.TypeUint16:
		return "INTEGER"
	case model.TypeInt64, model.TypeUint32:
		return "BIGINT"
	case model.TypeUint64:
		return "NUMERIC(20,0)" // no unsigned 64-bit integer in Postgres
	case model.TypeFloat32:
		return "REAL"
	case model.TypeFloat64:
		return "DOUBLE PRECISION"
	case model.TypeBool:
		return "BOOLEAN"
	case model.TypeTimestamp:
		return "TIMESTAMPTZ"
	case model.TypeBinary, model.TypeVarbinary:
		return "BYTEA"
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
		return fmt.Errorf("pgstore: ingester %s has no persisted fields", ing.Name)
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
	if _, err := s.pool.Exec(ctx, sb.String()); err != nil {
		return apperr.NewTransientBackendError("pgstore: create table "+table, err)
	}
	if ing.ResourceType == model.ResourceTimeseries {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quoteIdent(table+"_"+primary+"_idx"), quoteIdent(table), quoteIdent(primary))
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return apperr.NewTransientBackendError("pgstore: create index on "+table, err)
		}
	}
	return nil
}

func (s *Store) insertRow(ctx context.Context, table string, cols []model.Field, upsert bool, conflictKey string) error {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		placeholders[i] = "$" + strconv.Itoa(i+1)
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
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c.Name), quoteIdent(c.Name)))
		}
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET %s", quoteIdent(conflictKey), strings.Join(sets, ", "))
	}
	_, err := s.pool.Exec(ctx, sb.String(), values...)
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
			return apperr.NewTransientBackendError("pgstore: insert into "+table, err)
		}
		if cerr := s.CreateTable(ctx, ing, table); cerr != nil {
			return cerr
		}
		if err := s.insertRow(ctx, table, cols, false, ""); err != nil {
			return apperr.NewTransientBackendError("pgstore: insert into "+table+" (retry)", err)
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

	batch := &pgx.Batch{}
	names := make([]string, len(persisted))
	placeholders := make([]string, len(persisted))
	for i, f := range persisted {
		names[i] = quoteIdent(f.Name)
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	for _, row := range rows {
		values := make([]any, len(persisted))
		for i, f := range persisted {
			values[i] = toStorageValue(row[f.Name], f.Type)
		}
		batch.Queue(q, values...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return apperr.NewTransientBackendError("pgstore: insert many into "+table, err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, ing *model.Ingester, table string, uid string) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	table = storage.TableName(ing, table)
	cols := ing.PersistedFields()
	if len(cols) == 0 {
		return fmt.Errorf("pgstore: ingester %s has no persisted fields", ing.Name)
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
			return apperr.NewTransientBackendError("pgstore: upsert into "+table, err)
		}
		if cerr := s.CreateTable(ctx, ing, table); cerr != nil {
			return cerr
		}
		if err := s.insertRow(ctx, table, cols, true, conflictKey); err != nil {
			return apperr.NewTransientBackendError("pgstore: upsert into "+table+" (retry)", err)
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
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", quoteIdent(table), quoteIdent(primary))
	rows, err := s.pool.Query(ctx, q, uid)
	if err != nil {
		return nil, apperr.NewTransientBackendError("pgstore: fetch by id", err)
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
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ANY($1)", quoteIdent(table), quoteIdent(primary))
	rows, err := s.pool.Query(ctx, q, uids)
	if err != nil {
		return nil, apperr.NewTransientBackendError("pgstore: fetch batch by ids", err)
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

	names := make([]string, 0, len(selectCols))
	for _, c := range selectCols {
		names = append(names, quoteIdent(c))
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s >= $1 AND %s <= $2 ORDER BY %s ASC",
		quoteIdent(tsCol), strings.Join(names, ", "), quoteIdent(table), quoteIdent(tsCol), quoteIdent(tsCol), quoteIdent(tsCol))
	rows, err := s.pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, nil, apperr.NewTransientBackendError("pgstore: fetch", err)
	}
	defer rows.Close()

	raw, err := scanRawRows(rows, 1+len(selectCols))
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
	rows, err := s.pool.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public'`)
	if err != nil {
		return nil, apperr.NewTransientBackendError("pgstore: list tables", err)
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
	rows, err := s.pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, apperr.NewTransientBackendError("pgstore: get columns", err)
	}
	defer rows.Close()
	var out []storage.ColumnInfo
	for rows.Next() {
		var name, dtype string
		if err := rows.Scan(&name, &dtype); err != nil {
			return nil, err
		}
		out = append(out, storage.ColumnInfo{Name: name, Type: fieldTypeFromSQL(dtype), Meta: map[string]string{"sql_type": dtype}})
	}
	return out, rows.Err()
}

func (s *Store) AlterTable(ctx context.Context, table string, add, drop []model.Field) error {
	if err := s.rc.EnsureConnected(ctx); err != nil {
		return err
	}
	for _, f := range add {
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", quoteIdent(table), quoteIdent(f.Name), sqlType(f.Type))
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return apperr.NewTransientBackendError("pgstore: alter table add", err)
		}
	}
	for _, f := range drop {
		q := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", quoteIdent(table), quoteIdent(f.Name))
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return apperr.NewTransientBackendError("pgstore: alter table drop", err)
		}
	}
	return nil
}

// Commit is a no-op: every write above auto-commits outside an explicit
// pgx.Tx (pgstore does not hold an implicit long-lived transaction across
// calls).
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

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 42P01")
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("pgstore: value %v is not numeric", v)
	}
}

func fieldTypeFromSQL(dtype string) model.FieldType {
	switch dtype {
	case "smallint", "integer", "bigint", "numeric":
		return model.TypeInt64
	case "double precision", "real":
		return model.TypeFloat64
	case "boolean":
		return model.TypeBool
	case "timestamp with time zone", "timestamp without time zone":
		return model.TypeTimestamp
	case "bytea":
		return model.TypeBinary
	default:
		return model.TypeString
	}
}

func toStorageValue(v any, t model.FieldType) any {
	switch t {
	case model.TypeTimestamp:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC()
		}
	}
	return v
}
