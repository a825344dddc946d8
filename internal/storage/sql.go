package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tennessen/internal/model"
)

// dialect captures the few places sqlite and postgres disagree.
type dialect struct {
	name     string
	seqDecl  string
	realType string
	blobType string
	open     func(dsn string) (*sql.DB, error)
	bind     func(i int) string
}

// sqlStore is the database/sql implementation shared by the sqlite and
// postgres backends. Result tables are created on first append with one
// floating point column per record column plus an insertion sequence.
type sqlStore struct {
	dialect dialect
	dsn     string

	mu sync.RWMutex
	db *sql.DB
}

func (s *sqlStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return fmt.Errorf("%s dsn is required", s.dialect.name)
	}
	if s.db != nil {
		return nil
	}

	db, err := s.dialect.open(s.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.dialect.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", s.dialect.name, err)
	}
	if err := s.createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func (s *sqlStore) createTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			columns TEXT NOT NULL
		)`, tablesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			payload %s NOT NULL
		)`, runsTable, s.dialect.blobType),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (s *sqlStore) createTableSQL(table string, columns []string) string {
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, quoteIdent(seqColumn)+" "+s.dialect.seqDecl)
	for _, column := range columns {
		defs = append(defs, quoteIdent(column)+" "+s.dialect.realType+" NOT NULL")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

func (s *sqlStore) insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	binds := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
		binds[i] = s.dialect.bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(quoted, ", "), strings.Join(binds, ", "))
}

func (s *sqlStore) Append(ctx context.Context, table string, rows model.RecordSet) error {
	if err := validateAppend(table, rows); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT columns FROM %s WHERE name = %s`, tablesTable, s.dialect.bind(1)), table).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, s.createTableSQL(table, rows.Columns)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		encoded, err := encodeColumns(rows.Columns)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (name, columns) VALUES (%s, %s)`, tablesTable, s.dialect.bind(1), s.dialect.bind(2)), table, string(encoded)); err != nil {
			return fmt.Errorf("register table %s: %w", table, err)
		}
	case err != nil:
		return err
	default:
		existing, err := decodeColumns([]byte(raw))
		if err != nil {
			return fmt.Errorf("decode columns of %s: %w", table, err)
		}
		if !sameColumns(existing, rows.Columns) {
			return fmt.Errorf("%w: %s has %v, got %v", ErrColumnMismatch, table, existing, rows.Columns)
		}
	}

	if len(rows.Rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.insertSQL(table, rows.Columns))
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		args := make([]any, len(rows.Columns))
		for _, row := range rows.Rows {
			for i, v := range row {
				args[i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert into %s: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *sqlStore) columnsOf(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, table string) ([]string, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT columns FROM %s WHERE name = %s`, tablesTable, s.dialect.bind(1)), table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	columns, err := decodeColumns([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode columns of %s: %w", table, err)
	}
	return columns, true, nil
}

func (s *sqlStore) Rows(ctx context.Context, table string) (model.RecordSet, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RecordSet{}, false, err
	}
	columns, ok, err := s.columnsOf(ctx, db, table)
	if err != nil || !ok {
		return model.RecordSet{}, false, err
	}

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(quoted, ", "), quoteIdent(table), quoteIdent(seqColumn)))
	if err != nil {
		return model.RecordSet{}, false, err
	}
	defer func() { _ = rows.Close() }()

	out := model.NewRecordSet(columns...)
	dest := make([]any, len(columns))
	for rows.Next() {
		values := make([]float64, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return model.RecordSet{}, false, err
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return model.RecordSet{}, false, err
	}
	return out, true, nil
}

func (s *sqlStore) Tables(ctx context.Context) ([]TableInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT name, columns FROM %s ORDER BY name`, tablesTable))
	if err != nil {
		return nil, err
	}
	var infos []TableInfo
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			_ = rows.Close()
			return nil, err
		}
		columns, err := decodeColumns([]byte(raw))
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode columns of %s: %w", name, err)
		}
		infos = append(infos, TableInfo{Name: name, Columns: columns})
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range infos {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(infos[i].Name)).Scan(&infos[i].Rows); err != nil {
			return nil, fmt.Errorf("count %s: %w", infos[i].Name, err)
		}
	}
	return infos, nil
}

func (s *sqlStore) Truncate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	infos, err := s.Tables(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, info := range infos {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(info.Name)); err != nil {
			return fmt.Errorf("drop %s: %w", info.Name, err)
		}
	}
	for _, table := range []string{tablesTable, runsTable} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run model.RunManifest) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := EncodeRunManifest(run)
	if err != nil {
		return err
	}
	schema, codec := run.SchemaVersion, run.CodecVersion
	if schema == 0 && codec == 0 {
		schema, codec = CurrentSchemaVersion, CurrentCodecVersion
	}
	b := s.dialect.bind
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, schema_version, codec_version, started_at, payload)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			started_at = excluded.started_at,
			payload = excluded.payload
	`, runsTable, b(1), b(2), b(3), b(4), b(5)),
		run.RunID, schema, codec, run.StartedAt.UTC().Format(time.RFC3339Nano), payload)
	return err
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (model.RunManifest, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunManifest{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = %s`, runsTable, s.dialect.bind(1)), id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunManifest{}, false, nil
		}
		return model.RunManifest{}, false, err
	}

	run, err := DecodeRunManifest(payload)
	if err != nil {
		return model.RunManifest{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *sqlStore) ListRuns(ctx context.Context) ([]model.RunManifest, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, payload FROM %s ORDER BY started_at, id`, runsTable))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []model.RunManifest
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRunManifest(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func questionBind(int) string { return "?" }

func dollarBind(i int) string { return "$" + strconv.Itoa(i) }
