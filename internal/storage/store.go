package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"tennessen/internal/model"
)

var (
	ErrNotInitialized   = errors.New("store is not initialized")
	ErrInvalidName      = errors.New("invalid table or column name")
	ErrColumnMismatch   = errors.New("columns do not match existing table")
	ErrReservedTable    = errors.New("table name is reserved")
	ErrTableNotFound    = errors.New("table not found")
	identifierPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reservedTableNames  = map[string]struct{}{runsTable: {}, tablesTable: {}}
	reservedColumnNames = map[string]struct{}{seqColumn: {}}
)

const (
	runsTable   = "runs"
	tablesTable = "result_tables"
	seqColumn   = "seq"
)

// TableInfo describes one result table.
type TableInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// Store is an append-only collection of named numeric tables plus the run
// manifests that produced them. The first Append to a table fixes its columns;
// later appends must carry the same header. Each Append is atomic.
type Store interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, table string, rows model.RecordSet) error
	Rows(ctx context.Context, table string) (model.RecordSet, bool, error)
	Tables(ctx context.Context) ([]TableInfo, error)
	Truncate(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunManifest) error
	GetRun(ctx context.Context, id string) (model.RunManifest, bool, error)
	ListRuns(ctx context.Context) ([]model.RunManifest, error)
}

func validateAppend(table string, rows model.RecordSet) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("%w: table %q", ErrInvalidName, table)
	}
	if _, reserved := reservedTableNames[table]; reserved {
		return fmt.Errorf("%w: %s", ErrReservedTable, table)
	}
	if len(rows.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", ErrInvalidName, table)
	}
	seen := make(map[string]struct{}, len(rows.Columns))
	for _, column := range rows.Columns {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("%w: column %q", ErrInvalidName, column)
		}
		if _, reserved := reservedColumnNames[column]; reserved {
			return fmt.Errorf("%w: column %q is reserved", ErrInvalidName, column)
		}
		if _, dup := seen[column]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidName, column)
		}
		seen[column] = struct{}{}
	}
	for i, row := range rows.Rows {
		if len(row) != len(rows.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrColumnMismatch, i, len(row), len(rows.Columns))
		}
	}
	return nil
}

func sameColumns(a, b []string) bool {
	return model.RecordSet{Columns: a}.SameShape(model.RecordSet{Columns: b})
}
