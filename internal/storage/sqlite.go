package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps result tables in a single sqlite file. It is the default
// backend and runs with one connection, matching the orchestrator's single
// writer.
type SQLiteStore struct {
	*sqlStore
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore: &sqlStore{
		dsn: path,
		dialect: dialect{
			name:     KindSQLite,
			seqDecl:  "INTEGER PRIMARY KEY AUTOINCREMENT",
			realType: "REAL",
			blobType: "BLOB",
			open:     openSQLite,
			bind:     questionBind,
		},
	}}
}

func openSQLite(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
