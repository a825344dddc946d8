package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

const DefaultPostgresDSN = "postgres://localhost/tennessen?sslmode=disable"

// PostgresStore keeps result tables in a postgres database through pgx.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore falls back to DefaultPostgresDSN when dsn is empty.
func NewPostgresStore(dsn string) *PostgresStore {
	if dsn == "" {
		dsn = DefaultPostgresDSN
	}
	return &PostgresStore{sqlStore: &sqlStore{
		dsn: dsn,
		dialect: dialect{
			name:     KindPostgres,
			seqDecl:  "BIGSERIAL PRIMARY KEY",
			realType: "DOUBLE PRECISION",
			blobType: "BYTEA",
			open:     openPostgres,
			bind:     dollarBind,
		},
	}}
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	return db, nil
}
