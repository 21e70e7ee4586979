// Package sqlite provides a SQLite backed EventStore
package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/quintans/faults"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/store"
)

const driverName = "sqlite"

var Dialect = store.Dialect{
	DriverName: driverName,
	Schema: `CREATE TABLE IF NOT EXISTS %s (
	tag TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	sort_key BLOB NOT NULL,
	variant TEXT NOT NULL,
	payload BLOB,
	PRIMARY KEY (tag, aggregate_id, sort_key)
)`,
	IsDuplicate: isDup,
}

// New opens the database at dsn, eg: ":memory:" or a file path. SQLite allows a
// single writer so the pool is limited to one connection.
func New(ctx context.Context, dsn string, codec concourse.Codec, options ...store.Option) (*store.SQL, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, faults.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, faults.Errorf("ping sqlite db: %w", err)
	}

	s, err := store.NewSQL(ctx, db, Dialect, codec, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isDup(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
