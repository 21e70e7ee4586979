// Package postgresql provides a PostgreSQL backed EventStore
package postgresql

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/store"
)

const (
	driverName        = "postgres"
	pgUniqueViolation = "23505"
)

var Dialect = store.Dialect{
	DriverName: driverName,
	Schema: `CREATE TABLE IF NOT EXISTS %s (
	tag VARCHAR (100) NOT NULL,
	aggregate_id VARCHAR (200) NOT NULL,
	sort_key BYTEA NOT NULL,
	variant VARCHAR (100) NOT NULL,
	payload BYTEA,
	PRIMARY KEY (tag, aggregate_id, sort_key)
)`,
	IsDuplicate: isDup,
}

func New(ctx context.Context, connString string, codec concourse.Codec, options ...store.Option) (*store.SQL, error) {
	db, err := sqlx.Open(driverName, connString)
	if err != nil {
		return nil, faults.Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, faults.Errorf("ping postgres: %w", err)
	}

	s, err := store.NewSQL(ctx, db, Dialect, codec, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isDup(err error) bool {
	var pgerr *pq.Error
	return errors.As(err, &pgerr) && pgerr.Code == pgUniqueViolation
}
