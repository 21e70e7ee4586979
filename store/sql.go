package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/log"
)

// Dialect is what differs between the SQL databases backing a store
type Dialect struct {
	DriverName string
	// Schema creates the events table. It is formatted with the table name and
	// must be idempotent.
	Schema string
	// IsDuplicate reports a primary key violation
	IsDuplicate func(error) bool
}

// Session is satisfied both by the pool and by a transaction
type Session interface {
	Rebind(query string) string
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// row is the events table record
type row struct {
	Tag         string `db:"tag"`
	AggregateID string `db:"aggregate_id"`
	SortKey     []byte `db:"sort_key"`
	Variant     string `db:"variant"`
	Payload     []byte `db:"payload"`
}

var (
	_ concourse.EventStore = (*SQL)(nil)
	_ concourse.Catalogue  = (*SQL)(nil)
)

// SQL is an EventStore over a single events table keyed by
// (tag, aggregate_id, sort_key). Sort keys are stored as bytes so that the
// database orders them like StreamTimestamps.
type SQL struct {
	db      *sqlx.DB
	dialect Dialect
	codec   concourse.Codec
	table   string
	logger  *slog.Logger
}

func NewSQL(ctx context.Context, db *sqlx.DB, dialect Dialect, codec concourse.Codec, options ...Option) (*SQL, error) {
	opts := NewOptions(options...)
	s := &SQL{
		db:      db,
		dialect: dialect,
		codec:   codec,
		table:   opts.TablePrefix + "events",
		logger:  opts.Logger.With("store", dialect.DriverName),
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(dialect.Schema, s.table)); err != nil {
		return nil, faults.Errorf("unable to create table '%s': %w", s.table, err)
	}
	return s, nil
}

func (s *SQL) DB() *sqlx.DB {
	return s.db
}

func (s *SQL) Close() error {
	return faults.Wrap(s.db.Close())
}

func (s *SQL) Append(ctx context.Context, batch []concourse.Event) error {
	if len(batch) == 0 {
		return nil
	}
	groups, keys, err := Partition(batch)
	if err != nil {
		return err
	}

	rows := make(map[StreamKey][]row, len(groups))
	for _, k := range keys {
		for _, e := range groups[k] {
			payload, err := s.codec.Encode(e.Data)
			if err != nil {
				return faults.Errorf("unable to encode '%s' for %s: %w", e.Kind(), k, err)
			}
			rows[k] = append(rows[k], row{
				Tag:         string(e.Tag),
				AggregateID: string(e.AggregateID),
				SortKey:     []byte(e.Timestamp.SortKey()),
				Variant:     e.Name(),
				Payload:     payload,
			})
		}
	}

	insert := fmt.Sprintf(`INSERT INTO %s (tag, aggregate_id, sort_key, variant, payload) VALUES (?, ?, ?, ?, ?)`, s.table)
	err = s.withTx(ctx, func(ctx context.Context, tx Session) error {
		query := tx.Rebind(insert)
		for _, k := range keys {
			for i, r := range rows[k] {
				_, err := tx.ExecContext(ctx, query, r.Tag, r.AggregateID, r.SortKey, r.Variant, r.Payload)
				if err == nil {
					continue
				}
				if s.dialect.IsDuplicate(err) {
					return Duplicate(k, groups[k][i].Timestamp)
				}
				return faults.Errorf("unable to insert event for %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Appended batch", log.Batch(len(batch)))
	return nil
}

func (s *SQL) Load(ctx context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	ids = Distinct(ids)
	streams := EmptyStreams(ids)
	if len(ids) == 0 {
		return streams, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT tag, aggregate_id, sort_key, variant, payload FROM %s WHERE tag = ? AND aggregate_id IN (?) ORDER BY aggregate_id, sort_key`, s.table),
		string(tag), keys,
	)
	if err != nil {
		return nil, faults.Wrap(err)
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, faults.Errorf("unable to load '%s' streams: %w", tag, err)
	}

	for _, r := range rows {
		e, err := s.toEvent(r)
		if err != nil {
			return nil, err
		}
		streams[e.AggregateID] = append(streams[e.AggregateID], e)
	}

	s.logger.Debug("Loaded streams", "tag", tag, "ids", len(ids), "events", len(rows))
	return streams, nil
}

func (s *SQL) AggregateIDs(ctx context.Context, tag concourse.Tag) ([]concourse.AggregateID, error) {
	var ids []concourse.AggregateID
	query := s.db.Rebind(fmt.Sprintf(`SELECT DISTINCT aggregate_id FROM %s WHERE tag = ? ORDER BY aggregate_id`, s.table))
	if err := s.db.SelectContext(ctx, &ids, query, string(tag)); err != nil {
		return nil, faults.Errorf("unable to list '%s' aggregates: %w", tag, err)
	}
	return ids, nil
}

func (s *SQL) toEvent(r row) (concourse.Event, error) {
	ts, err := concourse.ParseSortKey(string(r.SortKey))
	if err != nil {
		return concourse.Event{}, err
	}
	tag := concourse.Tag(r.Tag)
	data, err := s.codec.Decode(tag, r.Variant, r.Payload)
	if err != nil {
		return concourse.Event{}, err
	}
	return concourse.Event{
		Timestamp:   ts,
		AggregateID: concourse.AggregateID(r.AggregateID),
		Tag:         tag,
		Data:        data,
	}, nil
}

func (s *SQL) withTx(ctx context.Context, fn func(context.Context, Session) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return faults.Wrap(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return faults.Wrap(tx.Commit())
}
