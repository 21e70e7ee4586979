// Package memory provides the in memory EventStore, the reference for every
// other store.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/log"
	"github.com/opencredo/concourse/store"
)

var (
	_ concourse.EventStore = (*Store)(nil)
	_ concourse.Catalogue  = (*Store)(nil)
)

type stream struct {
	mu     sync.RWMutex
	events concourse.Stream
}

// Store keeps every stream behind its own lock. Appends lock the streams they
// touch in key order, so appends to distinct streams run in parallel and a
// multi stream load never observes half a batch.
type Store struct {
	mu      sync.Mutex
	streams map[store.StreamKey]*stream
	logger  *slog.Logger
}

// Empty returns a store with no events and default options
func Empty() *Store {
	return New()
}

func New(options ...store.Option) *Store {
	opts := store.NewOptions(options...)
	return &Store{
		streams: map[store.StreamKey]*stream{},
		logger:  opts.Logger.With("store", "memory"),
	}
}

func (s *Store) Append(_ context.Context, batch []concourse.Event) error {
	if len(batch) == 0 {
		return nil
	}
	groups, keys, err := store.Partition(batch)
	if err != nil {
		return err
	}

	locked := s.lookup(keys, true)
	for _, st := range locked {
		st.mu.Lock()
	}
	defer func() {
		for _, st := range locked {
			st.mu.Unlock()
		}
	}()

	merged := make([]concourse.Stream, len(keys))
	for i, k := range keys {
		m, err := store.Merge(k, locked[i].events, groups[k])
		if err != nil {
			s.logger.Debug("Rejected batch", log.Stream(k.Tag, k.ID), log.Err(err))
			return err
		}
		merged[i] = m
	}
	for i, st := range locked {
		st.events = merged[i]
	}

	s.logger.Debug("Appended batch", log.Batch(len(batch)))
	return nil
}

func (s *Store) Load(_ context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	ids = store.Distinct(ids)
	result := store.EmptyStreams(ids)

	keys := make([]store.StreamKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, store.StreamKey{Tag: tag, ID: id})
	}
	slices.SortFunc(keys, store.StreamKey.Compare)

	found := s.lookup(keys, false)
	for _, st := range found {
		if st != nil {
			st.mu.RLock()
		}
	}
	for i, st := range found {
		if st != nil {
			result[keys[i].ID] = slices.Clone(st.events)
			st.mu.RUnlock()
		}
	}
	return result, nil
}

func (s *Store) AggregateIDs(_ context.Context, tag concourse.Tag) ([]concourse.AggregateID, error) {
	s.mu.Lock()
	candidates := map[concourse.AggregateID]*stream{}
	for k, st := range s.streams {
		if k.Tag == tag {
			candidates[k.ID] = st
		}
	}
	s.mu.Unlock()

	ids := make([]concourse.AggregateID, 0, len(candidates))
	for id, st := range candidates {
		st.mu.RLock()
		if !st.events.IsEmpty() {
			ids = append(ids, id)
		}
		st.mu.RUnlock()
	}
	slices.Sort(ids)
	return ids, nil
}

// lookup returns the streams of keys in the same order. Missing streams are
// created when create is set, otherwise they are nil.
func (s *Store) lookup(keys []store.StreamKey, create bool) []*stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*stream, len(keys))
	for i, k := range keys {
		st, ok := s.streams[k]
		if !ok && create {
			st = &stream{}
			s.streams[k] = st
		}
		out[i] = st
	}
	return out
}
