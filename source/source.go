// Package source preloads streams from a store and replays them, typically
// into the fold engine.
package source

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/store"
)

// Retriever loads streams, eg: an EventStore
type Retriever interface {
	Load(ctx context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error)
}

type Option func(*EventSource)

func WithLogger(logger *slog.Logger) Option {
	return func(s *EventSource) {
		s.logger = logger
	}
}

// EventSource caches preloaded streams. A preload replaces the cached entries
// of the ids it loaded. It is safe for concurrent use.
type EventSource struct {
	retriever Retriever
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[store.StreamKey]concourse.Stream
}

func New(retriever Retriever, options ...Option) *EventSource {
	s := &EventSource{
		retriever: retriever,
		logger:    slog.Default(),
		cache:     map[store.StreamKey]concourse.Stream{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Preload loads the streams of ids into the cache and returns a snapshot of
// them that later preloads do not change
func (s *EventSource) Preload(ctx context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (*Cached, error) {
	streams, err := s.retriever.Load(ctx, tag, ids...)
	if err != nil {
		return nil, faults.Errorf("unable to preload '%s': %w", tag, err)
	}

	s.mu.Lock()
	for id, stream := range streams {
		s.cache[store.StreamKey{Tag: tag, ID: id}] = stream
	}
	s.mu.Unlock()

	s.logger.Debug("Preloaded streams", "tag", tag, "ids", len(streams))
	return &Cached{tag: tag, streams: streams}, nil
}

// Replaying replays the cached stream of id or, if it was never preloaded,
// loads it without caching it
func (s *EventSource) Replaying(ctx context.Context, tag concourse.Tag, id concourse.AggregateID) (Replay, error) {
	s.mu.RLock()
	stream, ok := s.cache[store.StreamKey{Tag: tag, ID: id}]
	s.mu.RUnlock()
	if ok {
		return NewReplay(stream), nil
	}

	streams, err := s.retriever.Load(ctx, tag, id)
	if err != nil {
		return Replay{}, faults.Errorf("unable to load %s/%s: %w", tag, id, err)
	}
	return NewReplay(streams[id]), nil
}

// Evict drops the cached streams of ids
func (s *EventSource) Evict(tag concourse.Tag, ids ...concourse.AggregateID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.cache, store.StreamKey{Tag: tag, ID: id})
	}
}

// Cached is the result of one preload
type Cached struct {
	tag     concourse.Tag
	streams map[concourse.AggregateID]concourse.Stream
}

func (c *Cached) Tag() concourse.Tag {
	return c.tag
}

// Replaying replays the preloaded stream of id. An id that was not part of
// the preload replays nothing.
func (c *Cached) Replaying(id concourse.AggregateID) Replay {
	return NewReplay(c.streams[id])
}

// IDs returns the preloaded ids, sorted
func (c *Cached) IDs() []concourse.AggregateID {
	return slices.Sorted(maps.Keys(c.streams))
}
