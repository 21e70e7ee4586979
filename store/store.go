// Package store holds what the EventStore implementations share: batch
// partitioning and merging under the duplicate timestamp policy, options and
// the SQL engine used by the sqlite and postgresql stores.
package store

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

// StreamKey identifies one stream
type StreamKey struct {
	Tag concourse.Tag
	ID  concourse.AggregateID
}

func (k StreamKey) String() string {
	return string(k.Tag) + "/" + string(k.ID)
}

func (k StreamKey) Compare(other StreamKey) int {
	if c := strings.Compare(string(k.Tag), string(other.Tag)); c != 0 {
		return c
	}
	return strings.Compare(string(k.ID), string(other.ID))
}

// Partition validates a batch and groups it per stream. Each group is sorted
// ascending by timestamp and the keys are returned in ascending order, which is
// the order stores must lock streams in. An invalid event or two events with
// the same timestamp in one stream reject the whole batch.
func Partition(batch []concourse.Event) (map[StreamKey][]concourse.Event, []StreamKey, error) {
	groups := map[StreamKey][]concourse.Event{}
	for _, e := range batch {
		if err := e.Validate(); err != nil {
			return nil, nil, &concourse.StoreError{
				Tag:         e.Tag,
				AggregateID: e.AggregateID,
				Err:         faults.Errorf("%w: %v", concourse.ErrInvalidEvent, err),
			}
		}
		k := StreamKey{Tag: e.Tag, ID: e.AggregateID}
		groups[k] = append(groups[k], e)
	}

	keys := make([]StreamKey, 0, len(groups))
	for k, events := range groups {
		concourse.SortEvents(events)
		for i := 1; i < len(events); i++ {
			if events[i-1].Timestamp.Equal(events[i].Timestamp) {
				return nil, nil, Duplicate(k, events[i].Timestamp)
			}
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, StreamKey.Compare)
	return groups, keys, nil
}

// Merge returns a new stream with the sorted incoming events merged into the
// stored ones. Neither argument is modified.
func Merge(k StreamKey, stored concourse.Stream, incoming []concourse.Event) (concourse.Stream, error) {
	merged := make(concourse.Stream, 0, len(stored)+len(incoming))
	i, j := 0, 0
	for i < len(stored) && j < len(incoming) {
		switch c := stored[i].Timestamp.Compare(incoming[j].Timestamp); {
		case c < 0:
			merged = append(merged, stored[i])
			i++
		case c > 0:
			merged = append(merged, incoming[j])
			j++
		default:
			return nil, Duplicate(k, incoming[j].Timestamp)
		}
	}
	merged = append(merged, stored[i:]...)
	merged = append(merged, incoming[j:]...)
	return merged, nil
}

// Duplicate is the error reported when ts is already taken in the stream k
func Duplicate(k StreamKey, ts concourse.StreamTimestamp) error {
	return &concourse.StoreError{
		Tag:         k.Tag,
		AggregateID: k.ID,
		Err:         faults.Errorf("%s: %w", ts, concourse.ErrDuplicateTimestamp),
	}
}

// Distinct drops repeated ids keeping the first occurrence
func Distinct(ids []concourse.AggregateID) []concourse.AggregateID {
	seen := make(map[concourse.AggregateID]struct{}, len(ids))
	out := make([]concourse.AggregateID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// EmptyStreams maps every id to an empty, non nil, stream
func EmptyStreams(ids []concourse.AggregateID) map[concourse.AggregateID]concourse.Stream {
	m := make(map[concourse.AggregateID]concourse.Stream, len(ids))
	for _, id := range ids {
		m[id] = concourse.Stream{}
	}
	return m
}

type Options struct {
	Logger      *slog.Logger
	TablePrefix string
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTablePrefix prefixes the SQL table names, eg: "app_" for app_events
func WithTablePrefix(prefix string) Option {
	return func(o *Options) {
		o.TablePrefix = prefix
	}
}

func NewOptions(options ...Option) Options {
	o := Options{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(&o)
	}
	return o
}
