package test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opencredo/concourse"
)

var Start = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

// NewID returns a fresh aggregate id
func NewID() concourse.AggregateID {
	return concourse.AggregateID(uuid.NewString())
}

func Lightbulb(id concourse.AggregateID, ts concourse.StreamTimestamp, v concourse.Variant) concourse.Event {
	return concourse.Event{Timestamp: ts, AggregateID: id, Tag: LightbulbTag, Data: v}
}

func PersonEvent(id concourse.AggregateID, ts concourse.StreamTimestamp, v concourse.Variant) concourse.Event {
	return concourse.Event{Timestamp: ts, AggregateID: id, Tag: PersonTag, Data: v}
}

// At is a timestamp offset from Start
func At(offset time.Duration) concourse.StreamTimestamp {
	return concourse.Of("", Start.Add(offset))
}

// RequireSameEvents compares events by timestamp, identity and data
func RequireSameEvents(t *testing.T, want, got []concourse.Event) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "event %d: want %s, got %s", i, want[i].Timestamp, got[i].Timestamp)
		assert.Equal(t, want[i].Tag, got[i].Tag, "event %d", i)
		assert.Equal(t, want[i].AggregateID, got[i].AggregateID, "event %d", i)
		assert.Equal(t, want[i].Data, got[i].Data, "event %d", i)
	}
}

// EventStoreContract runs the behaviour every EventStore must have. newStore
// may return stores sharing a backend as long as ids from NewID are used.
func EventStoreContract(t *testing.T, newStore func(t *testing.T) concourse.EventStore) {
	t.Run("loads out of order appends ascending", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := NewID()

		created := Lightbulb(id, At(time.Millisecond), LightbulbCreated{Wattage: 40})
		screwed := Lightbulb(id, At(0), LightbulbScrewedIn{Location: "kitchen"})
		on := Lightbulb(id, At(2*time.Millisecond), LightbulbSwitchedOn{})

		require.NoError(t, s.Append(ctx, []concourse.Event{on, created}))
		require.NoError(t, s.Append(ctx, []concourse.Event{screwed}))

		streams, err := s.Load(ctx, LightbulbTag, id)
		require.NoError(t, err)
		RequireSameEvents(t, []concourse.Event{screwed, created, on}, streams[id])
	})

	t.Run("unknown ids map to empty streams", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		known, unknown := NewID(), NewID()
		require.NoError(t, s.Append(ctx, []concourse.Event{
			Lightbulb(known, At(0), LightbulbCreated{Wattage: 60}),
		}))

		streams, err := s.Load(ctx, LightbulbTag, known, unknown, unknown)
		require.NoError(t, err)
		require.Len(t, streams, 2)
		assert.Len(t, streams[known], 1)
		assert.NotNil(t, streams[unknown])
		assert.True(t, streams[unknown].IsEmpty())

		streams, err = s.Load(ctx, LightbulbTag)
		require.NoError(t, err)
		assert.Empty(t, streams)

		// same id under another tag is another stream
		streams, err = s.Load(ctx, PersonTag, known)
		require.NoError(t, err)
		assert.True(t, streams[known].IsEmpty())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, newStore(t).Append(context.Background(), nil))
	})

	t.Run("duplicate in batch rejects the whole batch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, other := NewID(), NewID()

		err := s.Append(ctx, []concourse.Event{
			Lightbulb(other, At(0), LightbulbCreated{Wattage: 40}),
			Lightbulb(id, At(0), LightbulbCreated{Wattage: 40}),
			Lightbulb(id, At(0), LightbulbSwitchedOn{}),
		})
		requireDuplicate(t, err, id)

		streams, err := s.Load(ctx, LightbulbTag, id, other)
		require.NoError(t, err)
		assert.True(t, streams[id].IsEmpty())
		assert.True(t, streams[other].IsEmpty())
	})

	t.Run("duplicate against stored events rejects the whole batch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id, other := NewID(), NewID()
		first := Lightbulb(id, At(0), LightbulbCreated{Wattage: 40})
		require.NoError(t, s.Append(ctx, []concourse.Event{first}))

		err := s.Append(ctx, []concourse.Event{
			Lightbulb(other, At(0), LightbulbCreated{Wattage: 40}),
			Lightbulb(id, At(time.Millisecond), LightbulbSwitchedOn{}),
			Lightbulb(id, At(0), LightbulbScrewedIn{Location: "hall"}),
		})
		requireDuplicate(t, err, id)

		streams, err := s.Load(ctx, LightbulbTag, id, other)
		require.NoError(t, err)
		RequireSameEvents(t, []concourse.Event{first}, streams[id])
		assert.True(t, streams[other].IsEmpty())
	})

	t.Run("invalid events are rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := NewID()
		err := s.Append(ctx, []concourse.Event{
			Lightbulb(id, At(0), LightbulbCreated{Wattage: 40}),
			Lightbulb("", At(time.Millisecond), LightbulbSwitchedOn{}),
		})
		require.ErrorIs(t, err, concourse.ErrInvalidEvent)

		streams, err := s.Load(ctx, LightbulbTag, id)
		require.NoError(t, err)
		assert.True(t, streams[id].IsEmpty())
	})

	t.Run("instants outside the sort key range are rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := NewID()
		late := concourse.Of("", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC))
		err := s.Append(ctx, []concourse.Event{
			Lightbulb(id, At(0), LightbulbCreated{Wattage: 40}),
			Lightbulb(id, late, LightbulbSwitchedOn{}),
		})
		require.ErrorIs(t, err, concourse.ErrInvalidEvent)

		streams, err := s.Load(ctx, LightbulbTag, id)
		require.NoError(t, err)
		assert.True(t, streams[id].IsEmpty())
	})

	t.Run("tags and ids holding separators are distinct streams", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		suffix := NewID()
		plainID := concourse.AggregateID("kitchen:") + suffix

		plain := Lightbulb(plainID, At(0), LightbulbCreated{Wattage: 40})
		kitchen := concourse.Event{
			Timestamp:   At(0),
			AggregateID: suffix,
			Tag:         KitchenLightbulbTag,
			Data:        LightbulbCreated{Wattage: 60},
		}
		require.NoError(t, s.Append(ctx, []concourse.Event{plain}))
		require.NoError(t, s.Append(ctx, []concourse.Event{kitchen}))

		streams, err := s.Load(ctx, LightbulbTag, plainID)
		require.NoError(t, err)
		RequireSameEvents(t, []concourse.Event{plain}, streams[plainID])

		streams, err = s.Load(ctx, KitchenLightbulbTag, suffix)
		require.NoError(t, err)
		RequireSameEvents(t, []concourse.Event{kitchen}, streams[suffix])
	})

	t.Run("load is independent of append order", func(t *testing.T) {
		ctx := context.Background()
		events := func(id concourse.AggregateID) []concourse.Event {
			return []concourse.Event{
				PersonEvent(id, At(0), PersonCreated{Name: "Arthur Putey", Age: 41}),
				PersonEvent(id, At(time.Millisecond), PersonUpdatedAge{Age: 42}),
				PersonEvent(id, At(time.Millisecond).Plus(0), PersonUpdatedName{Name: "Arthur Daley"}),
				PersonEvent(id, At(3*time.Millisecond), PersonDeleted{}),
			}
		}
		forward, backward := NewID(), NewID()
		s := newStore(t)
		fwd := events(forward)
		for _, e := range fwd {
			require.NoError(t, s.Append(ctx, []concourse.Event{e}))
		}
		bwd := events(backward)
		for i := len(bwd) - 1; i >= 0; i-- {
			require.NoError(t, s.Append(ctx, []concourse.Event{bwd[i]}))
		}

		streams, err := s.Load(ctx, PersonTag, forward, backward)
		require.NoError(t, err)
		RequireSameEvents(t, fwd, streams[forward])
		RequireSameEvents(t, bwd, streams[backward])
	})

	t.Run("concurrent appends", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ids := []concourse.AggregateID{NewID(), NewID(), NewID(), NewID()}
		const each = 20

		g, gCtx := errgroup.WithContext(ctx)
		for _, id := range ids {
			for w := range 2 {
				g.Go(func() error {
					for i := range each {
						// interleave the two writers of the same stream
						ts := At(time.Duration(2*i+w) * time.Millisecond)
						err := s.Append(gCtx, []concourse.Event{Lightbulb(id, ts, LightbulbSwitchedOn{})})
						if err != nil {
							return fmt.Errorf("append %s: %w", id, err)
						}
					}
					return nil
				})
			}
		}
		require.NoError(t, g.Wait())

		streams, err := s.Load(ctx, LightbulbTag, ids...)
		require.NoError(t, err)
		for _, id := range ids {
			stream := streams[id]
			require.Len(t, stream, 2*each)
			for i := 1; i < len(stream); i++ {
				assert.True(t, stream[i-1].Timestamp.Before(stream[i].Timestamp))
			}
		}
	})

	t.Run("catalogue", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		cat, ok := s.(concourse.Catalogue)
		if !ok {
			t.Skip("store has no catalogue")
		}
		a, b := NewID(), NewID()
		require.NoError(t, s.Append(ctx, []concourse.Event{
			Lightbulb(a, At(0), LightbulbCreated{}),
			PersonEvent(b, At(0), PersonCreated{Name: "Arthur Putey"}),
		}))

		ids, err := cat.AggregateIDs(ctx, LightbulbTag)
		require.NoError(t, err)
		assert.Contains(t, ids, a)
		assert.NotContains(t, ids, b)

		ids, err = cat.AggregateIDs(ctx, PersonTag)
		require.NoError(t, err)
		assert.Contains(t, ids, b)
	})
}

func requireDuplicate(t *testing.T, err error, id concourse.AggregateID) {
	t.Helper()
	require.ErrorIs(t, err, concourse.ErrDuplicateTimestamp)
	var serr *concourse.StoreError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, id, serr.AggregateID)
}
