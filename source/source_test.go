package source_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/bus"
	"github.com/opencredo/concourse/source"
	"github.com/opencredo/concourse/store/memory"
	"github.com/opencredo/concourse/test"
)

func variantNames(r source.Replay) []string {
	return source.CollectAll(r, concourse.Event.Name)
}

// writeLightbulb writes creation, screwing in and switching on with the
// screwing in timestamped before the creation
func writeLightbulb(t *testing.T, b *bus.EventBus, id concourse.AggregateID) {
	t.Helper()
	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(time.Millisecond), id, test.LightbulbCreated{Wattage: 40}).
			Write(test.At(0), id, test.LightbulbScrewedIn{Location: "kitchen"}).
			Write(test.At(2*time.Millisecond), id, test.LightbulbSwitchedOn{})
	})
	require.NoError(t, err)
}

func TestLightbulbTimestampIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	id := test.NewID()
	writeLightbulb(t, bus.New(bus.ForwardingTo(events)), id)

	cached, err := source.New(events).Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	replay := cached.Replaying(id)

	assert.Equal(t, []string{"screwedIn", "created", "switchedOn"}, variantNames(replay))
	assert.Equal(t, []string{"switchedOn", "created", "screwedIn"}, variantNames(replay.InDescendingCausalOrder()))

	_, ok, err := source.BuildState(replay, test.LightbulbTransitions())
	require.ErrorIs(t, err, concourse.ErrIllegalInitialState)
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	b := bus.New(bus.ForwardingTo(events))
	id := test.NewID()

	require.NoError(t, b.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(2*time.Millisecond), id, test.LightbulbSwitchedOn{}).
			Write(test.At(0), id, test.LightbulbCreated{Wattage: 60})
	}))
	require.NoError(t, b.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(time.Millisecond), id, test.LightbulbScrewedIn{Location: "hall"})
	}))

	cached, err := source.New(events).Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)

	state, ok, err := source.BuildState(cached.Replaying(id), test.LightbulbTransitions())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, test.LightbulbState{Wattage: 60, Location: "hall", On: true}, state)

	// deterministic
	again, _, err := source.BuildState(cached.Replaying(id), test.LightbulbTransitions())
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestCreatedTwiceIsPropagated(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	id := test.NewID()
	require.NoError(t, bus.New(bus.ForwardingTo(events)).Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), id, test.LightbulbCreated{Wattage: 60}).
			Write(test.At(time.Millisecond), id, test.LightbulbCreated{Wattage: 40})
	}))

	cached, err := source.New(events).Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	_, _, err = source.BuildState(cached.Replaying(id), test.LightbulbTransitions())
	require.ErrorIs(t, err, test.ErrCreatedTwice)
	require.ErrorIs(t, err, concourse.ErrIllegalTransition)
}

func TestEmptyStream(t *testing.T) {
	ctx := context.Background()
	cached, err := source.New(memory.Empty()).Preload(ctx, test.LightbulbTag, "nobody")
	require.NoError(t, err)

	replay := cached.Replaying("nobody")
	assert.True(t, replay.IsEmpty())
	_, ok, err := source.BuildState(replay, test.LightbulbTransitions())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = source.RequireState(replay, test.LightbulbTransitions())
	require.ErrorIs(t, err, concourse.ErrEmptyStream)

	assert.True(t, cached.Replaying("never-preloaded").IsEmpty())
	assert.Equal(t, []concourse.AggregateID{"nobody"}, cached.IDs())
}

func TestReplayIsRestartable(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	id := test.NewID()
	writeLightbulb(t, bus.New(bus.ForwardingTo(events)), id)

	cached, err := source.New(events).Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	replay := cached.Replaying(id)

	// stopping one iteration early does not affect the next ones
	for e := range replay.Events() {
		assert.Equal(t, "screwedIn", e.Name())
		break
	}
	assert.Equal(t, variantNames(replay), variantNames(replay))
	assert.Equal(t, 3, replay.Len())

	desc := replay.InDescendingCausalOrder()
	assert.True(t, desc.IsDescending())
	assert.False(t, replay.IsDescending())
	assert.Equal(t, variantNames(replay), variantNames(desc.InAscendingCausalOrder()))
}

func TestForEach(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	id := test.NewID()
	writeLightbulb(t, bus.New(bus.ForwardingTo(events)), id)

	cached, err := source.New(events).Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)

	stop := errors.New("stop")
	count := 0
	err = cached.Replaying(id).ForEach(func(concourse.Event) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

type countingRetriever struct {
	source.Retriever
	loads atomic.Int32
}

func (c *countingRetriever) Load(ctx context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	c.loads.Add(1)
	return c.Retriever.Load(ctx, tag, ids...)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	b := bus.New(bus.ForwardingTo(events))
	id := test.NewID()
	writeLightbulb(t, b, id)

	retriever := &countingRetriever{Retriever: events}
	src := source.New(retriever)

	first, err := src.Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)

	require.NoError(t, b.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(3*time.Millisecond), id, test.LightbulbSwitchedOff{})
	}))

	// served from the cache, without the new event
	replay, err := src.Replaying(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	assert.Equal(t, 3, replay.Len())
	assert.EqualValues(t, 1, retriever.loads.Load())

	// preloading again replaces the entry but not earlier snapshots
	second, err := src.Preload(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	assert.Equal(t, 4, second.Replaying(id).Len())
	assert.Equal(t, 3, first.Replaying(id).Len())
	replay, err = src.Replaying(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	assert.Equal(t, 4, replay.Len())

	// not cached ids are loaded on demand
	other := test.NewID()
	replay, err = src.Replaying(ctx, test.LightbulbTag, other)
	require.NoError(t, err)
	assert.True(t, replay.IsEmpty())
	assert.EqualValues(t, 3, retriever.loads.Load())

	src.Evict(test.LightbulbTag, id)
	_, err = src.Replaying(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	assert.EqualValues(t, 4, retriever.loads.Load())
}

func TestPreloadFailure(t *testing.T) {
	boom := errors.New("unavailable")
	src := source.New(failingRetriever{boom})
	_, err := src.Preload(context.Background(), test.LightbulbTag, "id")
	require.ErrorIs(t, err, boom)
	_, err = src.Replaying(context.Background(), test.LightbulbTag, "id")
	require.ErrorIs(t, err, boom)
}

type failingRetriever struct {
	err error
}

func (f failingRetriever) Load(context.Context, concourse.Tag, ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	return nil, f.err
}

func TestPersonRoundTrip(t *testing.T) {
	ctx := context.Background()
	events := memory.Empty()
	b := bus.New(bus.ForwardingTo(events))
	clock := concourse.NewClock(concourse.WithTimeSource(func() time.Time { return test.Start }))
	a, z := test.NewID(), test.NewID()

	require.NoError(t, b.Dispatch(ctx, test.PersonFactory(), func(batch *bus.Batch) {
		batch.Write(clock.Now(), a, test.PersonCreated{Name: "Arthur Putey", Age: 41}).
			Write(clock.Now(), z, test.PersonCreated{Name: "Zebedee", Age: 200}).
			Write(clock.Now(), a, test.PersonUpdatedAge{Age: 42}).
			Write(clock.Now(), z, test.PersonDeleted{})
	}))

	cached, err := source.New(events).Preload(ctx, test.PersonTag, a, z)
	require.NoError(t, err)
	assert.ElementsMatch(t, []concourse.AggregateID{a, z}, cached.IDs())

	arthur, err := source.RequireState(cached.Replaying(a), test.PersonTransitions())
	require.NoError(t, err)
	assert.Equal(t, test.Person{Name: "Arthur Putey", Age: 42}, arthur)

	zebedee, err := source.RequireState(cached.Replaying(z), test.PersonTransitions())
	require.NoError(t, err)
	assert.True(t, zebedee.Deleted)
}
