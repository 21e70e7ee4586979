package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/bus"
	"github.com/opencredo/concourse/store/memory"
	"github.com/opencredo/concourse/test"
)

type recordingStore struct {
	mu      sync.Mutex
	batches [][]concourse.Event
}

func (r *recordingStore) Append(_ context.Context, batch []concourse.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingStore) Load(context.Context, concourse.Tag, ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	return nil, errors.New("not supported")
}

func TestForwardsWholeBatchOnce(t *testing.T) {
	rec := &recordingStore{}
	b := bus.New(bus.ForwardingTo(rec))
	id := test.NewID()

	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(time.Millisecond), id, test.LightbulbCreated{Wattage: 40}).
			Write(test.At(0), id, test.LightbulbScrewedIn{Location: "kitchen"}).
			Write(test.At(2*time.Millisecond), id, test.LightbulbSwitchedOn{})
	})
	require.NoError(t, err)

	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 3)
	// written order is kept, ordering is the store's job
	assert.Equal(t, test.LightbulbCreated{Wattage: 40}, rec.batches[0][0].Data)
	assert.Equal(t, test.LightbulbTag, rec.batches[0][0].Tag)
}

func TestInvalidBatchIsNotProcessed(t *testing.T) {
	rec := &recordingStore{}
	b := bus.New(bus.ForwardingTo(rec))

	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), test.NewID(), test.LightbulbCreated{}).
			Write(test.At(0), "", test.LightbulbSwitchedOn{}).
			Write(test.At(0), test.NewID(), test.PersonUpdatedAge{}).
			Write(concourse.StreamTimestamp{}, test.NewID(), test.LightbulbSwitchedOff{})
	})
	require.ErrorIs(t, err, concourse.ErrInvalidEvent)
	require.ErrorIs(t, err, concourse.ErrUnknownVariant)
	assert.Contains(t, err.Error(), "3 errors occurred")
	assert.Empty(t, rec.batches)
}

func TestEmptyDispatch(t *testing.T) {
	rec := &recordingStore{}
	b := bus.New(bus.ForwardingTo(rec))
	require.NoError(t, b.Dispatch(context.Background(), test.LightbulbFactory(), func(*bus.Batch) {}))
	assert.Empty(t, rec.batches)
}

func TestAccept(t *testing.T) {
	store := memory.Empty()
	b := bus.New(bus.ForwardingTo(store))
	id := test.NewID()

	require.NoError(t, b.Accept(context.Background(), test.Lightbulb(id, test.At(0), test.LightbulbCreated{Wattage: 100})))
	err := b.Accept(context.Background(), test.Lightbulb(id, concourse.StreamTimestamp{}, test.LightbulbSwitchedOn{}))
	require.ErrorIs(t, err, concourse.ErrInvalidEvent)

	streams, err := store.Load(context.Background(), test.LightbulbTag, id)
	require.NoError(t, err)
	assert.Len(t, streams[id], 1)
}

func TestAcceptWithRegistry(t *testing.T) {
	store := memory.Empty()
	b := bus.New(bus.ForwardingTo(store), bus.WithRegistry(test.Registry()))
	ctx := context.Background()
	id := test.NewID()

	err := b.Accept(ctx, test.Lightbulb(id, test.At(0), &test.LightbulbCreated{Wattage: 40}))
	require.ErrorIs(t, err, concourse.ErrUnknownVariant)

	err = b.Accept(ctx, concourse.Event{Timestamp: test.At(0), AggregateID: id, Tag: "toaster", Data: test.LightbulbCreated{}})
	require.ErrorIs(t, err, concourse.ErrUnknownTag)

	streams, err := store.Load(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	assert.True(t, streams[id].IsEmpty())

	require.NoError(t, b.Accept(ctx, test.Lightbulb(id, test.At(0), test.LightbulbCreated{Wattage: 40})))
}

func TestStoreErrorsPropagate(t *testing.T) {
	b := bus.New(bus.ForwardingTo(memory.Empty()))
	id := test.NewID()
	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), id, test.LightbulbCreated{}).
			Write(test.At(0), id, test.LightbulbSwitchedOn{})
	})
	require.ErrorIs(t, err, concourse.ErrDuplicateTimestamp)
}

func TestSubscribe(t *testing.T) {
	b := bus.New(bus.ForwardingTo(memory.Empty()))

	var mu sync.Mutex
	seen := map[string][]string{}
	record := func(name string) bus.Handler {
		return func(_ context.Context, e concourse.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = append(seen[name], e.Kind())
			return nil
		}
	}
	b.Subscribe("*", record("all"))
	b.Subscribe("lightbulb.*", record("lightbulbs"))
	b.Subscribe("lightbulb.switched*", record("switches"))
	b.Subscribe("person.created", record("people"))

	ctx := context.Background()
	id := test.NewID()
	require.NoError(t, b.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), id, test.LightbulbCreated{}).
			Write(test.At(time.Millisecond), id, test.LightbulbSwitchedOn{})
	}))
	require.NoError(t, b.Dispatch(ctx, test.PersonFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), id, test.PersonCreated{Name: "Arthur Putey"})
	}))

	assert.Equal(t, []string{"lightbulb.created", "lightbulb.switchedOn", "person.created"}, seen["all"])
	assert.Equal(t, []string{"lightbulb.created", "lightbulb.switchedOn"}, seen["lightbulbs"])
	assert.Equal(t, []string{"lightbulb.switchedOn"}, seen["switches"])
	assert.Equal(t, []string{"person.created"}, seen["people"])
}

func TestSubscriberFailure(t *testing.T) {
	store := memory.Empty()
	b := bus.New(bus.ForwardingTo(store))
	boom := errors.New("boom")
	b.Subscribe("*", func(context.Context, concourse.Event) error {
		return boom
	})

	id := test.NewID()
	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), id, test.LightbulbCreated{})
	})
	require.ErrorIs(t, err, bus.ErrNotification)
	require.ErrorIs(t, err, boom)

	// the batch was stored anyway
	streams, err := store.Load(context.Background(), test.LightbulbTag, id)
	require.NoError(t, err)
	assert.Len(t, streams[id], 1)
}

func TestSubscriberNotCalledOnFailure(t *testing.T) {
	called := false
	b := bus.New(func(context.Context, []concourse.Event) error {
		return errors.New("unavailable")
	})
	b.Subscribe("*", func(context.Context, concourse.Event) error {
		called = true
		return nil
	})
	err := b.Dispatch(context.Background(), test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(0), test.NewID(), test.LightbulbCreated{})
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestConcurrentDispatches(t *testing.T) {
	store := memory.Empty()
	b := bus.New(bus.ForwardingTo(store))
	clock := concourse.NewClock()
	ids := []concourse.AggregateID{test.NewID(), test.NewID(), test.NewID()}

	g, ctx := errgroup.WithContext(context.Background())
	for _, id := range ids {
		g.Go(func() error {
			for range 50 {
				err := b.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
					batch.Write(clock.Now(), id, test.LightbulbSwitchedOn{})
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	streams, err := store.Load(context.Background(), test.LightbulbTag, ids...)
	require.NoError(t, err)
	for _, id := range ids {
		assert.Len(t, streams[id], 50)
	}
}
