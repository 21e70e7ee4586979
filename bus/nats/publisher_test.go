//go:build nats

package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/bus"
	"github.com/opencredo/concourse/encoding/jsoncodec"
	"github.com/opencredo/concourse/store/memory"
	"github.com/opencredo/concourse/test"
)

func TestPublishAndForward(t *testing.T) {
	url := test.RunNats(t)
	codec := jsoncodec.New(test.Registry())

	pub, err := New("concourse", url, codec)
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	// local node stores and publishes
	local := memory.Empty()
	localBus := bus.New(bus.Chain(bus.ForwardingTo(local), pub.Process))

	// remote node receives through the forwarder
	remote := memory.Empty()
	remoteBus := bus.New(bus.ForwardingTo(remote))
	var wg sync.WaitGroup
	wg.Add(2)
	remoteBus.Subscribe("lightbulb.*", func(context.Context, concourse.Event) error {
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub, err := pub.Forward(ctx, remoteBus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	id := test.NewID()
	require.NoError(t, localBus.Dispatch(ctx, test.LightbulbFactory(), func(batch *bus.Batch) {
		batch.Write(test.At(time.Millisecond), id, test.LightbulbCreated{Wattage: 40}).
			Write(test.At(0), id, test.LightbulbScrewedIn{Location: "kitchen"})
	}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("events were not forwarded")
	}

	want, err := local.Load(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	got, err := remote.Load(ctx, test.LightbulbTag, id)
	require.NoError(t, err)
	test.RequireSameEvents(t, want[id], got[id])
	assert.Equal(t, test.LightbulbScrewedIn{Location: "kitchen"}, got[id][0].Data)
}
