package nats

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/quintans/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/bus"
	"github.com/opencredo/concourse/store/memory"
	"github.com/opencredo/concourse/test"
)

func TestSettle(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		deliveries uint64
		want       verdict
	}{
		{name: "accepted", err: nil, deliveries: 1, want: ack},
		{name: "subscriber failed", err: multierror.Append(bus.ErrNotification, faults.New("boom")), deliveries: 1, want: ack},
		{name: "duplicate on first delivery", err: &concourse.StoreError{Err: concourse.ErrDuplicateTimestamp}, deliveries: 1, want: term},
		{name: "duplicate on redelivery", err: &concourse.StoreError{Err: concourse.ErrDuplicateTimestamp}, deliveries: 3, want: ack},
		{name: "invalid event", err: faults.Errorf("event #0: %w", concourse.ErrInvalidEvent), deliveries: 1, want: term},
		{name: "unknown variant", err: faults.Errorf("event #0: %w", concourse.ErrUnknownVariant), deliveries: 1, want: term},
		{name: "store unavailable", err: faults.New("connection refused"), deliveries: 5, want: nak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, settle(tt.err, tt.deliveries))
		})
	}
}

// A stored batch whose subscriber fails must not be retried, and retrying it
// would only hit duplicate timestamps.
func TestSettleRedeliveredBatch(t *testing.T) {
	ctx := context.Background()
	receiver := bus.New(bus.ForwardingTo(memory.Empty()))
	receiver.Subscribe("*", func(context.Context, concourse.Event) error {
		return faults.New("projection down")
	})
	id := test.NewID()
	batch := []concourse.Event{
		test.Lightbulb(id, test.At(0), test.LightbulbCreated{Wattage: 40}),
		test.Lightbulb(id, test.At(time.Millisecond), test.LightbulbSwitchedOn{}),
	}

	err := receiver.Accept(ctx, batch...)
	require.ErrorIs(t, err, bus.ErrNotification)
	assert.Equal(t, ack, settle(err, 1))

	err = receiver.Accept(ctx, batch...)
	require.ErrorIs(t, err, concourse.ErrDuplicateTimestamp)
	assert.Equal(t, ack, settle(err, 2))
}
