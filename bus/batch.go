package bus

import (
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

// Batch collects the events of one dispatch. Problems are accumulated so that
// the caller sees all of them at once, and a batch with problems is never
// processed.
type Batch struct {
	factory *concourse.EventFactory
	events  []concourse.Event
	errs    *multierror.Error
}

func NewBatch(factory *concourse.EventFactory) *Batch {
	return &Batch{factory: factory}
}

// Write adds data for the aggregate id at ts
func (b *Batch) Write(ts concourse.StreamTimestamp, id concourse.AggregateID, data concourse.Variant) *Batch {
	e := concourse.Event{
		Timestamp:   ts,
		AggregateID: id,
		Tag:         b.factory.Tag(),
		Data:        data,
	}
	if data != nil && !b.factory.Knows(data) {
		b.errs = multierror.Append(b.errs, faults.Errorf("event #%d '%s': %w", len(b.events), e.Kind(), concourse.ErrUnknownVariant))
	} else if err := e.Validate(); err != nil {
		b.errs = multierror.Append(b.errs, faults.Errorf("event #%d: %w: %v", len(b.events), concourse.ErrInvalidEvent, err))
	}
	b.events = append(b.events, e)
	return b
}

func (b *Batch) Len() int {
	return len(b.events)
}

func (b *Batch) Events() []concourse.Event {
	return slices.Clone(b.events)
}

func (b *Batch) Err() error {
	return b.errs.ErrorOrNil()
}
