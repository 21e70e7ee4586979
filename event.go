package concourse

import (
	"slices"

	"github.com/quintans/faults"
)

// Tag names an aggregate kind, eg: "lightbulb"
type Tag string

func (t Tag) String() string {
	return string(t)
}

type AggregateID string

func (id AggregateID) String() string {
	return string(id)
}

// Variant is one of the closed set of event shapes declared for an aggregate
// kind. Implementations should be immutable values.
type Variant interface {
	VariantName() string
}

// Event is the unit that is stored and replayed: a variant owned by an
// aggregate, stamped with its causal timestamp.
type Event struct {
	Timestamp   StreamTimestamp
	AggregateID AggregateID
	Tag         Tag
	Data        Variant
}

// Name returns the variant name of the event data
func (e Event) Name() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.VariantName()
}

// Kind returns the fully qualified event kind, eg: "lightbulb.created"
func (e Event) Kind() string {
	return string(e.Tag) + "." + e.Name()
}

func (e Event) Validate() error {
	if e.Tag == "" {
		return faults.New("event tag is empty")
	}
	if e.AggregateID == "" {
		return faults.New("event aggregate id is empty")
	}
	if e.Data == nil {
		return faults.New("event data is nil")
	}
	return e.Timestamp.Validate()
}

// Stream is the ordered history of one aggregate, ascending by timestamp.
// A Stream handed out by a store or a source is never mutated afterwards.
type Stream []Event

func (s Stream) IsEmpty() bool {
	return len(s) == 0
}

// SortEvents sorts events ascending by timestamp. The sort is stable so events
// with equal timestamps keep their relative order.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
