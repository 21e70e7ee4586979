package concourse

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTimestamp is reported when a stream would hold two events
	// with equal timestamps
	ErrDuplicateTimestamp = errors.New("duplicate timestamp")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrUnknownVariant     = errors.New("unknown event variant")
	ErrUnknownTag         = errors.New("unknown aggregate tag")

	// ErrIllegalInitialState is reported when the first event of a stream
	// cannot start it
	ErrIllegalInitialState = errors.New("illegal initial state")
	// ErrIllegalTransition is matched by every TransitionError
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrEmptyStream is not a failure of the store or of a fold. It is only
	// returned to callers that explicitly asked for a non empty stream.
	ErrEmptyStream = errors.New("empty stream")
)

// StoreError is returned by EventStore.Append when the batch violates a store
// constraint. When it is returned nothing of the batch was persisted.
type StoreError struct {
	Tag         Tag
	AggregateID AggregateID
	Err         error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store rejected append for %s/%s: %v", e.Tag, e.AggregateID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// TransitionError wraps the failure of a transition for the event that
// caused it
type TransitionError struct {
	Event Event
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition on '%s' of %s at %s: %v", e.Event.Kind(), e.Event.AggregateID, e.Event.Timestamp, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
