// Package transition folds ordered event sequences into state using caller
// supplied transitions.
package transition

import (
	"errors"
	"iter"

	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

// Transitions describes how the state S of one aggregate kind evolves.
//
// Initial reports false for variants that cannot start a stream. Next must
// return an error for a state/event combination that is not allowed, eg: a
// second creation event.
type Transitions[S any] interface {
	Initial(concourse.Event) (S, bool)
	Next(S, concourse.Event) (S, error)
}

// Terminator is implemented by Transitions that know variants after which a
// stream must end
type Terminator interface {
	Terminates(concourse.Event) bool
}

var ErrAfterTerminal = errors.New("event after terminal event")

var _ Transitions[struct{}] = Funcs[struct{}]{}

// Funcs adapts a pair of functions to Transitions
type Funcs[S any] struct {
	InitialFn func(concourse.Event) (S, bool)
	NextFn    func(S, concourse.Event) (S, error)
}

func (f Funcs[S]) Initial(e concourse.Event) (S, bool) {
	return f.InitialFn(e)
}

func (f Funcs[S]) Next(s S, e concourse.Event) (S, error) {
	return f.NextFn(s, e)
}

// Build folds events, in the order they are yielded, into a state.
//
// An empty sequence returns false and no error. If the first event is not
// accepted by Initial the fold fails with ErrIllegalInitialState, and any
// error from Next is returned as a *concourse.TransitionError. When t is also a
// Terminator, an event following a terminal one is an illegal transition. A
// failed fold never returns a partial state.
func Build[S any](events iter.Seq[concourse.Event], t Transitions[S]) (S, bool, error) {
	var (
		zero    S
		state   S
		started bool
		closed  bool
	)
	terminator, _ := t.(Terminator)
	for e := range events {
		if closed {
			return zero, false, &concourse.TransitionError{Event: e, Err: faults.Wrap(ErrAfterTerminal)}
		}
		if !started {
			s, ok := t.Initial(e)
			if !ok {
				return zero, false, faults.Errorf("'%s' cannot start %s/%s: %w", e.Kind(), e.Tag, e.AggregateID, concourse.ErrIllegalInitialState)
			}
			state = s
			started = true
		} else {
			s, err := t.Next(state, e)
			if err != nil {
				return zero, false, &concourse.TransitionError{Event: e, Err: err}
			}
			state = s
		}
		closed = terminator != nil && terminator.Terminates(e)
	}
	return state, started, nil
}

// Require is like Build but reports concourse.ErrEmptyStream for an empty
// sequence
func Require[S any](events iter.Seq[concourse.Event], t Transitions[S]) (S, error) {
	s, ok, err := Build(events, t)
	if err != nil {
		return s, err
	}
	if !ok {
		return s, faults.Wrap(concourse.ErrEmptyStream)
	}
	return s, nil
}
