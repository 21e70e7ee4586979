package transition

import (
	"errors"

	"github.com/hashicorp/go-multierror"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

var (
	ErrUnhandledVariant = errors.New("unhandled variant")
	ErrInitialOnly      = errors.New("variant may only start a stream")
)

type (
	InitialHandler[S any] func(concourse.Event) (S, bool)
	NextHandler[S any]    func(S, concourse.Event) (S, error)
)

// Table is a per variant dispatch of transitions, checked against the
// variants declared in an EventFactory.
type Table[S any] struct {
	factory *concourse.EventFactory
	initial map[string]InitialHandler[S]
	next    map[string]NextHandler[S]
}

func NewTable[S any](factory *concourse.EventFactory) *Table[S] {
	return &Table[S]{
		factory: factory,
		initial: map[string]InitialHandler[S]{},
		next:    map[string]NextHandler[S]{},
	}
}

// OnInitial registers how the variant V starts a stream
func OnInitial[S any, V concourse.Variant](t *Table[S], fn func(concourse.Event, V) S) *Table[S] {
	var zero V
	t.initial[zero.VariantName()] = func(e concourse.Event) (S, bool) {
		v, ok := e.Data.(V)
		if !ok {
			var s S
			return s, false
		}
		return fn(e, v), true
	}
	return t
}

// OnNext registers how the variant V changes an existing state
func OnNext[S any, V concourse.Variant](t *Table[S], fn func(S, concourse.Event, V) (S, error)) *Table[S] {
	var zero V
	t.next[zero.VariantName()] = func(s S, e concourse.Event) (S, error) {
		v, ok := e.Data.(V)
		if !ok {
			return s, faults.Errorf("'%s' holds %T: %w", e.Kind(), e.Data, ErrUnhandledVariant)
		}
		return fn(s, e, v)
	}
	return t
}

// Validate checks that every declared variant is handled: initial variants
// need an initial handler and all the others need a next handler. Initial
// variants without a next handler are initial only.
func (t *Table[S]) Validate() error {
	var errs *multierror.Error
	for _, name := range t.factory.Names() {
		if t.factory.IsInitial(name) {
			if _, ok := t.initial[name]; !ok {
				errs = multierror.Append(errs, faults.Errorf("no initial handler for '%s.%s': %w", t.factory.Tag(), name, ErrUnhandledVariant))
			}
			continue
		}
		if _, ok := t.initial[name]; ok {
			errs = multierror.Append(errs, faults.Errorf("'%s.%s' is not declared initial", t.factory.Tag(), name))
		}
		if _, ok := t.next[name]; !ok {
			errs = multierror.Append(errs, faults.Errorf("no next handler for '%s.%s': %w", t.factory.Tag(), name, ErrUnhandledVariant))
		}
	}
	return errs.ErrorOrNil()
}

// Transitions validates the table and returns it as Transitions
func (t *Table[S]) Transitions() (Transitions[S], error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return tableTransitions[S]{t}, nil
}

type tableTransitions[S any] struct {
	t *Table[S]
}

func (tt tableTransitions[S]) Initial(e concourse.Event) (S, bool) {
	return tt.t.initialState(e)
}

func (tt tableTransitions[S]) Next(s S, e concourse.Event) (S, error) {
	return tt.t.nextState(s, e)
}

func (tt tableTransitions[S]) Terminates(e concourse.Event) bool {
	return tt.t.factory.IsTerminal(e.Name())
}

func (t *Table[S]) initialState(e concourse.Event) (S, bool) {
	fn, ok := t.initial[e.Name()]
	if !ok || !t.factory.IsInitial(e.Name()) {
		var zero S
		return zero, false
	}
	return fn(e)
}

func (t *Table[S]) nextState(s S, e concourse.Event) (S, error) {
	fn, ok := t.next[e.Name()]
	if ok {
		return fn(s, e)
	}
	if t.factory.IsInitial(e.Name()) {
		return s, faults.Errorf("'%s': %w", e.Kind(), ErrInitialOnly)
	}
	return s, faults.Errorf("'%s': %w", e.Kind(), ErrUnhandledVariant)
}
