package concourse

import (
	"reflect"
	"slices"
	"sync"

	"github.com/quintans/faults"
)

type (
	VariantOption func(*variant)

	variant struct {
		name     string
		typ      reflect.Type
		initial  bool
		terminal bool
		target   func() any
		value    func(any) Variant
	}

	// EventFactory declares the closed set of event variants of one aggregate
	// kind. The core only uses it as a constructor and lookup table.
	EventFactory struct {
		tag      Tag
		variants map[string]*variant
	}
)

// Initial marks a variant that may start a stream
func Initial() VariantOption {
	return func(v *variant) {
		v.initial = true
	}
}

// Terminal marks a variant after which no other event may follow
func Terminal() VariantOption {
	return func(v *variant) {
		v.terminal = true
	}
}

func NewEventFactory(tag Tag) *EventFactory {
	return &EventFactory{
		tag:      tag,
		variants: map[string]*variant{},
	}
}

// Declare adds the variant V to the factory. V must be a value type whose
// VariantName does not depend on its fields.
func Declare[V Variant](f *EventFactory, options ...VariantOption) *EventFactory {
	var zero V
	v := &variant{
		name:   zero.VariantName(),
		typ:    reflect.TypeFor[V](),
		target: func() any { return new(V) },
		value:  func(p any) Variant { return *(p.(*V)) },
	}
	for _, o := range options {
		o(v)
	}
	f.variants[v.name] = v
	return f
}

func (f *EventFactory) Tag() Tag {
	return f.tag
}

// Names returns the declared variant names, sorted
func (f *EventFactory) Names() []string {
	names := make([]string, 0, len(f.variants))
	for n := range f.variants {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Knows reports whether v is one of the declared variants, by name and type
func (f *EventFactory) Knows(v Variant) bool {
	if v == nil {
		return false
	}
	d, ok := f.variants[v.VariantName()]
	return ok && reflect.TypeOf(v) == d.typ
}

func (f *EventFactory) IsInitial(name string) bool {
	v, ok := f.variants[name]
	return ok && v.initial
}

func (f *EventFactory) IsTerminal(name string) bool {
	v, ok := f.variants[name]
	return ok && v.terminal
}

// Decode builds the variant called name from data using the supplied
// unmarshaler. Empty data yields the zero variant.
func (f *EventFactory) Decode(name string, data []byte, unmarshal func([]byte, any) error) (Variant, error) {
	v, ok := f.variants[name]
	if !ok {
		return nil, faults.Errorf("'%s' for '%s': %w", name, f.tag, ErrUnknownVariant)
	}
	target := v.target()
	if len(data) > 0 {
		if err := unmarshal(data, target); err != nil {
			return nil, faults.Errorf("unable to decode '%s.%s': %w", f.tag, name, err)
		}
	}
	return v.value(target), nil
}

// Registry maps aggregate tags to their factories. Registration is expected
// at start up but lookups are safe at any time.
type Registry struct {
	mu        sync.RWMutex
	factories map[Tag]*EventFactory
}

func NewRegistry(factories ...*EventFactory) *Registry {
	r := &Registry{
		factories: map[Tag]*EventFactory{},
	}
	for _, f := range factories {
		r.Register(f)
	}
	return r
}

func (r *Registry) Register(f *EventFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.tag] = f
}

func (r *Registry) Factory(tag Tag) (*EventFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	if !ok {
		return nil, faults.Errorf("'%s': %w", tag, ErrUnknownTag)
	}
	return f, nil
}
