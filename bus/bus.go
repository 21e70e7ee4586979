// Package bus turns writes into batches and hands them to processors, usually
// an EventStore, notifying subscribers once a batch was processed.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/log"
)

// ErrNotification is returned, along with the subscriber errors, when the
// batch was processed but a subscriber failed
var ErrNotification = errors.New("subscriber notification failed")

type (
	Handler           func(context.Context, concourse.Event) error
	HandlerMiddleware func(Handler) Handler
)

type subscription struct {
	filter  func(concourse.Event) bool
	handler Handler
}

type Option func(*EventBus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// WithRegistry makes Accept reject events whose tag or variant is not declared
// in registry
func WithRegistry(registry *concourse.Registry) Option {
	return func(b *EventBus) {
		b.registry = registry
	}
}

// WithMiddleware wraps the processor. The first middleware is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *EventBus) {
		b.middleware = append(b.middleware, mw...)
	}
}

// EventBus dispatches batches synchronously. It holds no state per dispatch so
// concurrent dispatches only contend in the processor.
type EventBus struct {
	processor  Processor
	middleware []Middleware
	registry   *concourse.Registry
	logger     *slog.Logger

	mu          sync.RWMutex
	subscribers []subscription
}

func New(processor Processor, options ...Option) *EventBus {
	b := &EventBus{
		logger: slog.Default(),
	}
	for _, o := range options {
		o(b)
	}
	for i := len(b.middleware) - 1; i >= 0; i-- {
		processor = b.middleware[i](processor)
	}
	b.processor = processor
	return b
}

// Dispatch lets fn write a batch against factory and processes it
func (b *EventBus) Dispatch(ctx context.Context, factory *concourse.EventFactory, fn func(*Batch)) error {
	batch := NewBatch(factory)
	fn(batch)
	if err := batch.Err(); err != nil {
		return err
	}
	return b.process(ctx, batch.Events())
}

// Accept processes events that were built elsewhere, eg: received from
// another node
func (b *EventBus) Accept(ctx context.Context, events ...concourse.Event) error {
	var errs *multierror.Error
	for i, e := range events {
		if err := e.Validate(); err != nil {
			errs = multierror.Append(errs, faults.Errorf("event #%d: %w: %v", i, concourse.ErrInvalidEvent, err))
			continue
		}
		if err := b.declared(e); err != nil {
			errs = multierror.Append(errs, faults.Errorf("event #%d: %w", i, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	return b.process(ctx, events)
}

func (b *EventBus) declared(e concourse.Event) error {
	if b.registry == nil {
		return nil
	}
	factory, err := b.registry.Factory(e.Tag)
	if err != nil {
		return err
	}
	if !factory.Knows(e.Data) {
		return faults.Errorf("'%s' as %T: %w", e.Kind(), e.Data, concourse.ErrUnknownVariant)
	}
	return nil
}

// Subscribe registers a handler for the events matching filter: "*" for
// every event, a prefix ending in "*" like "lightbulb.*", or an exact kind
// like "lightbulb.created". The middlewares are executed in the reverse order.
func (b *EventBus) Subscribe(filter string, handler Handler, mw ...HandlerMiddleware) {
	for _, m := range mw {
		handler = m(handler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscription{filter: match(filter), handler: handler})
}

func (b *EventBus) process(ctx context.Context, events []concourse.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := b.processor(ctx, events); err != nil {
		return err
	}
	return b.notify(ctx, events)
}

func (b *EventBus) notify(ctx context.Context, events []concourse.Event) error {
	b.mu.RLock()
	subscribers := b.subscribers
	b.mu.RUnlock()

	var errs *multierror.Error
	for _, e := range events {
		for _, s := range subscribers {
			if !s.filter(e) {
				continue
			}
			if err := s.handler(ctx, e); err != nil {
				b.logger.Error("Subscriber failed", "kind", e.Kind(), log.Stream(e.Tag, e.AggregateID), log.Err(err))
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs == nil {
		return nil
	}
	return multierror.Append(ErrNotification, errs.Errors...)
}

func match(filter string) func(concourse.Event) bool {
	if filter == "*" {
		return func(concourse.Event) bool {
			return true
		}
	}

	idx := strings.Index(filter, "*")
	if idx > 0 {
		prefix := filter[:idx]
		return func(e concourse.Event) bool {
			return strings.HasPrefix(e.Kind(), prefix)
		}
	}

	return func(e concourse.Event) bool {
		return filter == e.Kind()
	}
}
