package bus

import (
	"context"
	"log/slog"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/log"
)

type (
	// Processor handles a whole batch, eg: appending it to a store
	Processor  func(context.Context, []concourse.Event) error
	Middleware func(Processor) Processor
)

// ForwardingTo appends every batch to store in a single call
func ForwardingTo(store concourse.EventStore) Processor {
	return func(ctx context.Context, batch []concourse.Event) error {
		return store.Append(ctx, batch)
	}
}

// Chain runs processors in order with the same batch. The first failure stops
// the chain.
func Chain(processors ...Processor) Processor {
	return func(ctx context.Context, batch []concourse.Event) error {
		for _, p := range processors {
			if err := p(ctx, batch); err != nil {
				return err
			}
		}
		return nil
	}
}

// Filtering drops the events that do not satisfy keep. A batch left empty is
// not processed.
func Filtering(keep func(concourse.Event) bool) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, batch []concourse.Event) error {
			kept := make([]concourse.Event, 0, len(batch))
			for _, e := range batch {
				if keep(e) {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				return nil
			}
			return next(ctx, kept)
		}
	}
}

func Logging(logger *slog.Logger) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, batch []concourse.Event) error {
			err := next(ctx, batch)
			if err != nil {
				logger.Error("Failed to process batch", log.Batch(len(batch)), log.Err(err))
				return err
			}
			logger.Debug("Processed batch", log.Batch(len(batch)))
			return nil
		}
	}
}
