// Package nats publishes processed batches to NATS JetStream and feeds events
// received from it back into an EventBus.
package nats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/bus"
	"github.com/opencredo/concourse/log"
)

const defaultMaxElapsedTime = 10 * time.Second

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMaxElapsedTime bounds how long a publish is retried
func WithMaxElapsedTime(d time.Duration) Option {
	return func(p *Publisher) {
		p.maxElapsedTime = d
	}
}

func WithNatsOptions(options ...nats.Option) Option {
	return func(p *Publisher) {
		p.natsOptions = append(p.natsOptions, options...)
	}
}

// Publisher sends every processed batch as one message to the subject
// "<topic>.<tag>", the tag being the one of the first event of the batch. The
// topic is also the name of the JetStream stream holding the subjects.
type Publisher struct {
	topic          string
	codec          concourse.Codec
	logger         *slog.Logger
	maxElapsedTime time.Duration
	natsOptions    []nats.Option

	nc *nats.Conn
	js nats.JetStreamContext
}

func New(topic, url string, codec concourse.Codec, options ...Option) (_ *Publisher, err error) {
	defer faults.Catch(&err, "nats.New(topic=%s)", topic)

	if topic == "" {
		return nil, faults.New("topic cannot be empty")
	}
	p := &Publisher{
		topic:          topic,
		codec:          codec,
		logger:         slog.Default(),
		maxElapsedTime: defaultMaxElapsedTime,
	}
	for _, o := range options {
		o(p)
	}

	nc, err := nats.Connect(url, p.natsOptions...)
	if err != nil {
		return nil, faults.Errorf("could not instantiate nats connection: %w", err)
	}
	p.nc = nc
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, faults.Errorf("could not instantiate nats jetstream context: %w", err)
	}
	p.js = js

	if err := p.createStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Process publishes the batch as a single message. It satisfies
// bus.Processor.
func (p *Publisher) Process(ctx context.Context, batch []concourse.Event) error {
	if len(batch) == 0 {
		return nil
	}
	return p.publish(ctx, batch)
}

// Subject is where the batches starting with an event of tag are published
func (p *Publisher) Subject(tag concourse.Tag) string {
	return p.topic + "." + string(tag)
}

func (p *Publisher) publish(ctx context.Context, batch []concourse.Event) error {
	b, err := encode(p.codec, batch)
	if err != nil {
		return err
	}
	subject := p.Subject(batch[0].Tag)
	p.logger.Debug("Publishing batch", "subject", subject, log.Batch(len(batch)))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.maxElapsedTime

	err = backoff.Retry(func() error {
		if er := ctx.Err(); er != nil {
			return backoff.Permanent(er)
		}
		_, er := p.js.Publish(subject, b, nats.Context(ctx))
		if er != nil && p.nc.IsClosed() {
			return backoff.Permanent(er)
		}
		return er
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return faults.Errorf("failed to publish batch of %d events on %s: %w", len(batch), subject, err)
	}
	return nil
}

// Forward subscribes to every subject of the topic and hands each batch, whole,
// to the bus. See settle for how a message is acknowledged.
func (p *Publisher) Forward(ctx context.Context, to *bus.EventBus) (*nats.Subscription, error) {
	subject := p.topic + ".>"
	sub, err := p.js.Subscribe(subject, func(m *nats.Msg) {
		batch, err := decode(p.codec, m.Data)
		if err != nil {
			p.logger.Error("Dropping undecodable message", "subject", m.Subject, log.Err(err))
			_ = m.Term()
			return
		}
		err = to.Accept(ctx, batch...)
		if err != nil {
			p.logger.Error("Failed to accept batch", "subject", m.Subject, log.Batch(len(batch)), log.Err(err))
		}
		switch settle(err, delivered(m)) {
		case ack:
			_ = m.Ack()
		case term:
			_ = m.Term()
		default:
			_ = m.Nak()
		}
	}, nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return nil, faults.Errorf("unable to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

type verdict int

const (
	ack verdict = iota
	nak
	term
)

// settle decides the fate of a message from the outcome of accepting its
// batch. Only failures that a redelivery could fix are retried:
//   - a failed subscriber means the batch was stored, so it is acknowledged
//   - a duplicate timestamp on a redelivery means an earlier delivery was
//     stored but not acknowledged; on a first delivery it is a conflict that
//     will never be accepted
//   - invalid or undeclared events never become valid
func settle(err error, deliveries uint64) verdict {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, concourse.ErrDuplicateTimestamp):
		if deliveries > 1 {
			return ack
		}
		return term
	case errors.Is(err, concourse.ErrInvalidEvent),
		errors.Is(err, concourse.ErrUnknownVariant),
		errors.Is(err, concourse.ErrUnknownTag):
		return term
	case errors.Is(err, bus.ErrNotification):
		return ack
	}
	return nak
}

func delivered(m *nats.Msg) uint64 {
	meta, err := m.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

func (p *Publisher) createStream() error {
	_, err := p.js.StreamInfo(p.topic)
	if err == nil {
		p.logger.Info("Stream found", "stream", p.topic)
		return nil
	}

	p.logger.Info("Stream not found, creating", "stream", p.topic)
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     p.topic,
		Subjects: []string{p.topic + ".>"},
	})
	return faults.Wrap(err)
}

var _ bus.Processor = (*Publisher)(nil).Process
