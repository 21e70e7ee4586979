package concourse

import (
	"sync"
	"time"

	"github.com/opencredo/concourse/eventid"
)

// Clocker hands out timestamps for events about to be written
type Clocker interface {
	// Now returns a timestamp that is never lower than any timestamp
	// previously returned by the same Clocker
	Now() StreamTimestamp
}

type ClockOption func(*Clock)

// WithStream sets the stream label of the produced timestamps
func WithStream(stream string) ClockOption {
	return func(c *Clock) {
		c.stream = stream
	}
}

// WithTimeSource replaces the wall clock, eg: with a fixed or stepping source in tests
func WithTimeSource(now func() time.Time) ClockOption {
	return func(c *Clock) {
		c.source = now
	}
}

func WithEntropy(entropy *eventid.Entropy) ClockOption {
	return func(c *Clock) {
		c.entropy = entropy
	}
}

var _ Clocker = (*Clock)(nil)

// Clock implements a monotonic logical clock. Wall clock readings that go
// backwards are clamped to the last instant handed out and ties are broken by
// monotonic discriminators.
type Clock struct {
	mu      sync.Mutex
	stream  string
	source  func() time.Time
	entropy *eventid.Entropy
	last    StreamTimestamp
}

func NewClock(options ...ClockOption) *Clock {
	c := &Clock{
		source: time.Now,
	}
	for _, o := range options {
		o(c)
	}
	if c.entropy == nil {
		c.entropy = eventid.NewEntropy()
	}
	return c
}

func (c *Clock) Now() StreamTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.source().UTC()
	if t.Before(c.last.instant) {
		// due to clock skews, the source can go back in time
		t = c.last.instant
	}

	id, err := c.entropy.NewID(t)
	next := StreamTimestamp{instant: t, stream: c.stream, id: id}
	if err != nil || !next.After(c.last) {
		// monotonic entropy overflowed or the source stepped back within the
		// same millisecond
		next = c.last.Plus(0)
		next.stream = c.stream
	}
	c.last = next
	return next
}
