// Package eventid provides the causal discriminator used to break ties between
// timestamps that share the same instant.
package eventid

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/quintans/faults"
)

const encodedStringSize = 26

var (
	ErrInvalidStringSize = errors.New("string size should be 26")
	ErrOverflow          = errors.New("event id overflow")
	Zero                 EventID
)

// EventID is a ULID. Ordering follows the byte order of the ULID, so ids drawn
// from the same Entropy in the same millisecond are strictly increasing.
type EventID struct {
	u ulid.ULID
}

// Entropy generates monotonic ids. Unlike the underlying ulid.MonotonicEntropy
// it is safe for concurrent use.
type Entropy struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewEntropy() *Entropy {
	return NewEntropyFrom(rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewEntropyFrom(r io.Reader) *Entropy {
	return &Entropy{
		entropy: ulid.Monotonic(r, 0),
	}
}

func (e *Entropy) NewID(t time.Time) (EventID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return New(t, e.entropy)
}

func New(t time.Time, entropy io.Reader) (EventID, error) {
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return Zero, faults.Wrap(err)
	}
	return EventID{u: id}, nil
}

func MustNew(t time.Time, entropy io.Reader) EventID {
	id, err := New(t, entropy)
	if err != nil {
		panic(err)
	}
	return id
}

func (e EventID) String() string {
	return e.u.String()
}

func (e EventID) IsZero() bool {
	return e == Zero
}

func Parse(encoded string) (EventID, error) {
	if len(encoded) != encodedStringSize {
		return Zero, faults.Errorf("unable to parse event ID '%s'[size=%d]: %w", encoded, len(encoded), ErrInvalidStringSize)
	}
	u, err := ulid.ParseStrict(encoded)
	if err != nil {
		return Zero, faults.Wrap(err)
	}

	return EventID{u}, nil
}

// Next returns the smallest id greater than e.
func (e EventID) Next() (EventID, error) {
	next := e.u
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return EventID{next}, nil
		}
	}
	return Zero, faults.Wrap(ErrOverflow)
}

// Compare returns an integer comparing id and other lexicographically.
// The result will be 0 if e==other, -1 if e < other, and +1 if e > other.
func (e EventID) Compare(other EventID) int {
	return e.u.Compare(other.u)
}

func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EventID) UnmarshalText(data []byte) error {
	if e == nil {
		return faults.New("eventid.UnmarshalText: UnmarshalText on nil pointer")
	}

	decoded, err := Parse(string(data))
	if err != nil {
		return faults.Errorf("decode error: %w", err)
	}

	*e = decoded
	return nil
}
