package concourse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/quintans/faults"

	"github.com/opencredo/concourse/eventid"
)

const (
	instantKeySize = 16
	idKeySize      = 26
	signBit        = uint64(1) << 63
)

// instants a sort key can encode
var (
	MinInstant = time.Unix(0, math.MinInt64).UTC()
	MaxInstant = time.Unix(0, math.MaxInt64).UTC()
)

// StreamTimestamp orders events causally. Two timestamps are compared by
// instant, then by stream label and finally by the causal discriminator, so
// the order never depends on when an event reached the store.
type StreamTimestamp struct {
	instant time.Time
	stream  string
	id      eventid.EventID
}

// Of returns a timestamp at the given instant with the zero discriminator.
// Events of the same aggregate written with equal Of timestamps are rejected
// by the stores, use Plus or a Clock to order them.
func Of(stream string, instant time.Time) StreamTimestamp {
	return StreamTimestamp{
		instant: instant.UTC(),
		stream:  stream,
	}
}

func (t StreamTimestamp) Instant() time.Time {
	return t.instant
}

func (t StreamTimestamp) Stream() string {
	return t.stream
}

func (t StreamTimestamp) Discriminator() eventid.EventID {
	return t.id
}

func (t StreamTimestamp) IsZero() bool {
	return t.instant.IsZero() && t.stream == "" && t.id.IsZero()
}

// Plus returns a timestamp strictly after t. A positive amount moves the
// instant forward; a non positive amount keeps the instant and advances the
// discriminator instead.
func (t StreamTimestamp) Plus(d time.Duration) StreamTimestamp {
	if d > 0 {
		return StreamTimestamp{
			instant: t.instant.Add(d),
			stream:  t.stream,
			id:      t.id,
		}
	}

	next, err := t.id.Next()
	if err != nil {
		// discriminator space exhausted at this instant
		return StreamTimestamp{
			instant: t.instant.Add(time.Nanosecond),
			stream:  t.stream,
		}
	}
	return StreamTimestamp{
		instant: t.instant,
		stream:  t.stream,
		id:      next,
	}
}

// Compare returns -1, 0 or +1 if t is before, equal to or after other.
func (t StreamTimestamp) Compare(other StreamTimestamp) int {
	if c := t.instant.Compare(other.instant); c != 0 {
		return c
	}
	if c := strings.Compare(t.stream, other.stream); c != 0 {
		return c
	}
	return t.id.Compare(other.id)
}

func (t StreamTimestamp) Before(other StreamTimestamp) bool {
	return t.Compare(other) < 0
}

func (t StreamTimestamp) After(other StreamTimestamp) bool {
	return t.Compare(other) > 0
}

func (t StreamTimestamp) Equal(other StreamTimestamp) bool {
	return t.Compare(other) == 0
}

func (t StreamTimestamp) Validate() error {
	if t.instant.IsZero() {
		return faults.New("timestamp instant is zero")
	}
	if t.instant.Before(MinInstant) || t.instant.After(MaxInstant) {
		return faults.Errorf("timestamp instant %s is outside [%s, %s]", t.instant.Format(time.RFC3339Nano), MinInstant.Format(time.RFC3339Nano), MaxInstant.Format(time.RFC3339Nano))
	}
	if strings.IndexByte(t.stream, 0) >= 0 {
		return faults.Errorf("timestamp stream label %q contains a NUL byte", t.stream)
	}
	return nil
}

// SortKey encodes t so that the byte order of two keys equals the order of
// their timestamps.
func (t StreamTimestamp) SortKey() string {
	nanos := uint64(t.instant.UnixNano()) ^ signBit
	return fmt.Sprintf("%016x%s\x00%s", nanos, t.stream, t.id.String())
}

func ParseSortKey(key string) (StreamTimestamp, error) {
	if len(key) < instantKeySize+1+idKeySize {
		return StreamTimestamp{}, faults.Errorf("sort key %q is too short", key)
	}
	nanos, err := strconv.ParseUint(key[:instantKeySize], 16, 64)
	if err != nil {
		return StreamTimestamp{}, faults.Errorf("invalid instant in sort key %q: %w", key, err)
	}
	rest := key[instantKeySize:]
	sep := len(rest) - idKeySize - 1
	if rest[sep] != 0 {
		return StreamTimestamp{}, faults.Errorf("missing separator in sort key %q", key)
	}
	id, err := eventid.Parse(rest[sep+1:])
	if err != nil {
		return StreamTimestamp{}, faults.Wrap(err)
	}
	return StreamTimestamp{
		instant: time.Unix(0, int64(nanos^signBit)).UTC(),
		stream:  rest[:sep],
		id:      id,
	}, nil
}

func (t StreamTimestamp) String() string {
	if t.stream == "" {
		return t.instant.Format(time.RFC3339Nano) + "/" + t.id.String()
	}
	return t.stream + "@" + t.instant.Format(time.RFC3339Nano) + "/" + t.id.String()
}
