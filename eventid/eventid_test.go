package eventid

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id := MustNew(time.UnixMilli(1_700_000_000_000), bytes.NewReader(make([]byte, 10)))
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = Parse("short")
	require.ErrorIs(t, err, ErrInvalidStringSize)
}

func TestZeroString(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000", Zero.String())
	assert.True(t, Zero.IsZero())
}

func TestNext(t *testing.T) {
	next, err := Zero.Next()
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000000000001", next.String())
	assert.Equal(t, 1, next.Compare(Zero))

	max, err := Parse("7ZZZZZZZZZZZZZZZZZZZZZZZZZ")
	require.NoError(t, err)
	_, err = max.Next()
	require.ErrorIs(t, err, ErrOverflow)
}

func TestEntropyIsMonotonic(t *testing.T) {
	e := NewEntropy()
	now := time.Now()

	var mu sync.Mutex
	ids := []EventID{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id, err := e.NewID(now)
				assert.NoError(t, err)
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := map[EventID]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 800)
}

func TestTextRoundTrip(t *testing.T) {
	id := MustNew(time.Now(), NewEntropy().entropy)
	b, err := id.MarshalText()
	require.NoError(t, err)

	var other EventID
	require.NoError(t, other.UnmarshalText(b))
	assert.Equal(t, 0, id.Compare(other))
}
