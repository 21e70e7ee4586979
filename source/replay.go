package source

import (
	"iter"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/transition"
)

// Replay is a restartable view over one stream. It is a value: changing the
// direction returns a new Replay and leaves the receiver untouched.
type Replay struct {
	stream     concourse.Stream
	descending bool
}

// NewReplay replays stream, which must be ascending, in ascending order
func NewReplay(stream concourse.Stream) Replay {
	return Replay{stream: stream}
}

func (r Replay) InAscendingCausalOrder() Replay {
	r.descending = false
	return r
}

func (r Replay) InDescendingCausalOrder() Replay {
	r.descending = true
	return r
}

func (r Replay) IsDescending() bool {
	return r.descending
}

func (r Replay) Len() int {
	return len(r.stream)
}

func (r Replay) IsEmpty() bool {
	return len(r.stream) == 0
}

// Events yields the events in the replay order. Every call starts over and
// iterations are independent of each other.
func (r Replay) Events() iter.Seq[concourse.Event] {
	return func(yield func(concourse.Event) bool) {
		if r.descending {
			for i := len(r.stream) - 1; i >= 0; i-- {
				if !yield(r.stream[i]) {
					return
				}
			}
			return
		}
		for _, e := range r.stream {
			if !yield(e) {
				return
			}
		}
	}
}

// ForEach stops at the first error
func (r Replay) ForEach(fn func(concourse.Event) error) error {
	for e := range r.Events() {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// CollectAll maps every replayed event, in replay order
func CollectAll[T any](r Replay, fn func(concourse.Event) T) []T {
	out := make([]T, 0, r.Len())
	for e := range r.Events() {
		out = append(out, fn(e))
	}
	return out
}

// BuildState folds the replay. An empty replay has no state and no error.
func BuildState[S any](r Replay, t transition.Transitions[S]) (S, bool, error) {
	return transition.Build(r.Events(), t)
}

// RequireState is BuildState reporting concourse.ErrEmptyStream for an empty
// replay
func RequireState[S any](r Replay, t transition.Transitions[S]) (S, error) {
	return transition.Require(r.Events(), t)
}
