package log

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

const (
	errorGroupKey = "error"
	messageKey    = "message"
	stackKey      = "stack"
	streamKey     = "stream"
)

// Err groups the error message and, for faults errors, the stack frames. The
// frames are only rendered if the record is written.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	msg := slog.String(messageKey, err.Error())

	var st StackTracer
	if !errors.As(err, &st) {
		return slog.Any(errorGroupKey, slog.GroupValue(msg))
	}

	stack := slog.Any(stackKey, LazyStr(func() string {
		frames := st.Frames()
		lines := make([]string, len(frames))
		for i, frame := range frames {
			lines[i] = frame.File + `:` + strconv.Itoa(frame.Line)
		}
		return fmt.Sprint(lines)
	}))
	return slog.Any(errorGroupKey, slog.GroupValue(msg, stack))
}

// Stream identifies an aggregate stream as "tag/id"
func Stream[T, I fmt.Stringer](tag T, id I) slog.Attr {
	return slog.String(streamKey, tag.String()+"/"+id.String())
}

// Batch summarises a batch by size
func Batch(size int) slog.Attr {
	return slog.Int("batchSize", size)
}

type LazyStr func() string

func (ls LazyStr) String() string {
	return ls()
}

type StackTracer interface {
	Frames() []runtime.Frame
}
