package graphite

import (
	"log/slog"
	"time"

	"github.com/gogpu/graphite/internal/resource"
)

// DefaultTeardownTimeout bounds how long Close waits for in-flight work.
const DefaultTeardownTimeout = 5 * time.Second

// ContextOption configures a Context during creation.
//
// Example:
//
//	ctx, err := graphite.NewContext(dev,
//	    graphite.WithLogger(slog.Default()),
//	    graphite.WithMaxBudgetedBytes(64<<20))
type ContextOption func(*contextOptions)

type contextOptions struct {
	log             *slog.Logger
	budget          uint64
	teardownTimeout time.Duration
	label           string
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		budget:          resource.DefaultMaxBudgetedBytes,
		teardownTimeout: DefaultTeardownTimeout,
		label:           "graphite",
	}
}

// WithLogger sets the Context logger. It defaults to [Logger].
func WithLogger(l *slog.Logger) ContextOption {
	return func(o *contextOptions) {
		o.log = l
	}
}

// WithMaxBudgetedBytes sets the byte budget of the idle resource cache.
func WithMaxBudgetedBytes(n uint64) ContextOption {
	return func(o *contextOptions) {
		o.budget = n
	}
}

// WithTeardownTimeout bounds how long Close waits for in-flight
// submissions before failing them.
func WithTeardownTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d > 0 {
			o.teardownTimeout = d
		}
	}
}

// WithContextLabel sets the debug label of submissions.
func WithContextLabel(label string) ContextOption {
	return func(o *contextOptions) {
		o.label = label
	}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderOptions)

type recorderOptions struct {
	capacity int
	priority int
	label    string
}

// WithCommandCapacity preallocates room for n commands.
func WithCommandCapacity(n int) RecorderOption {
	return func(o *recorderOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithPriority sets the scheduling hint of the Recording. Priority never
// changes execution order.
func WithPriority(p int) RecorderOption {
	return func(o *recorderOptions) {
		o.priority = p
	}
}

// WithRecorderLabel sets the debug label of the Recording.
func WithRecorderLabel(label string) RecorderOption {
	return func(o *recorderOptions) {
		o.label = label
	}
}
