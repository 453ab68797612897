package output

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Sink delivers one normalized event to its destination
type Sink interface {
	// Deliver makes a single best-effort attempt. Failures are reported in
	// the result, never panicked or retried.
	Deliver(ctx context.Context, event *types.Event) Result

	// Name returns the sink name
	Name() string
}

// Result is the outcome of one delivery attempt
type Result struct {
	Delivered  bool
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Mirror receives a copy of every event in addition to the primary sink.
// Mirror errors never change the outcome reported for the primary.
type Mirror interface {
	Mirror(ctx context.Context, event *types.Event) error
	Name() string
	Close() error
}

// Failed builds a not-delivered result
func Failed(err error, started time.Time) Result {
	return Result{Err: err, Duration: time.Since(started)}
}
