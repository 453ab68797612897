package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/reliability"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Fanout delivers to a primary sink and copies each event to mirrors.
// Only the primary's result is reported to the caller.
type Fanout struct {
	primary Sink
	mirrors []Mirror
	logger  *logging.Logger
}

// NewFanout creates a fanout around primary
func NewFanout(primary Sink, logger *logging.Logger, mirrors ...Mirror) *Fanout {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Fanout{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.WithComponent("fanout"),
	}
}

// Name returns the primary sink name
func (f *Fanout) Name() string {
	return f.primary.Name()
}

// Mirrors returns the number of attached mirrors
func (f *Fanout) Mirrors() int {
	return len(f.mirrors)
}

// Deliver sends event to the primary, then to every mirror in order
func (f *Fanout) Deliver(ctx context.Context, event *types.Event) Result {
	result := f.primary.Deliver(ctx, event)

	for _, m := range f.mirrors {
		if err := m.Mirror(ctx, event); err != nil {
			if errors.Is(err, reliability.ErrCircuitOpen) {
				continue
			}
			f.logger.Warn().
				Err(err).
				Str("mirror", m.Name()).
				Str("action", event.Action).
				Msg("Failed to mirror event")
		}
	}

	return result
}

// Close closes all mirrors
func (f *Fanout) Close() error {
	var errs []error
	for _, m := range f.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
