package output

import (
	"context"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/reliability"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// GuardedMirror stops calling a mirror after repeated failures so an
// unreachable broker or cluster does not add a timeout to every delivery.
// While the breaker is open Mirror returns reliability.ErrCircuitOpen.
type GuardedMirror struct {
	mirror  Mirror
	breaker *reliability.Breaker
}

// NewGuardedMirror wraps m with breaker
func NewGuardedMirror(m Mirror, breaker *reliability.Breaker) *GuardedMirror {
	return &GuardedMirror{mirror: m, breaker: breaker}
}

// Name returns the wrapped mirror's name
func (g *GuardedMirror) Name() string {
	return g.mirror.Name()
}

// Mirror forwards event unless the breaker is open
func (g *GuardedMirror) Mirror(ctx context.Context, event *types.Event) error {
	return g.breaker.Do(func() error {
		return g.mirror.Mirror(ctx, event)
	})
}

// State returns the breaker state
func (g *GuardedMirror) State() reliability.State {
	return g.breaker.State()
}

// Close closes the wrapped mirror
func (g *GuardedMirror) Close() error {
	return g.mirror.Close()
}
