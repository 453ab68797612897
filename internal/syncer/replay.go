package syncer

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/dlq"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/output"
)

// ReplayResult summarizes a dead letter replay
type ReplayResult struct {
	Attempted int
	Delivered int
	Remaining int
	Skipped   int // unreadable entries dropped from the file
}

// Replay re-delivers every dead letter once. Entries that fail again are
// written back with their attempt count bumped; delivered ones are removed.
func Replay(ctx context.Context, queue *dlq.Queue, sink output.Sink, logger *logging.Logger) (ReplayResult, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	log := logger.WithComponent("replay")

	entries, skipped, err := queue.Entries()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("read dead letters: %w", err)
	}

	res := ReplayResult{Skipped: skipped}
	var remaining []dlq.Entry
	for i, entry := range entries {
		if ctx.Err() != nil {
			// Keep what was not attempted
			remaining = append(remaining, entries[i:]...)
			break
		}

		res.Attempted++
		result := sink.Deliver(ctx, entry.Event)
		if result.Delivered {
			res.Delivered++
			continue
		}

		entry.Attempts++
		if result.Err != nil {
			entry.Error = result.Err.Error()
		}
		remaining = append(remaining, entry)
		log.Debug().
			Err(result.Err).
			Str("action", entry.Event.Action).
			Int("attempts", entry.Attempts).
			Msg("Replay delivery failed")
	}
	res.Remaining = len(remaining)

	if err := queue.Replace(remaining); err != nil {
		return res, fmt.Errorf("rewrite dead letters: %w", err)
	}

	log.Info().
		Int("attempted", res.Attempted).
		Int("delivered", res.Delivered).
		Int("remaining", res.Remaining).
		Int("skipped", res.Skipped).
		Msg("Dead letter replay complete")
	return res, ctx.Err()
}
