package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/dlq"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/syncer"
)

var errNoDeadLetters = errors.New("no dead letter file configured (sync.dead_letter_path)")

func newReplayCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-deliver events from the dead letter file",
		Long: `Attempts every event in the dead letter file once. Delivered events are
removed; the rest stay in the file with their attempt count increased.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			path := a.cfg.Sync.DeadLetterPath
			if path == "" {
				return errNoDeadLetters
			}

			queue, err := dlq.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open dead letter file: %w", err)
			}
			defer queue.Close()

			sink, err := a.newSink()
			if err != nil {
				return err
			}

			res, err := syncer.Replay(ctx, queue, sink, a.logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Replayed %d dead letters: %d delivered, %d remaining\n",
				res.Attempted, res.Delivered, res.Remaining)
			if res.Skipped > 0 {
				a.logger.Warn().Int("skipped", res.Skipped).Msg("Dropped unreadable dead letter entries")
			}
			return nil
		},
	}
}
