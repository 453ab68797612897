package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSyncCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the lines appended to today's log file since the last run",
		Long: `Reads today's OpenClaw log file, posts every new classified entry to the
logging API and advances the checkpoint. A missing log file is not an error.
A checkpoint that cannot be written is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			driver, err := a.newDriver(ctx)
			if err != nil {
				return err
			}

			res, err := driver.Run(ctx)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("run_id", res.RunID).
				Str("file", res.File).
				Int("sent", res.Sent).
				Int("failed", res.Failed).
				Int("checkpoint", res.Checkpoint.Line).
				Msg("Sync finished")
			return nil
		},
	}
}
