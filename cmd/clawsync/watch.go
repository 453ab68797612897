package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/health"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/watch"
)

func newWatchCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever today's log file changes and on a fixed interval",
		Long: `Runs a sync at startup, after every write to today's log file and on every
watch interval tick. Runs never overlap. Metrics and health endpoints are
served when enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: a.logger})

			driver, err := a.newDriver(mgr.Context())
			if err != nil {
				return err
			}

			// Unix nanoseconds of the last completed run
			var lastRun atomic.Int64
			checker := health.NewChecker(a.healthTimeout())
			checker.Register("last_run", health.FreshnessCheck(func() time.Time {
				if n := lastRun.Load(); n != 0 {
					return time.Unix(0, n)
				}
				return time.Time{}
			}, 3*a.cfg.Watch.Interval))
			checker.Register("checkpoint_dir", health.WritableDirCheck(a.cfg.Sync.CheckpointPath))

			srv := a.newServer("", nil, checker)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			mgr.RegisterComponent(srv)

			watcher, err := watch.New(watch.Config{
				Dir:      a.cfg.Sync.LogDir,
				Target:   driver.ResolveFile,
				Interval: a.cfg.Watch.Interval,
				Debounce: a.cfg.Watch.Debounce,
			}, a.logger)
			if err != nil {
				mgr.Shutdown()
				return err
			}

			go mgr.WaitForSignal()

			a.logger.Info().
				Str("dir", a.cfg.Sync.LogDir).
				Dur("interval", a.cfg.Watch.Interval).
				Msg("Watching for log changes")

			runErr := watcher.Run(mgr.Context(), func(ctx context.Context, trigger watch.Trigger) {
				log := a.logger.WithField("trigger", trigger.Reason)
				if _, err := driver.Run(ctx); err != nil {
					// The watermark did not move; the next trigger retries
					log.Error().Err(err).Msg("Sync run failed")
					return
				}
				lastRun.Store(time.Now().UnixNano())
			})

			if err := mgr.Shutdown(); err != nil {
				a.logger.Warn().Err(err).Msg("Shutdown finished with errors")
			}
			return runErr
		},
	}
}
