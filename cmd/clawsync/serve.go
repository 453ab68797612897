package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/api"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/health"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/store"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var initSchema bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the logging API",
		Long: `Serves /api/logs, /api/init and /api/costs. Records are stored in Postgres
when DATABASE_URL (or server.database_url) is set and in memory otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: a.logger})
			ctx := mgr.Context()

			st, err := openStore(ctx, a.cfg.Server.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			mgr.RegisterFunc("store", func(context.Context) error { return st.Close() })

			if initSchema {
				if err := st.Init(ctx); err != nil {
					mgr.Shutdown()
					return fmt.Errorf("failed to initialize database: %w", err)
				}
				a.logger.Info().Msg("Database initialized")
			}

			handler := api.New(st, api.Config{
				RateLimit:   a.cfg.Server.RateLimit,
				MaxBodySize: a.cfg.Server.MaxBodySize,
			}, api.Options{
				Logger:  a.logger,
				Metrics: a.metrics,
				Tracer:  a.tracing.Tracer(),
			})

			checker := health.NewChecker(a.healthTimeout())
			checker.Register("store", health.PingCheck(st))

			srv := a.newServer(a.cfg.Server.Address, handler, checker)
			if err := srv.Start(); err != nil {
				mgr.Shutdown()
				return fmt.Errorf("failed to start server: %w", err)
			}
			mgr.RegisterComponent(srv)

			a.logger.Info().
				Str("address", srv.Addr("api").String()).
				Msg("Logging API listening")

			return mgr.WaitForSignal()
		},
	}

	cmd.Flags().BoolVar(&initSchema, "init", false, "create the database tables before serving")
	return cmd
}

// openStore picks Postgres when a database URL is configured
func openStore(ctx context.Context, databaseURL string, logger *logging.Logger) (store.Store, error) {
	if databaseURL == "" {
		logger.Warn().Msg("No database configured, records are kept in memory")
		return store.NewMemoryStore(), nil
	}

	st, err := store.NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return st, nil
}
