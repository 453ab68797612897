package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/archive"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/config"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/dlq"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/health"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/output"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/reliability"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/server"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/syncer"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/tracing"
)

// app holds what every subcommand needs: configuration, logger, metrics and
// tracing, plus the cleanup for whatever the command opened.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Collector
	tracing *tracing.Provider
	stdout  io.Writer

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func newApp(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flags win over the file and the environment
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	logging.SetGlobal(logger)

	provider, err := tracing.NewProvider(ctx, tracingConfig(cfg.Tracing))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		tracing: provider,
		stdout:  cmd.OutOrStdout(),
	}
	a.onClose("tracing", provider.Shutdown)

	logger.Debug().
		Str("command", cmd.Name()).
		Str("endpoint", cfg.Sync.Endpoint).
		Str("log_dir", cfg.Sync.LogDir).
		Str("checkpoint", cfg.Sync.CheckpointPath).
		Msg("Configuration loaded")
	return a, nil
}

func (a *app) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close releases resources in reverse order of acquisition
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn().Err(err).Str("component", c.name).Msg("Failed to close")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newSink builds the HTTP sink wrapped with any configured mirrors
func (a *app) newSink() (*output.Fanout, error) {
	primary, err := output.NewHTTPSink(output.HTTPConfig{
		Endpoint:  a.cfg.Sync.Endpoint,
		Timeout:   a.cfg.Sync.Timeout,
		UserAgent: a.cfg.Sync.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	var mirrors []output.Mirror
	if k := a.cfg.Mirrors.Kafka; k != nil {
		mirror, err := output.NewKafkaMirror(kafkaConfig(k))
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka mirror: %w", err)
		}
		mirrors = append(mirrors, a.guard(mirror))
	}
	if es := a.cfg.Mirrors.Elasticsearch; es != nil {
		mirror, err := output.NewElasticsearchMirror(elasticsearchConfig(es))
		if err != nil {
			for _, m := range mirrors {
				m.Close()
			}
			return nil, fmt.Errorf("failed to create elasticsearch mirror: %w", err)
		}
		mirrors = append(mirrors, a.guard(mirror))
	}

	fanout := output.NewFanout(primary, a.logger, mirrors...)
	a.onClose("sink", func(context.Context) error { return fanout.Close() })
	if len(mirrors) > 0 {
		a.logger.Info().Int("mirrors", len(mirrors)).Msg("Event mirrors enabled")
	}
	return fanout, nil
}

// guard puts a circuit breaker in front of m
func (a *app) guard(m output.Mirror) output.Mirror {
	return output.NewGuardedMirror(m, reliability.NewBreaker(reliability.BreakerConfig{
		Threshold: a.cfg.Mirrors.BreakerThreshold,
		Cooldown:  a.cfg.Mirrors.BreakerCooldown,
		OnStateChange: func(from, to reliability.State) {
			a.logger.Warn().
				Str("mirror", m.Name()).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Mirror circuit breaker changed state")
		},
	}))
}

// newDriver wires the sync driver with the sink, dead letters and archive
// the configuration asks for.
func (a *app) newDriver(ctx context.Context) (*syncer.Driver, error) {
	sink, err := a.newSink()
	if err != nil {
		return nil, err
	}

	opts := syncer.Options{
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracer:  a.tracing.Tracer(),
		Out:     a.stdout,
	}

	if path := a.cfg.Sync.DeadLetterPath; path != "" {
		queue, err := dlq.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open dead letter file: %w", err)
		}
		a.onClose("dead_letters", func(context.Context) error { return queue.Close() })
		opts.DeadLetters = queue
	}

	if a.cfg.Archive != nil && a.cfg.Archive.S3 != nil {
		archiver, err := archive.NewS3Archiver(ctx, s3Config(a.cfg.Archive.S3))
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 archiver: %w", err)
		}
		opts.Archiver = archiver
	}

	return syncer.New(syncer.Config{
		SinkEndpoint:   a.cfg.Sync.Endpoint,
		LogDirectory:   a.cfg.Sync.LogDir,
		CheckpointPath: a.cfg.Sync.CheckpointPath,
		FilePrefix:     a.cfg.Sync.FilePrefix,
	}, sink, opts)
}

// newServer builds the listeners for the metrics and health endpoints and,
// when handler is set, the API on apiAddress.
func (a *app) newServer(apiAddress string, handler http.Handler, checker *health.Checker) *server.Server {
	cfg := server.Config{
		ReadTimeout:   a.cfg.Server.ReadTimeout,
		WriteTimeout:  a.cfg.Server.WriteTimeout,
		HealthChecker: checker,
		Logger:        a.logger,
	}
	if handler != nil {
		cfg.APIAddress = apiAddress
		cfg.APIHandler = handler
	}
	if m := a.cfg.Metrics; m != nil && m.Enabled {
		cfg.MetricsAddress = m.Address
		cfg.MetricsPath = m.Path
		cfg.MetricsRegistry = a.metrics.Registry()
	}
	if h := a.cfg.Health; h != nil && h.Enabled {
		cfg.HealthAddress = h.Address
		cfg.LivenessPath = h.LivenessPath
		cfg.ReadinessPath = h.ReadinessPath
	}
	return server.New(cfg)
}

func (a *app) healthTimeout() time.Duration {
	if a.cfg.Health != nil && a.cfg.Health.Timeout > 0 {
		return a.cfg.Health.Timeout
	}
	return 5 * time.Second
}

func tracingConfig(c *config.TracingConfig) tracing.Config {
	if c == nil {
		return tracing.Config{}
	}
	return tracing.Config{
		Enabled:    c.Enabled,
		Endpoint:   c.Endpoint,
		SampleRate: c.SampleRate,
	}
}

func kafkaConfig(c *config.KafkaConfig) output.KafkaConfig {
	cfg := output.DefaultKafkaConfig()
	cfg.Brokers = c.Brokers
	cfg.Topic = c.Topic
	if c.RequiredAcks != 0 {
		cfg.RequiredAcks = c.RequiredAcks
	}
	if c.CompressionCodec != "" {
		cfg.CompressionCodec = c.CompressionCodec
	}
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}
	return cfg
}

func elasticsearchConfig(c *config.ElasticsearchConfig) output.ElasticsearchConfig {
	cfg := output.DefaultElasticsearchConfig()
	cfg.Addresses = c.Addresses
	if c.Index != "" {
		cfg.Index = c.Index
	}
	if c.IndexRotation != "" {
		cfg.IndexRotation = c.IndexRotation
	}
	cfg.Username = c.Username
	cfg.Password = c.Password
	cfg.CloudID = c.CloudID
	cfg.APIKey = c.APIKey
	return cfg
}

func s3Config(c *config.S3Config) archive.S3Config {
	cfg := archive.DefaultS3Config()
	cfg.Bucket = c.Bucket
	if c.Region != "" {
		cfg.Region = c.Region
	}
	if c.Prefix != "" {
		cfg.Prefix = c.Prefix
	}
	if c.StorageClass != "" {
		cfg.StorageClass = c.StorageClass
	}
	if c.Compression != "" {
		cfg.Compression = archive.CompressionType(c.Compression)
	}
	if c.Attempts != 0 {
		cfg.Attempts = c.Attempts
	}
	cfg.Endpoint = c.Endpoint
	cfg.UsePathStyle = c.UsePathStyle
	return cfg
}
