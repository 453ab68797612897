// Package syncer drives one incremental pass over the day's OpenClaw log:
// read new lines past the watermark, classify them, deliver the events and
// persist the new watermark.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/archive"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/output"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/parser"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Config locates the log file, the checkpoint and the sink
type Config struct {
	SinkEndpoint   string
	LogDirectory   string
	CheckpointPath string
	FilePrefix     string
}

// CheckpointStore persists the watermark between runs
type CheckpointStore interface {
	Load() types.Checkpoint
	Save(cp types.Checkpoint) error
}

// DeadLetters receives events whose primary delivery failed
type DeadLetters interface {
	Enqueue(event *types.Event, cause error, source string) error
}

// Options carries optional collaborators. Zero values get working defaults.
type Options struct {
	Logger      *logging.Logger
	Metrics     *metrics.Collector
	Tracer      trace.Tracer
	Checkpoints CheckpointStore
	DeadLetters DeadLetters
	Archiver    archive.Archiver
	// Out receives the human-readable progress lines
	Out io.Writer
	// Now is the run clock; it picks the day's file, stamps the checkpoint
	// and backs classifier timestamps.
	Now      func() time.Time
	NewRunID func() string
}

// Result summarizes one run
type Result struct {
	RunID       string
	File        string
	Lines       int // non-blank lines examined this run
	Events      int // lines that classified into an event
	Sent        int
	Failed      int
	Checkpoint  types.Checkpoint
	FileMissing bool
	Unreadable  bool
	ArchiveKey  string
}

// Driver executes sync runs. A Driver is not safe for overlapping Run calls;
// callers serialize runs.
type Driver struct {
	cfg         Config
	sink        output.Sink
	checkpoints CheckpointStore
	classifier  *parser.Classifier
	deadLetters DeadLetters
	archiver    archive.Archiver
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      *logging.Logger
	out         io.Writer
	now         func() time.Time
	newRunID    func() string
}

// New creates a driver. A nil sink is replaced with an HTTP sink posting to
// cfg.SinkEndpoint.
func New(cfg Config, sink output.Sink, opts Options) (*Driver, error) {
	if cfg.LogDirectory == "" {
		return nil, errors.New("log directory is required")
	}
	if cfg.FilePrefix == "" {
		return nil, errors.New("file prefix is required")
	}

	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	logger := opts.Logger.WithComponent("syncer")

	if sink == nil {
		httpSink, err := output.NewHTTPSink(output.HTTPConfig{Endpoint: cfg.SinkEndpoint})
		if err != nil {
			return nil, err
		}
		sink = httpSink
	}

	if opts.Checkpoints == nil {
		if cfg.CheckpointPath == "" {
			return nil, errors.New("checkpoint path is required")
		}
		opts.Checkpoints = checkpoint.NewStore(cfg.CheckpointPath, opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("clawsync/syncer")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}

	return &Driver{
		cfg:         cfg,
		sink:        sink,
		checkpoints: opts.Checkpoints,
		classifier:  parser.NewClassifier(opts.Now),
		deadLetters: opts.DeadLetters,
		archiver:    opts.Archiver,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		logger:      logger,
		out:         opts.Out,
		now:         opts.Now,
		newRunID:    opts.NewRunID,
	}, nil
}

// ResolveFile returns the log file for the UTC day of now
func (d *Driver) ResolveFile(now time.Time) string {
	return FilePath(d.cfg.LogDirectory, d.cfg.FilePrefix, now)
}

// FilePath builds <dir>/<prefix>-YYYY-MM-DD.log from the UTC date of now
func FilePath(dir, prefix string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", prefix, now.UTC().Format("2006-01-02")))
}

// Run performs one sync pass. The only returned error is a failure to
// persist the checkpoint; everything else is logged and reflected in the
// result.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	started := d.now()
	res := Result{RunID: d.newRunID(), File: d.ResolveFile(started)}
	log := d.logger.WithRun(res.RunID).WithField("file", res.File)

	ctx, span := tracing.TraceSync(ctx, d.tracer, res.RunID, res.File)
	defer span.End()

	cp := d.checkpoints.Load()

	if _, err := os.Stat(res.File); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.FileMissing = true
			res.Checkpoint = cp
			fmt.Fprintf(d.out, "Log file not found: %s\n", res.File)
			log.Info().Msg("Log file not found, nothing to sync")
			d.metrics.SyncRuns.WithLabelValues("missing").Inc()
			return res, nil
		}
	}

	lines, err := readLines(res.File)
	if err != nil {
		res.Unreadable = true
		res.Checkpoint = cp
		log.Error().Err(err).Msg("Failed to read log file")
		tracing.RecordError(ctx, err)
		d.metrics.SyncRuns.WithLabelValues("unreadable").Inc()
		return res, nil
	}

	if cp.File != res.File {
		if cp.File != "" {
			log.Info().Str("previous", cp.File).Msg("New log file, resetting watermark")
			tracing.AddEvent(ctx, "checkpoint.reset", attribute.String("sync.previous_file", cp.File))
		}
		cp.File = res.File
		cp.Line = 0
	}

	pending := unprocessed(lines, cp.Line)
	res.Lines = len(pending)
	fmt.Fprintf(d.out, "Processing %d new lines from %s\n", len(pending), res.File)
	log.Info().
		Int("watermark", cp.Line).
		Int("total", len(lines)).
		Int("pending", len(pending)).
		Msg("Processing new lines")

	var events []*types.Event
	for _, line := range pending {
		event, ok := d.classifier.Classify(line)
		if !ok {
			continue
		}
		res.Events++
		events = append(events, event)
		d.metrics.SyncEventsClassified.WithLabelValues(string(event.Category)).Inc()

		if d.deliver(ctx, log, res.File, event) {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	d.metrics.SyncLinesProcessed.Add(float64(len(pending)))

	cp.Line = len(lines)
	cp.Timestamp = parser.FormatTimestamp(d.now())
	if err := d.checkpoints.Save(cp); err != nil {
		log.Error().Err(err).Msg("Failed to persist checkpoint")
		tracing.RecordError(ctx, err)
		d.metrics.SyncRuns.WithLabelValues("checkpoint_error").Inc()
		return res, fmt.Errorf("persist checkpoint: %w", err)
	}
	res.Checkpoint = cp
	d.metrics.SyncCheckpointLine.Set(float64(cp.Line))

	res.ArchiveKey = d.archive(ctx, log, res, started, events)

	fmt.Fprintf(d.out, "Synced %d log entries\n", res.Sent)
	span.SetAttributes(
		attribute.Int("sync.lines", res.Lines),
		attribute.Int("sync.events", res.Events),
		attribute.Int("sync.sent", res.Sent),
	)
	log.Info().
		Int("lines", res.Lines).
		Int("events", res.Events).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("checkpoint", cp.Line).
		Dur("duration", time.Since(started)).
		Msg("Sync run complete")

	d.metrics.SyncRuns.WithLabelValues("ok").Inc()
	d.metrics.SyncLastRun.SetToCurrentTime()
	return res, nil
}

// deliver sends one event and reports whether the primary accepted it
func (d *Driver) deliver(ctx context.Context, log *logging.Logger, source string, event *types.Event) bool {
	ctx, span := tracing.TraceDelivery(ctx, d.tracer, d.sink.Name(), string(event.Category), event.Action)
	defer span.End()

	result := d.sink.Deliver(ctx, event)
	d.metrics.SyncDeliveryDuration.Observe(result.Duration.Seconds())

	if result.Delivered {
		d.metrics.SyncDeliveries.WithLabelValues("sent").Inc()
		return true
	}

	d.metrics.SyncDeliveries.WithLabelValues("failed").Inc()
	span.RecordError(result.Err)
	log.Warn().
		Err(result.Err).
		Int("status", result.StatusCode).
		Str("action", event.Action).
		Msg("Failed to deliver event")

	if d.deadLetters != nil {
		if err := d.deadLetters.Enqueue(event, result.Err, source); err != nil {
			log.Error().Err(err).Msg("Failed to write dead letter")
		} else {
			d.metrics.SyncDeadLettered.Inc()
			tracing.AddEvent(ctx, "delivery.dead_lettered", attribute.String("sink.action", event.Action))
		}
	}
	return false
}

// archive uploads the run's events after the checkpoint is safe on disk
func (d *Driver) archive(ctx context.Context, log *logging.Logger, res Result, started time.Time, events []*types.Event) string {
	if d.archiver == nil || len(events) == 0 {
		return ""
	}

	key, err := d.archiver.Archive(ctx, archive.Run{
		ID:     res.RunID,
		File:   res.File,
		Time:   started,
		Events: events,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to archive run")
		d.metrics.SyncArchiveUploads.WithLabelValues("failed").Inc()
		return ""
	}

	d.metrics.SyncArchiveUploads.WithLabelValues("ok").Inc()
	log.Debug().Str("key", key).Int("events", len(events)).Msg("Archived run")
	return key
}

// readLines returns the non-blank lines of path in file order
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := strings.Split(string(data), "\n")
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// unprocessed slices lines past the watermark. A watermark beyond the end
// (the file shrank) leaves nothing to process.
func unprocessed(lines []string, watermark int) []string {
	if watermark < 0 {
		watermark = 0
	}
	if watermark >= len(lines) {
		return nil
	}
	return lines[watermark:]
}
