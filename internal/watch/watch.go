// Package watch triggers sync runs when the day's log file changes and on a
// fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
)

// Trigger reasons
const (
	ReasonStartup = "startup"
	ReasonChange  = "change"
	ReasonTick    = "tick"
)

// Trigger describes why a run was requested
type Trigger struct {
	Reason string
	Path   string
	At     time.Time
}

// RunFunc is invoked for every trigger. Calls never overlap.
type RunFunc func(ctx context.Context, trigger Trigger)

// Config holds watcher configuration
type Config struct {
	// Dir is the directory holding the log files
	Dir string
	// Target returns the file that matters at a given time
	Target func(now time.Time) string
	// Interval between unconditional runs, 0 disables the ticker
	Interval time.Duration
	// Debounce collapses bursts of writes into one run
	Debounce time.Duration
	Now      func() time.Time
}

// Watcher watches a log directory with fsnotify
type Watcher struct {
	cfg      Config
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	watching bool
}

// New creates a watcher. The directory does not need to exist yet; it is
// picked up on a later tick once created.
func New(cfg Config, logger *logging.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if cfg.Target == nil {
		return nil, errors.New("watch target is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Nop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		logger:  logger.WithComponent("watch"),
		watcher: fw,
	}, nil
}

// Run calls fn once at startup, then on every relevant change (after the
// debounce) and every interval, until ctx is cancelled. fn runs on the
// calling goroutine.
func (w *Watcher) Run(ctx context.Context, fn RunFunc) error {
	defer w.watcher.Close()

	w.ensureWatching()
	fn(ctx, Trigger{Reason: ReasonStartup, Path: w.cfg.Target(w.cfg.Now()), At: w.cfg.Now()})

	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(time.Hour)
	stopTimer(debounce)
	defer debounce.Stop()
	var pending string

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.dirGone(event) {
				continue
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Log file changed")
			pending = event.Name
			stopTimer(debounce)
			debounce.Reset(w.cfg.Debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-debounce.C:
			fn(ctx, Trigger{Reason: ReasonChange, Path: pending, At: w.cfg.Now()})
			pending = ""

		case <-tick:
			w.ensureWatching()
			fn(ctx, Trigger{Reason: ReasonTick, Path: w.cfg.Target(w.cfg.Now()), At: w.cfg.Now()})
		}
	}
}

// relevant reports whether event touches today's log file
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(w.cfg.Target(w.cfg.Now()))
}

// dirGone reports whether event removed or renamed the watched directory
// and, if so, drops the watch so a later tick re-adds it
func (w *Watcher) dirGone(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.cfg.Dir) {
		return false
	}
	_ = w.watcher.Remove(w.cfg.Dir)
	w.watching = false
	w.logger.Warn().Str("dir", w.cfg.Dir).Str("op", event.Op.String()).Msg("Log directory went away, relying on interval")
	return true
}

// ensureWatching adds the directory to the watcher once it exists
func (w *Watcher) ensureWatching() {
	if w.watching {
		return
	}
	if _, err := os.Stat(w.cfg.Dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", w.cfg.Dir).Msg("Log directory not available, relying on interval")
		return
	}
	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", w.cfg.Dir).Msg("Failed to watch log directory")
		return
	}
	w.watching = true
	w.logger.Info().Str("dir", w.cfg.Dir).Msg("Watching log directory")
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
