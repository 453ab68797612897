package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type recorder struct {
	mu       sync.Mutex
	triggers []Trigger
	ch       chan Trigger
	running  bool
	overlap  bool
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Trigger, 16)}
}

func (r *recorder) run(ctx context.Context, trigger Trigger) {
	r.mu.Lock()
	if r.running {
		r.overlap = true
	}
	r.running = true
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	select {
	case r.ch <- trigger:
	default:
	}
}

func (r *recorder) next(t *testing.T, timeout time.Duration) Trigger {
	t.Helper()
	select {
	case tr := <-r.ch:
		return tr
	case <-time.After(timeout):
		t.Fatal("timed out waiting for trigger")
		return Trigger{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case tr := <-r.ch:
		t.Fatalf("unexpected trigger %+v", tr)
	case <-time.After(wait):
	}
}

func startWatcher(t *testing.T, cfg Config, rec *recorder) context.CancelFunc {
	t.Helper()
	w, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx, rec.run); err != nil {
			t.Errorf("Run returned %v", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestStartupTrigger(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "openclaw-2026-10-14.log")
	rec := newRecorder()

	stop := startWatcher(t, Config{
		Dir:    dir,
		Target: func(time.Time) string { return target },
	}, rec)
	defer stop()

	tr := rec.next(t, time.Second)
	if tr.Reason != ReasonStartup || tr.Path != target {
		t.Errorf("unexpected startup trigger %+v", tr)
	}
}

func TestChangeTriggerIsDebounced(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "openclaw-2026-10-14.log")
	rec := newRecorder()

	stop := startWatcher(t, Config{
		Dir:      dir,
		Target:   func(time.Time) string { return target },
		Debounce: 50 * time.Millisecond,
	}, rec)
	defer stop()

	rec.next(t, time.Second) // startup

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to open target: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.WriteString(`{"1":"tool start: tool=exec toolCallId=c"}` + "\n"); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	f.Close()

	tr := rec.next(t, 2*time.Second)
	if tr.Reason != ReasonChange || tr.Path != target {
		t.Errorf("unexpected change trigger %+v", tr)
	}
	rec.none(t, 200*time.Millisecond)
}

func TestUnrelatedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "openclaw-2026-10-14.log")
	rec := newRecorder()

	stop := startWatcher(t, Config{
		Dir:      dir,
		Target:   func(time.Time) string { return target },
		Debounce: 10 * time.Millisecond,
	}, rec)
	defer stop()

	rec.next(t, time.Second) // startup

	if err := os.WriteFile(filepath.Join(dir, "openclaw-2026-10-13.log"), []byte("x\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rec.none(t, 200*time.Millisecond)
}

func TestTickTriggers(t *testing.T) {
	// A missing directory still gets interval runs
	dir := filepath.Join(t.TempDir(), "not-yet")
	rec := newRecorder()

	stop := startWatcher(t, Config{
		Dir:      dir,
		Target:   func(time.Time) string { return filepath.Join(dir, "openclaw-2026-10-14.log") },
		Interval: 30 * time.Millisecond,
	}, rec)

	rec.next(t, time.Second) // startup
	if tr := rec.next(t, time.Second); tr.Reason != ReasonTick {
		t.Errorf("Expected tick, got %+v", tr)
	}
	if tr := rec.next(t, time.Second); tr.Reason != ReasonTick {
		t.Errorf("Expected tick, got %+v", tr)
	}
	stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.overlap {
		t.Error("runs overlapped")
	}
}

func TestDirGone(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"directory removed", fsnotify.Event{Name: dir, Op: fsnotify.Remove}, true},
		{"directory renamed", fsnotify.Event{Name: dir + "/", Op: fsnotify.Rename}, true},
		{"file removed", fsnotify.Event{Name: filepath.Join(dir, "openclaw-2026-10-14.log"), Op: fsnotify.Remove}, false},
		{"directory written", fsnotify.Event{Name: dir, Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(Config{Dir: dir, Target: func(time.Time) string { return "" }}, nil)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer w.watcher.Close()

			w.ensureWatching()
			if !w.watching {
				t.Fatal("expected directory to be watched")
			}
			if got := w.dirGone(tt.event); got != tt.want {
				t.Errorf("dirGone() = %v, want %v", got, tt.want)
			}
			if w.watching == tt.want {
				t.Errorf("watching = %v after %s", w.watching, tt.event.Op)
			}
		})
	}
}

func TestDirRecreatedResumesChangeTriggers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	target := filepath.Join(dir, "openclaw-2026-10-14.log")
	rec := newRecorder()

	stop := startWatcher(t, Config{
		Dir:      dir,
		Target:   func(time.Time) string { return target },
		Interval: 30 * time.Millisecond,
		Debounce: 10 * time.Millisecond,
	}, rec)
	defer stop()

	rec.next(t, time.Second) // startup

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	// Keep appending until a write is seen through the re-added watch
	deadline := time.After(3 * time.Second)
	for {
		select {
		case tr := <-rec.ch:
			if tr.Reason == ReasonChange {
				if tr.Path != target {
					t.Errorf("unexpected change trigger %+v", tr)
				}
				return
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				t.Fatalf("Failed to open target: %v", err)
			}
			f.WriteString(`{"1":"run complete"}` + "\n")
			f.Close()
		case <-deadline:
			t.Fatal("no change trigger after the directory was recreated")
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Target: func(time.Time) string { return "" }}, nil); err == nil {
		t.Error("Expected error without dir")
	}
	if _, err := New(Config{Dir: t.TempDir()}, nil); err == nil {
		t.Error("Expected error without target")
	}
}
