package shutdown

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
)

type fakeComponent struct {
	name    string
	stopped bool
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Stop(ctx context.Context) error {
	c.stopped = true
	return nil
}

func TestNew(t *testing.T) {
	manager := New(Config{Timeout: 10 * time.Second, Logger: logging.Nop()})
	if manager.timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", manager.timeout)
	}

	if New(Config{}).timeout != 30*time.Second {
		t.Error("Expected default timeout 30s")
	}
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	manager := New(Config{Timeout: 5 * time.Second})

	var order []string
	for _, name := range []string{"store", "api", "metrics"} {
		n := name
		manager.RegisterFunc(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	if err := manager.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"metrics", "api", "store"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	manager := New(Config{Timeout: 5 * time.Second})
	boom := errors.New("boom")

	manager.RegisterFunc("ok", func(ctx context.Context) error { return nil })
	manager.RegisterFunc("bad", func(ctx context.Context) error { return boom })

	err := manager.Shutdown()
	if !errors.Is(err, boom) {
		t.Fatalf("Expected joined error to wrap boom, got %v", err)
	}

	// A second call returns the same result without re-running hooks
	if again := manager.Shutdown(); again != err {
		t.Errorf("Expected repeated Shutdown to return first error")
	}
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	manager := New(Config{Timeout: 50 * time.Millisecond})

	called := false
	manager.RegisterFunc("first", func(ctx context.Context) error {
		called = true
		return nil
	})
	manager.RegisterFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := manager.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if called {
		t.Error("hook after the deadline should be skipped")
	}
}

func TestContextCancelledOnShutdown(t *testing.T) {
	manager := New(Config{})

	select {
	case <-manager.Context().Done():
		t.Fatal("context should not be done before shutdown")
	default:
	}

	_ = manager.Shutdown()

	select {
	case <-manager.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context should be done after shutdown")
	}
}

func TestWaitForSignalReturnsOnShutdown(t *testing.T) {
	manager := New(Config{Timeout: time.Second})
	component := &fakeComponent{name: "api"}
	manager.RegisterComponent(component)

	go func() {
		time.Sleep(50 * time.Millisecond)
		manager.Shutdown()
	}()

	if err := manager.WaitForSignal(syscall.SIGTERM); err != nil {
		t.Fatalf("WaitForSignal returned %v", err)
	}
	if !component.stopped {
		t.Error("component should be stopped")
	}
}
