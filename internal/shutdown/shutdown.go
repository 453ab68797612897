package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
)

// Manager handles graceful shutdown of the application. Registered hooks run
// sequentially in reverse registration order, so listeners registered last
// are stopped before the stores they depend on.
type Manager struct {
	logger       *logging.Logger
	timeout      time.Duration
	hooks        []hook
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	gracefulDone chan struct{}
	err          error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		ctx:          ctx,
		cancel:       cancel,
		gracefulDone: make(chan struct{}),
	}
}

// RegisterFunc registers a shutdown function to be called during shutdown
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("component", name).Msg("Registered shutdown function")
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Component represents a component that can be gracefully shut down
type Component interface {
	Stop(context.Context) error
	Name() string
}

// RegisterComponent registers a component for graceful shutdown
func (m *Manager) RegisterComponent(component Component) {
	m.RegisterFunc(component.Name(), component.Stop)
}

// Context is cancelled as soon as shutdown starts. Long-running loops such
// as the watcher select on it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// WaitForSignal blocks until a shutdown signal is received or Shutdown is
// called elsewhere, then returns the shutdown error.
func (m *Manager) WaitForSignal(signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
		return m.Shutdown()
	case <-m.ctx.Done():
		<-m.gracefulDone
		return m.err
	}
}

// Shutdown initiates graceful shutdown and waits for it to finish. Repeated
// calls return the first result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.cancel()
		m.err = m.performShutdown()
		close(m.gracefulDone)
	})
	<-m.gracefulDone
	return m.err
}

func (m *Manager) performShutdown() error {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(hooks)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", h.name, ctx.Err()))
			continue
		}

		if err := h.fn(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("component", h.name).
				Msg("Shutdown function failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("component", h.name).Msg("Shutdown function completed")
	}

	if len(errs) > 0 {
		m.logger.Warn().
			Int("errors", len(errs)).
			Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}

	m.logger.Info().Msg("Graceful shutdown completed successfully")
	return nil
}
