package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/health"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
)

// Server runs the API listener next to the metrics and health listeners
type Server struct {
	listeners []*listener
	logger    *logging.Logger
}

type listener struct {
	name   string
	server *http.Server
	addr   net.Addr
}

// Config holds server configuration. Each listener is enabled by a
// non-empty address plus its handler or registry.
type Config struct {
	APIAddress      string
	APIHandler      http.Handler
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MetricsAddress  string
	MetricsPath     string
	MetricsRegistry *prometheus.Registry
	HealthAddress   string
	LivenessPath    string
	ReadinessPath   string
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{logger: cfg.Logger.WithComponent("server")}

	if cfg.APIAddress != "" && cfg.APIHandler != nil {
		s.add("api", cfg.APIAddress, cfg.APIHandler, cfg.ReadTimeout, cfg.WriteTimeout)
	}

	// Metrics listener
	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}

		mux := http.NewServeMux()
		mux.Handle(metricsPath, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
		s.add("metrics", cfg.MetricsAddress, mux, 5*time.Second, 10*time.Second)
	}

	// Health listener
	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		livenessPath := cfg.LivenessPath
		if livenessPath == "" {
			livenessPath = "/health/live"
		}

		readinessPath := cfg.ReadinessPath
		if readinessPath == "" {
			readinessPath = "/health/ready"
		}

		mux := http.NewServeMux()
		mux.HandleFunc(livenessPath, cfg.HealthChecker.LivenessHandler())
		mux.HandleFunc(readinessPath, cfg.HealthChecker.ReadinessHandler())
		mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
		s.add("health", cfg.HealthAddress, mux, 5*time.Second, 10*time.Second)
	}

	return s
}

func (s *Server) add(name, addr string, handler http.Handler, read, write time.Duration) {
	s.listeners = append(s.listeners, &listener{
		name: name,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  read,
			WriteTimeout: write,
		},
	})
}

// Name identifies the server for shutdown logs
func (s *Server) Name() string {
	return "server"
}

// Start binds every listener and serves in the background. A bind failure
// closes the listeners already opened and is returned.
func (s *Server) Start() error {
	bound := make([]net.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ln, err := net.Listen("tcp", l.server.Addr)
		if err != nil {
			for _, b := range bound {
				b.Close()
			}
			return fmt.Errorf("%s server: %w", l.name, err)
		}
		bound = append(bound, ln)
		l.addr = ln.Addr()
	}

	for i, l := range s.listeners {
		ln := bound[i]
		go func(l *listener) {
			s.logger.Info().
				Str("address", l.addr.String()).
				Msgf("Starting %s server", l.name)

			if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msgf("%s server error", l.name)
			}
		}(l)
	}
	return nil
}

// Addr returns the bound address of the named listener, or nil before Start
func (s *Server) Addr(name string) net.Addr {
	for _, l := range s.listeners {
		if l.name == name {
			return l.addr
		}
	}
	return nil
}

// Stop gracefully shuts down every listener
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	for _, l := range s.listeners {
		s.logger.Info().Msgf("Shutting down %s server", l.name)
		if err := l.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msgf("Error shutting down %s server", l.name)
			errs = append(errs, fmt.Errorf("%s server: %w", l.name, err))
		}
	}
	return errors.Join(errs...)
}
