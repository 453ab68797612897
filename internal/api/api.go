// Package api serves the logging API: log ingestion and query, schema
// provisioning and daily cost summaries.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/store"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/tracing"
)

// Routes
const (
	PathLogs  = "/api/logs"
	PathInit  = "/api/init"
	PathCosts = "/api/costs"
)

// DefaultMaxBodySize bounds request bodies when Config leaves it unset
const DefaultMaxBodySize = 1 << 20

// limiterIdle is how long an unused per-client limiter is kept
const limiterIdle = 5 * time.Minute

// Config holds API configuration
type Config struct {
	// Rate limit per client IP (requests per second), 0 disables
	RateLimit int
	// Max request body size (bytes)
	MaxBodySize int64
}

// Options carries optional collaborators
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Handler is the http.Handler for every /api route
type Handler struct {
	store   store.Store
	config  Config
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
	mux     *http.ServeMux

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates the API handler around st
func New(st store.Store, config Config, opts Options) *Handler {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("clawsync/api")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Handler{
		store:    st,
		config:   config,
		logger:   opts.Logger.WithComponent("api"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Now,
		limiters: make(map[string]*clientLimiter),
	}

	mux := http.NewServeMux()
	mux.Handle(PathLogs, h.route(PathLogs, map[string]http.HandlerFunc{
		http.MethodGet:  h.handleQueryLogs,
		http.MethodPost: h.handleCreateLog,
	}))
	mux.Handle(PathInit, h.route(PathInit, map[string]http.HandlerFunc{
		http.MethodGet:  h.handleInitInfo,
		http.MethodPost: h.handleInit,
	}))
	mux.Handle(PathCosts, h.route(PathCosts, map[string]http.HandlerFunc{
		http.MethodGet:  h.handleDailyCosts,
		http.MethodPost: h.handleRecordCost,
	}))
	h.mux = mux

	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// route wraps per-method handlers with CORS, preflight, rate limiting,
// tracing and metrics.
func (h *Handler) route(path string, methods map[string]http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		setCORS(rec.Header())

		ctx, span := tracing.TraceRequest(r.Context(), h.tracer, path, r.Method)
		defer span.End()
		r = r.WithContext(ctx)

		defer func() {
			h.metrics.APIRequests.WithLabelValues(path, r.Method, strconv.Itoa(rec.code)).Inc()
			h.metrics.APIRequestDuration.WithLabelValues(path).Observe(time.Since(started).Seconds())
		}()

		// Preflight is answered unconditionally
		if r.Method == http.MethodOptions {
			writeJSON(rec, http.StatusOK, map[string]any{})
			return
		}

		if h.config.RateLimit > 0 && !h.allow(clientIP(r)) {
			h.metrics.APIRateLimited.Inc()
			h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rate limit exceeded")
			writeError(rec, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		handler, ok := methods[r.Method]
		if !ok {
			writeError(rec, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		r.Body = http.MaxBytesReader(rec, r.Body, h.config.MaxBodySize)
		handler(rec, r)
	})
}

// allow reports whether the client may make another request
func (h *Handler) allow(client string) bool {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if now.Sub(h.lastSweep) > limiterIdle {
		for key, cl := range h.limiters {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(h.limiters, key)
			}
		}
		h.lastSweep = now
	}

	cl, ok := h.limiters[client]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(h.config.RateLimit), h.config.RateLimit*2),
		}
		h.limiters[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setCORS(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   msg,
	})
}

// decodeBody decodes the JSON request body into dst, answering 413 or 400
// itself when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}
