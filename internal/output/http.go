package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// DefaultHTTPTimeout bounds a single delivery request
const DefaultHTTPTimeout = 10 * time.Second

// maxDrainBytes caps how much of a response body is read before closing
const maxDrainBytes = 64 * 1024

// HTTPConfig holds configuration for the HTTP sink
type HTTPConfig struct {
	// Endpoint is the full URL events are POSTed to
	Endpoint string
	// Timeout for one request, including reading the response headers
	Timeout time.Duration
	// UserAgent sent with every request
	UserAgent string
	// Client overrides the HTTP client (tests)
	Client *http.Client
}

// HTTPSink POSTs each event as a JSON body to the logging API
type HTTPSink struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPSink creates a new HTTP sink
func NewHTTPSink(config HTTPConfig) (*HTTPSink, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("no sink endpoint specified")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultHTTPTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = "clawsync"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPSink{config: config, client: client}, nil
}

// Name returns the sink name
func (s *HTTPSink) Name() string {
	return "http"
}

// Endpoint returns the configured endpoint
func (s *HTTPSink) Endpoint() string {
	return s.config.Endpoint
}

// Deliver sends event with one POST. Only a 2xx response counts as delivered.
func (s *HTTPSink) Deliver(ctx context.Context, event *types.Event) Result {
	started := time.Now()

	body, err := json.Marshal(event)
	if err != nil {
		return Failed(fmt.Errorf("failed to marshal event: %w", err), started)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Failed(fmt.Errorf("failed to create request: %w", err), started)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Failed(fmt.Errorf("failed to send event: %w", err), started)
	}
	defer resp.Body.Close()

	result := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		result.Err = fmt.Errorf("sink returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		result.Delivered = true
	}

	result.Duration = time.Since(started)
	return result
}
