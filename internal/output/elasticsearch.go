package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/parser"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// ElasticsearchConfig contains Elasticsearch mirror configuration
type ElasticsearchConfig struct {
	// Addresses is the list of Elasticsearch node URLs
	Addresses []string `yaml:"addresses"`

	// Index is the index name, or the prefix when rotation is enabled
	Index string `yaml:"index"`

	// IndexRotation is "daily", "monthly" or "none"
	IndexRotation string `yaml:"index_rotation,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	CloudID  string `yaml:"cloud_id,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// DefaultElasticsearchConfig returns default Elasticsearch configuration
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		Addresses:     []string{"http://localhost:9200"},
		Index:         "openclaw-events",
		IndexRotation: "daily",
	}
}

// ElasticsearchMirror indexes a copy of each event
type ElasticsearchMirror struct {
	config ElasticsearchConfig
	client *elasticsearch.Client
	now    func() time.Time
}

// NewElasticsearchMirror creates a new Elasticsearch mirror. No request is
// made until the first event is mirrored.
func NewElasticsearchMirror(config ElasticsearchConfig) (*ElasticsearchMirror, error) {
	if len(config.Addresses) == 0 && config.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}
	if config.Index == "" {
		return nil, fmt.Errorf("no index specified")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		CloudID:   config.CloudID,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &ElasticsearchMirror{config: config, client: client, now: time.Now}, nil
}

// Name returns the mirror name
func (e *ElasticsearchMirror) Name() string {
	return "elasticsearch"
}

// Mirror indexes event as one document
func (e *ElasticsearchMirror) Mirror(ctx context.Context, event *types.Event) error {
	doc := map[string]any{
		"@timestamp": event.Timestamp,
		"category":   event.Category,
		"action":     event.Action,
		"details":    event.Details,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req := esapi.IndexRequest{
		Index: e.indexName(event),
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("elasticsearch returned error: %s: %s", res.Status(), bytes.TrimSpace(snippet))
	}

	return nil
}

// indexName resolves the target index from the event time
func (e *ElasticsearchMirror) indexName(event *types.Event) string {
	ts, err := parser.ParseTimestamp(event.Timestamp)
	if err != nil {
		ts = e.now()
	}
	ts = ts.UTC()

	switch strings.ToLower(e.config.IndexRotation) {
	case "daily":
		return fmt.Sprintf("%s-%s", e.config.Index, ts.Format("2006.01.02"))
	case "monthly":
		return fmt.Sprintf("%s-%s", e.config.Index, ts.Format("2006.01"))
	default:
		return e.config.Index
	}
}

// Close is a no-op; the client holds no persistent resources
func (e *ElasticsearchMirror) Close() error {
	return nil
}
