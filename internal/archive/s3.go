// Package archive uploads the events of each sync run to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/reliability"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Archiver stores the events classified during one run
type Archiver interface {
	Archive(ctx context.Context, run Run) (string, error)
}

// Run describes what a sync run produced
type Run struct {
	ID     string
	File   string
	Time   time.Time
	Events []*types.Event
}

// PutObjectAPI is the subset of the S3 client used by the archiver
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config contains S3 archive configuration
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `yaml:"bucket"`

	// Region is the AWS region
	Region string `yaml:"region"`

	// Prefix is the key prefix for objects
	Prefix string `yaml:"prefix,omitempty"`

	// StorageClass is the S3 storage class (STANDARD, GLACIER, etc.)
	StorageClass string `yaml:"storage_class,omitempty"`

	// Compression is none, gzip or snappy
	Compression CompressionType `yaml:"compression,omitempty"`

	// Endpoint for S3-compatible services (e.g., MinIO)
	Endpoint string `yaml:"endpoint,omitempty"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `yaml:"use_path_style,omitempty"`

	// Attempts bounds the upload calls per run, backing off between them
	Attempts int `yaml:"attempts,omitempty"`

	// RetryBackoff is the wait before the second attempt; it doubles after
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
}

// DefaultS3Config returns default S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		Prefix:       "openclaw/",
		StorageClass: "STANDARD",
		Compression:  CompressionSnappy,
		Attempts:     3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// S3Archiver writes one JSONL object per run
type S3Archiver struct {
	config     S3Config
	client     PutObjectAPI
	compressor Compressor
}

// NewS3Archiver loads AWS credentials from the default chain and builds a client
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no region specified")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return NewS3ArchiverWithClient(cfg, s3.NewFromConfig(awsCfg, opts...))
}

// NewS3ArchiverWithClient uses an existing client
func NewS3ArchiverWithClient(cfg S3Config, client PutObjectAPI) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}

	compressor, err := GetCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &S3Archiver{config: cfg, client: client, compressor: compressor}, nil
}

// Key returns the object key for run
func (a *S3Archiver) Key(run Run) string {
	prefix := a.config.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	t := run.Time.UTC()
	return prefix + path.Join(t.Format("2006"), t.Format("01"), t.Format("02"), run.ID+".jsonl"+a.compressor.Extension())
}

// Archive uploads the run's events and returns the object key. Runs with
// no events are skipped and return "".
func (a *S3Archiver) Archive(ctx context.Context, run Run) (string, error) {
	if len(run.Events) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range run.Events {
		if err := enc.Encode(event); err != nil {
			return "", fmt.Errorf("failed to encode event: %w", err)
		}
	}

	body, err := a.compressor.Compress(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to compress archive: %w", err)
	}

	key := a.Key(run)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"run-id":      run.ID,
			"source-file": filepath.Base(run.File),
			"event-count": fmt.Sprintf("%d", len(run.Events)),
		},
	}
	if encoding := a.compressor.ContentEncoding(); encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}
	if a.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(a.config.StorageClass)
	}

	retry := reliability.RetryConfig{
		Attempts:       a.config.Attempts,
		InitialBackoff: a.config.RetryBackoff,
		Jitter:         true,
	}
	err = reliability.Retry(ctx, retry, func(ctx context.Context) error {
		// The body reader is consumed by each attempt
		input.Body = bytes.NewReader(body)
		_, err := a.client.PutObject(ctx, input)
		if isClientError(err) {
			return reliability.Permanent(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}
	return key, nil
}

// isClientError reports a 4xx response other than timeout or throttling
func isClientError(err error) bool {
	var re *smithyhttp.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	code := re.HTTPStatusCode()
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}
