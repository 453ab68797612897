package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
	// failures fails this many calls before succeeding
	failures int
	calls    int
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		io.ReadAll(params.Body)
		return nil, errors.New("slow down")
	}
	body, _ := io.ReadAll(params.Body)
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func testRun() Run {
	return Run{
		ID:   "3f1c2a",
		File: "/tmp/openclaw/openclaw-2026-10-14.log",
		Time: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		Events: []*types.Event{
			{Category: types.CategoryExec, Action: "tool:bash:start", Details: map[string]any{"toolCallId": "c1"}, Timestamp: "t1"},
			{Category: types.CategoryError, Action: "error", Details: map[string]any{"raw": "disk full"}, Timestamp: "t2"},
		},
	}
}

func TestS3ArchiverUploadsJSONL(t *testing.T) {
	tests := []struct {
		compression CompressionType
		wantKey     string
	}{
		{compression: CompressionNone, wantKey: "openclaw/2026/10/14/3f1c2a.jsonl"},
		{compression: CompressionGzip, wantKey: "openclaw/2026/10/14/3f1c2a.jsonl.gz"},
		{compression: CompressionSnappy, wantKey: "openclaw/2026/10/14/3f1c2a.jsonl.snappy"},
	}

	for _, tt := range tests {
		t.Run(string(tt.compression), func(t *testing.T) {
			client := &fakeS3{}
			archiver, err := NewS3ArchiverWithClient(S3Config{
				Bucket:      "agent-logs",
				Prefix:      "openclaw",
				Compression: tt.compression,
			}, client)
			if err != nil {
				t.Fatalf("failed to create archiver: %v", err)
			}

			key, err := archiver.Archive(context.Background(), testRun())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %s, want %s", key, tt.wantKey)
			}
			if len(client.inputs) != 1 {
				t.Fatalf("expected 1 upload, got %d", len(client.inputs))
			}
			if aws.ToString(client.inputs[0].Bucket) != "agent-logs" {
				t.Errorf("unexpected bucket %s", aws.ToString(client.inputs[0].Bucket))
			}
			if client.inputs[0].Metadata["source-file"] != "openclaw-2026-10-14.log" {
				t.Errorf("unexpected source-file metadata %q", client.inputs[0].Metadata["source-file"])
			}

			compressor, _ := GetCompressor(tt.compression)
			plain, err := compressor.Decompress(client.bodies[0])
			if err != nil {
				t.Fatalf("failed to decompress body: %v", err)
			}

			var actions []string
			scanner := bufio.NewScanner(bytes.NewReader(plain))
			for scanner.Scan() {
				var event types.Event
				if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
					t.Fatalf("invalid JSONL line %q: %v", scanner.Text(), err)
				}
				actions = append(actions, event.Action)
			}
			if len(actions) != 2 || actions[0] != "tool:bash:start" || actions[1] != "error" {
				t.Errorf("unexpected archived actions %v", actions)
			}
		})
	}
}

func TestS3ArchiverSkipsEmptyRun(t *testing.T) {
	client := &fakeS3{}
	archiver, _ := NewS3ArchiverWithClient(S3Config{Bucket: "b"}, client)

	run := testRun()
	run.Events = nil
	key, err := archiver.Archive(context.Background(), run)
	if err != nil || key != "" {
		t.Errorf("expected skip, got key=%q err=%v", key, err)
	}
	if len(client.inputs) != 0 {
		t.Error("expected no upload")
	}
}

func TestS3ArchiverUploadError(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	archiver, _ := NewS3ArchiverWithClient(S3Config{Bucket: "b"}, client)

	if _, err := archiver.Archive(context.Background(), testRun()); err == nil {
		t.Fatal("expected upload error")
	}
	if client.calls != 1 {
		t.Errorf("expected a single upload attempt, got %d", client.calls)
	}
}

func TestS3ArchiverRetriesUpload(t *testing.T) {
	client := &fakeS3{failures: 2}
	archiver, err := NewS3ArchiverWithClient(S3Config{
		Bucket:       "b",
		Compression:  CompressionNone,
		Attempts:     3,
		RetryBackoff: time.Millisecond,
	}, client)
	if err != nil {
		t.Fatalf("failed to create archiver: %v", err)
	}

	key, err := archiver.Archive(context.Background(), testRun())
	if err != nil {
		t.Fatalf("expected the third attempt to succeed: %v", err)
	}
	if key == "" || client.calls != 3 {
		t.Errorf("key=%q calls=%d", key, client.calls)
	}

	// Every attempt must send the full body
	lines := bytes.Count(client.bodies[0], []byte("\n"))
	if lines != len(testRun().Events) {
		t.Errorf("retried body has %d lines, want %d", lines, len(testRun().Events))
	}
}

func TestS3ArchiverGivesUpAfterAttempts(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	archiver, _ := NewS3ArchiverWithClient(S3Config{Bucket: "b", Attempts: 2, RetryBackoff: time.Millisecond}, client)

	if _, err := archiver.Archive(context.Background(), testRun()); err == nil {
		t.Fatal("expected upload error")
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
}

func TestGetCompressorUnknown(t *testing.T) {
	if _, err := GetCompressor("lz4"); err == nil {
		t.Error("expected error for unsupported compression")
	}
}

func responseError(code int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      errors.New(http.StatusText(code)),
	}
}

func TestS3ArchiverStatusRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"forbidden is not retried", responseError(http.StatusForbidden), 1},
		{"missing bucket is not retried", responseError(http.StatusNotFound), 1},
		{"throttled is retried", responseError(http.StatusTooManyRequests), 3},
		{"request timeout is retried", responseError(http.StatusRequestTimeout), 3},
		{"server error is retried", responseError(http.StatusServiceUnavailable), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeS3{err: tt.err}
			archiver, err := NewS3ArchiverWithClient(S3Config{Bucket: "b", Attempts: 3, RetryBackoff: time.Millisecond}, client)
			if err != nil {
				t.Fatalf("failed to create archiver: %v", err)
			}

			_, err = archiver.Archive(context.Background(), testRun())
			if err == nil {
				t.Fatal("expected upload error")
			}
			var re *smithyhttp.ResponseError
			if !errors.As(err, &re) {
				t.Errorf("expected the response error to be wrapped, got %v", err)
			}
			if client.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", client.calls, tt.wantCalls)
			}
		})
	}
}
