package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/archive"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/config"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/dlq"
	"github.com/therealutkarshpriyadarshi/clawsync/internal/syncer"
)

const (
	lineToolStart = `{"0":"agent","1":"tool start: tool=exec toolCallId=call_1","time":"2026-10-14T10:00:00.000Z"}`
	lineToolEnd   = `{"0":"agent","1":"tool end: tool=exec toolCallId=call_1","time":"2026-10-14T10:00:01.000Z"}`
)

// apiStub stands in for the logging API
type apiStub struct {
	mu      sync.Mutex
	status  int
	actions []string
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, body.Action)
	w.WriteHeader(s.status)
}

func (s *apiStub) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *apiStub) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

type cliFixture struct {
	dir        string
	logFile    string
	statePath  string
	deadLetter string
	configPath string
	api        *apiStub
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Setenv(config.EnvEndpoint, "")
	t.Setenv("CLAWSYNC_CONFIG", "")

	api := &apiStub{status: http.StatusOK}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := &cliFixture{
		dir:        dir,
		logFile:    syncer.FilePath(dir, config.DefaultFilePrefix, time.Now()),
		statePath:  filepath.Join(dir, "state", "sync.json"),
		deadLetter: filepath.Join(dir, "dead-letters.jsonl"),
		configPath: filepath.Join(dir, "config.yaml"),
		api:        api,
	}
	f.writeConfig(t, srv.URL+"/api/logs", f.statePath)
	return f
}

func (f *cliFixture) writeConfig(t *testing.T, endpoint, statePath string) {
	t.Helper()
	cfg := strings.Join([]string{
		"logging:",
		"  level: error",
		"sync:",
		"  endpoint: " + endpoint,
		"  log_dir: " + f.dir,
		"  checkpoint_path: " + statePath,
		"  dead_letter_path: " + f.deadLetter,
		"",
	}, "\n")
	if err := os.WriteFile(f.configPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func (f *cliFixture) writeLog(t *testing.T, lines ...string) {
	t.Helper()
	if err := os.WriteFile(f.logFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestSyncCommand(t *testing.T) {
	f := newCLIFixture(t)
	f.writeLog(t, lineToolStart, "", lineToolEnd)

	out, err := execute(t, "sync", "--config", f.configPath)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	want := "Processing 2 new lines from " + f.logFile + "\nSynced 2 log entries\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	got := f.api.received()
	if len(got) != 2 || got[0] != "tool:exec:start" || got[1] != "tool:exec:end" {
		t.Errorf("unexpected deliveries %v", got)
	}

	cp := checkpoint.NewStore(f.statePath, nil).Load()
	if cp.File != f.logFile || cp.Line != 2 {
		t.Errorf("unexpected checkpoint %+v", cp)
	}

	// Nothing new on the second run
	out, err = execute(t, "sync", "--config", f.configPath)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if want := "Processing 0 new lines from " + f.logFile + "\nSynced 0 log entries\n"; out != want {
		t.Errorf("idle run output = %q, want %q", out, want)
	}
	if n := len(f.api.received()); n != 2 {
		t.Errorf("Expected no new deliveries, got %d total", n)
	}
}

func TestSyncCommandMissingFile(t *testing.T) {
	f := newCLIFixture(t)

	out, err := execute(t, "sync", "--config", f.configPath)
	if err != nil {
		t.Fatalf("Missing log file should not fail: %v", err)
	}
	if out != "Log file not found: "+f.logFile+"\n" {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(f.statePath); !os.IsNotExist(err) {
		t.Error("Checkpoint should not be written when the log file is missing")
	}
}

func TestSyncCommandCheckpointFailure(t *testing.T) {
	f := newCLIFixture(t)
	f.writeLog(t, lineToolStart)

	// A regular file where the checkpoint directory should be
	blocker := filepath.Join(f.dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	f.writeConfig(t, "http://127.0.0.1:1/api/logs", filepath.Join(blocker, "sync.json"))

	if _, err := execute(t, "sync", "--config", f.configPath); err == nil {
		t.Fatal("Expected an error when the checkpoint cannot be written")
	}
}

func TestReplayCommand(t *testing.T) {
	f := newCLIFixture(t)
	f.writeLog(t, lineToolStart, lineToolEnd)

	f.api.setStatus(http.StatusInternalServerError)
	out, err := execute(t, "sync", "--config", f.configPath)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !strings.Contains(out, "Synced 0 log entries") {
		t.Errorf("unexpected output %q", out)
	}

	f.api.setStatus(http.StatusOK)
	out, err = execute(t, "replay", "--config", f.configPath)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if out != "Replayed 2 dead letters: 2 delivered, 0 remaining\n" {
		t.Errorf("unexpected output %q", out)
	}

	queue, err := dlq.Open(f.deadLetter)
	if err != nil {
		t.Fatalf("Failed to open dead letters: %v", err)
	}
	defer queue.Close()
	entries, _, err := queue.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected an empty dead letter file, got %d entries", len(entries))
	}
}

func TestReplayCommandWithoutDeadLetterFile(t *testing.T) {
	t.Setenv(config.EnvEndpoint, "")
	t.Setenv("CLAWSYNC_CONFIG", "")

	_, err := execute(t, "replay", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, errNoDeadLetters) {
		t.Errorf("Expected errNoDeadLetters, got %v", err)
	}
}

func TestLogFlagsOverrideConfig(t *testing.T) {
	f := newCLIFixture(t)

	if _, err := execute(t, "sync", "--config", f.configPath, "--log-level", "verbose"); err == nil {
		t.Error("Expected an invalid --log-level to be rejected")
	}
	if _, err := execute(t, "sync", "--config", f.configPath, "--log-format", "console", "--log-level", "debug"); err != nil {
		t.Errorf("Valid log flags rejected: %v", err)
	}
}

func TestMirrorAndArchiveConfigMapping(t *testing.T) {
	kafka := kafkaConfig(&config.KafkaConfig{Brokers: []string{"kafka:9092"}, Topic: "events"})
	if kafka.Topic != "events" || kafka.Brokers[0] != "kafka:9092" {
		t.Errorf("unexpected kafka config %+v", kafka)
	}
	if kafka.RequiredAcks != 1 || kafka.ClientID != "clawsync" {
		t.Errorf("kafka defaults not applied: %+v", kafka)
	}

	es := elasticsearchConfig(&config.ElasticsearchConfig{Addresses: []string{"http://es:9200"}})
	if es.Index != "openclaw-events" || es.IndexRotation != "daily" {
		t.Errorf("elasticsearch defaults not applied: %+v", es)
	}

	s3 := s3Config(&config.S3Config{Bucket: "logs", Compression: "gzip"})
	if s3.Bucket != "logs" || s3.Compression != archive.CompressionGzip {
		t.Errorf("unexpected s3 config %+v", s3)
	}
	if s3.Region != "us-east-1" || s3.Prefix != "openclaw/" {
		t.Errorf("s3 defaults not applied: %+v", s3)
	}
}
