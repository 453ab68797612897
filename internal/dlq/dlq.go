// Package dlq records events whose primary delivery failed so they can be
// replayed out of band.
package dlq

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// ErrClosed is returned when writing to a closed queue
var ErrClosed = errors.New("dead letter queue is closed")

// Entry is one dead-lettered event
type Entry struct {
	Event    *types.Event `json:"event"`
	Error    string       `json:"error"`
	FailedAt time.Time    `json:"failed_at"`
	Attempts int          `json:"attempts"`
	Source   string       `json:"source,omitempty"`
}

// Queue is an append-only JSONL file of failed deliveries
type Queue struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	closed bool
	now    func() time.Time
}

// Open opens (creating if needed) the dead letter file at path
func Open(path string) (*Queue, error) {
	if path == "" {
		return nil, fmt.Errorf("dead letter path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
	}

	q := &Queue{path: path, now: time.Now}
	if err := q.openFile(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) openFile() error {
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open dead letter file: %w", err)
	}
	q.file = f
	return nil
}

// Path returns the dead letter file location
func (q *Queue) Path() string {
	return q.path
}

// Enqueue appends a failed event
func (q *Queue) Enqueue(event *types.Event, cause error, source string) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.write(Entry{
		Event:    event,
		Error:    msg,
		FailedAt: q.now().UTC(),
		Attempts: 1,
		Source:   source,
	})
}

func (q *Queue) write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	data = append(data, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, err := q.file.Write(data); err != nil {
		return fmt.Errorf("failed to write dead letter: %w", err)
	}
	return nil
}

// Entries reads every stored entry. Unparseable lines are skipped and
// counted.
func (q *Queue) Entries() ([]Entry, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read dead letter file: %w", err)
	}

	var entries []Entry
	skipped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Event == nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to scan dead letter file: %w", err)
	}

	return entries, skipped, nil
}

// Replace atomically rewrites the file with entries
func (q *Queue) Replace(entries []Entry) error {
	var buf bytes.Buffer
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal dead letter: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write dead letter file: %w", err)
	}

	// Reopen so later appends land in the new file
	q.file.Close()
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		if reopenErr := q.openFile(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return fmt.Errorf("failed to rename dead letter file: %w", err)
	}
	return q.openFile()
}

// Close closes the queue
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.file.Close()
}
