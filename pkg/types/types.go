package types

import "time"

// Category is the coarse class of a normalized event
type Category string

const (
	CategoryConversation Category = "conversation"
	CategoryExec         Category = "exec"
	CategoryFile         Category = "file"
	CategoryAPI          Category = "api"
	CategoryDeploy       Category = "deploy"
	CategoryCost         Category = "cost"
	CategoryError        Category = "error"
	CategorySystem       Category = "system"
)

// Categories lists every known category in declaration order
var Categories = []Category{
	CategoryConversation,
	CategoryExec,
	CategoryFile,
	CategoryAPI,
	CategoryDeploy,
	CategoryCost,
	CategoryError,
	CategorySystem,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Event is one meaningful occurrence extracted from a raw log line
type Event struct {
	Category  Category       `json:"category"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	Timestamp string         `json:"timestamp"`
}

// Entry is a decoded agent log line
type Entry struct {
	Subsystem string
	Message   string
	Time      string
	Meta      *EntryMeta
}

// EntryMeta is the producer's metadata block
type EntryMeta struct {
	Date  string
	Level string
}

// Checkpoint is the per-file watermark persisted between runs
type Checkpoint struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Timestamp string `json:"timestamp"`
}

// IsZero reports whether no checkpoint has been recorded
func (c Checkpoint) IsZero() bool {
	return c == Checkpoint{}
}

// LogRecord is an event as persisted by the logging API
type LogRecord struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Category   Category       `json:"category"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	SessionID  *string        `json:"session_id"`
	DurationMS *int64         `json:"duration_ms"`
	Cost       *float64       `json:"cost"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CostEntry is one row of the daily cost aggregate table
type CostEntry struct {
	Date    string  `json:"date"`
	Service string  `json:"service"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
}

// CostSummary is the per service and metric total for one day
type CostSummary struct {
	Service string  `json:"service"`
	Metric  string  `json:"metric"`
	Total   float64 `json:"total"`
	Unit    string  `json:"unit,omitempty"`
}
