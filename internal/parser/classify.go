package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Markers looked for in the message text
const (
	markerToolStart   = "tool start:"
	markerToolEnd     = "tool end:"
	markerRunComplete = "run complete"
	markerModelUsage  = "model.usage"
	markerTokens      = "tokens"
)

// levelError is the only logLevelName the error rule accepts. Other
// severities and casings are not classified.
const levelError = "ERROR"

var toolPattern = regexp.MustCompile(`tool=(\w+) toolCallId=(\S+)`)

// rule inspects a decoded entry and returns a category, action and details
// when it fires.
type rule struct {
	name  string
	match func(e *types.Entry) (types.Category, string, map[string]any, bool)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{name: "tool-start", match: toolRule(markerToolStart, "start")},
	{name: "tool-end", match: toolRule(markerToolEnd, "end")},
	{name: "run-complete", match: func(e *types.Entry) (types.Category, string, map[string]any, bool) {
		if !strings.Contains(e.Message, markerRunComplete) {
			return "", "", nil, false
		}
		return types.CategoryConversation, "run:complete", map[string]any{"raw": e.Message}, true
	}},
	{name: "model-usage", match: func(e *types.Entry) (types.Category, string, map[string]any, bool) {
		if !strings.Contains(e.Message, markerModelUsage) && !strings.Contains(e.Message, markerTokens) {
			return "", "", nil, false
		}
		return types.CategoryCost, "model:usage", map[string]any{"raw": e.Message}, true
	}},
	{name: "error-level", match: func(e *types.Entry) (types.Category, string, map[string]any, bool) {
		if e.Meta == nil || e.Meta.Level != levelError {
			return "", "", nil, false
		}
		return types.CategoryError, "error", map[string]any{
			"raw":       e.Message,
			"subsystem": e.Subsystem,
		}, true
	}},
}

func toolRule(marker, phase string) func(e *types.Entry) (types.Category, string, map[string]any, bool) {
	return func(e *types.Entry) (types.Category, string, map[string]any, bool) {
		if !strings.Contains(e.Message, marker) {
			return "", "", nil, false
		}
		m := toolPattern.FindStringSubmatch(e.Message)
		if m == nil {
			return "", "", nil, false
		}
		return types.CategoryExec, "tool:" + m[1] + ":" + phase, map[string]any{
			"toolCallId": m[2],
			"raw":        e.Message,
		}, true
	}
}

// Classifier turns raw log lines into normalized events
type Classifier struct {
	now func() time.Time
}

// NewClassifier creates a classifier. now supplies the fallback timestamp
// for entries that carry none; nil means time.Now.
func NewClassifier(now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{now: now}
}

// Classify maps one raw line to an event. It never panics: undecodable
// lines and lines matching no rule report false.
func (c *Classifier) Classify(line string) (event *types.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			event, ok = nil, false
		}
	}()

	entry, err := DecodeEntry(line)
	if err != nil {
		return nil, false
	}

	return c.ClassifyEntry(entry)
}

// ClassifyEntry applies the rule set to an already decoded entry
func (c *Classifier) ClassifyEntry(entry *types.Entry) (*types.Event, bool) {
	if entry == nil {
		return nil, false
	}

	for _, r := range rules {
		category, action, details, ok := r.match(entry)
		if !ok {
			continue
		}
		return &types.Event{
			Category:  category,
			Action:    action,
			Details:   details,
			Timestamp: c.timestamp(entry),
		}, true
	}

	return nil, false
}

func (c *Classifier) timestamp(entry *types.Entry) string {
	if entry.Time != "" {
		return entry.Time
	}
	if entry.Meta != nil && entry.Meta.Date != "" {
		return entry.Meta.Date
	}
	return FormatTimestamp(c.now())
}

var defaultClassifier = NewClassifier(nil)

// Classify classifies line with the wall clock as timestamp fallback
func Classify(line string) (*types.Event, bool) {
	return defaultClassifier.Classify(line)
}
