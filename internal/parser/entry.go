package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Keys used by the agent's line format
const (
	keySubsystem = "0"
	keyMessage   = "1"
	keyTime      = "time"
	keyMeta      = "_meta"
	keyMetaDate  = "date"
	keyMetaLevel = "logLevelName"
)

// ErrNotObject is returned when a line is valid JSON but not an object
var ErrNotObject = errors.New("log line is not a JSON object")

// DecodeEntry decodes one agent log line. Any shape mismatch (not an
// object, or a known key holding a non-string value) is an error; callers
// treat that as "skip this line". The subsystem is the exception: a
// non-string value there decodes as "".
func DecodeEntry(line string) (*types.Entry, error) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode log line: %w", err)
	}

	entry := &types.Entry{}
	var err error

	if entry.Subsystem, err = optionalString(fields, keySubsystem); err != nil {
		entry.Subsystem = ""
	}
	if entry.Message, err = optionalString(fields, keyMessage); err != nil {
		return nil, err
	}
	if entry.Time, err = optionalString(fields, keyTime); err != nil {
		return nil, err
	}

	raw, ok := fields[keyMeta]
	if !ok || isNull(raw) {
		return entry, nil
	}

	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil || meta == nil {
		return nil, fmt.Errorf("field %q is not an object", keyMeta)
	}

	entry.Meta = &types.EntryMeta{}
	if entry.Meta.Date, err = optionalString(meta, keyMetaDate); err != nil {
		return nil, err
	}
	if entry.Meta.Level, err = optionalString(meta, keyMetaLevel); err != nil {
		return nil, err
	}

	return entry, nil
}

// optionalString returns the string at key, "" when absent or null
func optionalString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
