package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/clawsync/internal/logging"
	"github.com/therealutkarshpriyadarshi/clawsync/pkg/types"
)

// Store persists the sync watermark as a single JSON file.
//
// A Store assumes it is the only writer for its path; two synchronizers
// sharing one checkpoint file will race.
type Store struct {
	path   string
	logger *logging.Logger
}

// NewStore creates a checkpoint store backed by path
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		path:   path,
		logger: logger.WithComponent("checkpoint"),
	}
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted checkpoint. A missing, unreadable or corrupt
// file yields the zero checkpoint so the current file is read from the top.
func (s *Store) Load() types.Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read checkpoint, starting fresh")
		}
		return types.Checkpoint{}
	}

	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Corrupt checkpoint, starting fresh")
		return types.Checkpoint{}
	}

	if cp.Line < 0 {
		s.logger.Warn().Int("line", cp.Line).Str("path", s.path).Msg("Negative checkpoint line, starting fresh")
		return types.Checkpoint{}
	}

	return cp
}

// Save overwrites the checkpoint file
func (s *Store) Save(cp types.Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	// Write to temporary file first, then rename for atomicity
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}
