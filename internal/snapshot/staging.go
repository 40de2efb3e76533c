package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// StagingRoot is the uniquely named temporary directory one run stages
// into. It is exclusively owned by that run and removed on every exit
// path; removal failure is logged but never changes the run's verdict.
type StagingRoot struct {
	path   string
	logger *slog.Logger
}

// NewStagingRoot creates the staging directory under parent, or under
// the system temporary directory when parent is empty. The run ID keeps
// concurrent runs from ever sharing a staging path.
func NewStagingRoot(parent, runID string, logger *slog.Logger) (*StagingRoot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if parent == "" {
		parent = os.TempDir()
	}

	path := filepath.Join(parent, "masfimg-"+runID)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging root %s: %w", path, err)
	}

	logger.Debug("staging root created", "path", path)
	return &StagingRoot{path: path, logger: logger}, nil
}

// Path returns the staging root directory.
func (s *StagingRoot) Path() string { return s.path }

// Remove tears down the staging tree. Safe to call more than once.
func (s *StagingRoot) Remove() {
	if s.path == "" {
		return
	}
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove staging root", "path", s.path, "error", err)
		return
	}
	s.logger.Debug("staging root removed", "path", s.path)
	s.path = ""
}
