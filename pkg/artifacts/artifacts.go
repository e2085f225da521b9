// Package artifacts owns the on-disk artifact tree under the data directory:
// patches, verify reports, plan files, and ledger exports. Every file is
// written 0600.
package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/trcoder/trcoder/pkg/types"
)

// EnvDataDir overrides the default data directory (~/.trcoder)
const EnvDataDir = "TRCODER_DATA_DIR"

// DefaultDataDir returns the data directory, honoring TRCODER_DATA_DIR
func DefaultDataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".trcoder"), nil
}

// Store writes run artifacts under the data directory
type Store struct {
	root string
}

// NewStore creates an artifact store rooted at dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the data directory
func (s *Store) Root() string {
	return s.root
}

// RunDir returns (creating if needed) the artifact directory for a run
func (s *Store) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.root, "runs", runID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create run dir: %w", err)
	}
	return dir, nil
}

// WritePatch persists a task's patch text and returns its path
func (s *Store) WritePatch(runID, taskID, patch string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.patch", taskID))
	if err := os.WriteFile(path, []byte(patch), 0600); err != nil {
		return "", fmt.Errorf("failed to write patch: %w", err)
	}
	return path, nil
}

// ReadPatch loads a previously written patch
func (s *Store) ReadPatch(runID, taskID string) (string, error) {
	dir := filepath.Join(s.root, "runs", runID)
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%s.patch", taskID)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteVerifyReport persists a Markdown verify report and returns its path.
// Reports are timestamped so repeated verifies never overwrite each other.
func (s *Store) WriteVerifyReport(runID, report string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("verify-%s.md", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(report), 0600); err != nil {
		return "", fmt.Errorf("failed to write verify report: %w", err)
	}
	return path, nil
}

// WritePlanFile persists an attached plan input file for a project
func (s *Store) WritePlanFile(projectID, name, content string) (string, error) {
	dir := filepath.Join(s.root, "plans", projectID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create plan dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write plan file: %w", err)
	}
	return path, nil
}

// ExportLedger streams events as JSON lines, oldest first
func ExportLedger(w io.Writer, events []*types.LedgerEvent) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
