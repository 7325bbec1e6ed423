package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store manages the artifacts of one run.
type Store struct {
	RunID   string
	BaseDir string // <dir>/runs/<run_id>
}

// New creates a store for runID rooted at dir.
func New(runID, dir string) (*Store, error) {
	if runID == "" {
		return nil, fmt.Errorf("creating artifact dir: empty run id")
	}
	base := filepath.Join(dir, "runs", runID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Store{RunID: runID, BaseDir: base}, nil
}

// WritePlan keeps a copy of the plan source next to its result.
func (s *Store) WritePlan(name string, source []byte) error {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".yaml"
	}
	return os.WriteFile(filepath.Join(s.BaseDir, "plan"+ext), source, 0o644)
}

// WriteResult writes the final result JSON.
func (s *Store) WriteResult(result any) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.ResultPath(), data, 0o644)
}

func (s *Store) ResultPath() string {
	return filepath.Join(s.BaseDir, "result.json")
}

// ReadResult decodes a stored result into out.
func ReadResult(dir, runID string, out any) error {
	data, err := os.ReadFile(filepath.Join(dir, "runs", runID, "result.json"))
	if err != nil {
		return fmt.Errorf("reading result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}
