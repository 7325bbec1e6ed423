package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesRunDir(t *testing.T) {
	dir := t.TempDir()
	store, err := New("run-123", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.BaseDir != filepath.Join(dir, "runs", "run-123") {
		t.Errorf("unexpected base dir %q", store.BaseDir)
	}
	info, err := os.Stat(store.BaseDir)
	if err != nil {
		t.Fatalf("run dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected run dir to be a directory")
	}
}

func TestNewRejectsEmptyRunID(t *testing.T) {
	if _, err := New("", t.TempDir()); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestWritePlan(t *testing.T) {
	store, _ := New("run-456", t.TempDir())

	if err := store.WritePlan("orders.yml", []byte("task: x\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.BaseDir, "plan.yml"))
	if err != nil {
		t.Fatalf("plan not written: %v", err)
	}
	if string(data) != "task: x\n" {
		t.Errorf("unexpected plan copy %q", string(data))
	}
}

func TestWriteAndReadResult(t *testing.T) {
	dir := t.TempDir()
	store, _ := New("run-789", dir)

	result := map[string]any{"success": true, "context": map[string]any{"status": "pending"}}
	if err := store.WriteResult(result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Success bool           `json:"success"`
		Context map[string]any `json:"context"`
	}
	if err := ReadResult(dir, "run-789", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Success || got.Context["status"] != "pending" {
		t.Errorf("unexpected result %+v", got)
	}
	if err := ReadResult(dir, "missing", &got); err == nil {
		t.Error("expected error for missing run")
	}
}
