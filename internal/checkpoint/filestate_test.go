package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileState_RunLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	stateFile := filepath.Join(tmpDir, "state.yaml")

	fs, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}

	err = fs.CreateRun("test123", "devex@localhost:27017", "devexbackup@localhost:27017", map[string]string{"key": "value"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		t.Fatal("state file not created")
	}

	if err := fs.UpdatePhase("test123", "imported"); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	if err := fs.RecordCollection("test123", CollectionResult{Collection: "users", Matched: 1, Modified: 1, Status: StatusSuccess}); err != nil {
		t.Fatalf("RecordCollection: %v", err)
	}
	if err := fs.RecordCollection("test123", CollectionResult{Collection: "users", Matched: 2, Modified: 2, Status: StatusSuccess}); err != nil {
		t.Fatalf("RecordCollection: %v", err)
	}
	if err := fs.CompleteRun("test123", StatusSuccess, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	data, _ := os.ReadFile(stateFile)
	if !strings.Contains(string(data), "config_hash:") {
		t.Errorf("state file should record a config hash:\n%s", data)
	}

	// Reload from disk
	fs2, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState reload: %v", err)
	}

	run, err := fs2.GetRunByID("test123")
	if err != nil {
		t.Fatalf("GetRunByID: %v", err)
	}
	if run == nil {
		t.Fatal("expected run after reload")
	}
	if run.Status != StatusSuccess || run.Phase != "imported" || run.CompletedAt == nil {
		t.Errorf("run = %+v", run)
	}

	results, err := fs2.GetCollectionResults("test123")
	if err != nil {
		t.Fatalf("GetCollectionResults: %v", err)
	}
	if len(results) != 1 || results[0].Matched != 2 {
		t.Errorf("results = %+v", results)
	}

	runs, _ := fs2.GetAllRuns()
	if len(runs) != 1 {
		t.Errorf("GetAllRuns = %d runs, want 1", len(runs))
	}
}

func TestFileState_RunIDMismatch(t *testing.T) {
	fs, err := NewFileState(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	if err := fs.CreateRun("a", "s", "d", nil); err != nil {
		t.Fatal(err)
	}

	if err := fs.CompleteRun("b", StatusSuccess, ""); err == nil {
		t.Error("expected mismatch error")
	}
	if err := fs.RecordCollection("b", CollectionResult{Collection: "x"}); err == nil {
		t.Error("expected mismatch error")
	}
	if run, _ := fs.GetRunByID("b"); run != nil {
		t.Errorf("GetRunByID(b) = %+v, want nil", run)
	}
}

func TestFileState_Empty(t *testing.T) {
	fs, err := NewFileState(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	runs, err := fs.GetAllRuns()
	if err != nil || len(runs) != 0 {
		t.Errorf("GetAllRuns = %v, %v", runs, err)
	}
}

func TestFileState_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("run_id: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileState(path); err == nil {
		t.Error("expected parse error")
	}
}
