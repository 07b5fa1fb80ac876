package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements StateBackend using a single YAML file.
// Designed for cron and container environments where SQLite is impractical.
// Only the latest run is kept.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	RunID       string             `yaml:"run_id"`
	StartedAt   time.Time          `yaml:"started_at"`
	CompletedAt *time.Time         `yaml:"completed_at,omitempty"`
	Status      string             `yaml:"status"` // running, success, failed
	Phase       string             `yaml:"phase"`
	Error       string             `yaml:"error,omitempty"`
	Source      string             `yaml:"source"`
	Destination string             `yaml:"destination"`
	ConfigHash  string             `yaml:"config_hash,omitempty"`
	Collections []CollectionResult `yaml:"collections"`
}

// NewFileState creates a file-based state manager.
// If the file exists, it loads the existing state.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path:  path,
		state: &fileStateData{},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
	}

	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func (fs *FileState) checkRun(id string) error {
	if fs.state.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, id)
	}
	return nil
}

// CreateRun replaces the file contents with a new run.
func (fs *FileState) CreateRun(id, source, destination string, config any) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Config hash lets operators spot a changed configuration between runs
	configJSON, _ := json.Marshal(config)
	hash := sha256.Sum256(configJSON)

	fs.state = &fileStateData{
		RunID:       id,
		StartedAt:   time.Now(),
		Status:      StatusRunning,
		Phase:       "idle",
		Source:      source,
		Destination: destination,
		ConfigHash:  hex.EncodeToString(hash[:8]),
	}

	return fs.save()
}

// UpdatePhase records the pipeline phase.
func (fs *FileState) UpdatePhase(runID, phase string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkRun(runID); err != nil {
		return err
	}
	fs.state.Phase = phase
	return fs.save()
}

// CompleteRun marks the run as complete.
func (fs *FileState) CompleteRun(id, status, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkRun(id); err != nil {
		return err
	}

	now := time.Now()
	fs.state.Status = status
	fs.state.CompletedAt = &now
	fs.state.Error = errorMsg

	return fs.save()
}

// RecordCollection adds or replaces the result for one collection.
func (fs *FileState) RecordCollection(runID string, result CollectionResult) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkRun(runID); err != nil {
		return err
	}
	for i, existing := range fs.state.Collections {
		if existing.Collection == result.Collection {
			fs.state.Collections[i] = result
			return fs.save()
		}
	}
	fs.state.Collections = append(fs.state.Collections, result)
	return fs.save()
}

// GetCollectionResults returns the recorded collections of the current run.
func (fs *FileState) GetCollectionResults(runID string) ([]CollectionResult, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID != runID {
		return nil, nil
	}
	out := make([]CollectionResult, len(fs.state.Collections))
	copy(out, fs.state.Collections)
	return out, nil
}

// GetAllRuns returns the single run held by the file, if any.
func (fs *FileState) GetAllRuns() ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" {
		return nil, nil
	}
	return []Run{fs.run()}, nil
}

// GetRunByID returns the run if it is the one held by the file.
func (fs *FileState) GetRunByID(runID string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" || fs.state.RunID != runID {
		return nil, nil
	}
	r := fs.run()
	return &r, nil
}

func (fs *FileState) run() Run {
	return Run{
		ID:          fs.state.RunID,
		StartedAt:   fs.state.StartedAt,
		CompletedAt: fs.state.CompletedAt,
		Status:      fs.state.Status,
		Phase:       fs.state.Phase,
		Source:      fs.state.Source,
		Destination: fs.state.Destination,
		Error:       fs.state.Error,
	}
}

// Close is a no-op; every change is written immediately.
func (fs *FileState) Close() error {
	return nil
}

// Path returns the state file path.
func (fs *FileState) Path() string {
	return fs.path
}
