package checkpoint

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run represents one scrub run
type Run struct {
	ID          string     `json:"id" yaml:"run_id"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      string     `json:"status" yaml:"status"`
	Phase       string     `json:"phase" yaml:"phase"`
	Source      string     `json:"source" yaml:"source"`
	Destination string     `json:"destination" yaml:"destination"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	Config      string     `json:"-" yaml:"config,omitempty"`
}

// CollectionResult is the outcome of scrubbing one collection in a run
type CollectionResult struct {
	Collection string `json:"collection" yaml:"collection"`
	Matched    int64  `json:"matched" yaml:"matched"`
	Modified   int64  `json:"modified" yaml:"modified"`
	Status     string `json:"status" yaml:"status"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StateBackend defines the interface for run history persistence.
// Implementations are SQLite (full history) and a single YAML file
// (last run only, for schedulers that collect files).
type StateBackend interface {
	// Run management
	CreateRun(id, source, destination string, config any) error
	UpdatePhase(runID, phase string) error
	CompleteRun(id, status, errorMsg string) error

	// Per-collection results
	RecordCollection(runID string, result CollectionResult) error
	GetCollectionResults(runID string) ([]CollectionResult, error)

	// History
	GetAllRuns() ([]Run, error)
	GetRunByID(runID string) (*Run, error)

	// Lifecycle
	Close() error
}

// Ensure both backends implement StateBackend
var (
	_ StateBackend = (*State)(nil)
	_ StateBackend = (*FileState)(nil)
)
