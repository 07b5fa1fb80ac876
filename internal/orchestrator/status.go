package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/checkpoint"
	"github.com/johndauphine/mongo-scrubber/internal/scrub"
)

// RunResult summarizes a scrub run, for --output-json
type RunResult struct {
	RunID           string         `json:"run_id"`
	Status          string         `json:"status"`
	Phase           string         `json:"phase"`
	Source          string         `json:"source"`
	Destination     string         `json:"destination"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	DumpDir         string         `json:"dump_dir,omitempty"`
	Collections     []scrub.Result `json:"collections"`
	Matched         int64          `json:"documents_matched"`
	Modified        int64          `json:"documents_modified"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
}

// JSON returns the result as indented JSON
func (r *RunResult) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ShowHistory displays recent scrub runs
func (o *Orchestrator) ShowHistory() error {
	runs, err := o.state.GetAllRuns()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No scrub history")
		return nil
	}

	fmt.Printf("%-10s %-20s %-20s %-10s %-12s\n", "ID", "Started", "Completed", "Status", "Phase")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-20s %-20s %-10s %-12s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status, r.Phase)
		if r.Error != "" {
			fmt.Printf("           Error: %s\n", truncate(r.Error, 100))
		}
	}

	fmt.Println("\nUse 'history --run <ID>' to view collection results")
	return nil
}

// ShowRunDetails displays a run and its per-collection results
func (o *Orchestrator) ShowRunDetails(runID string) error {
	run, err := o.state.GetRunByID(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	fmt.Printf("Run:         %s\n", run.ID)
	fmt.Printf("Status:      %s (%s)\n", run.Status, run.Phase)
	fmt.Printf("Source:      %s\n", run.Source)
	fmt.Printf("Destination: %s\n", run.Destination)
	fmt.Printf("Started:     %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("Completed:   %s (%s)\n", run.CompletedAt.Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Printf("Error:       %s\n", run.Error)
	}

	results, err := o.state.GetCollectionResults(run.ID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("\nNo collections scrubbed")
		return nil
	}

	fmt.Printf("\n%-24s %-8s %10s %10s  %s\n", "Collection", "Status", "Matched", "Modified", "Error")
	for _, r := range results {
		fmt.Printf("%-24s %s %-6s %10d %10d  %s\n",
			r.Collection, statusIcon(r.Status), r.Status, r.Matched, r.Modified, truncate(r.Error, 40))
	}
	return nil
}

// History returns recent runs, newest first
func (o *Orchestrator) History() ([]checkpoint.Run, error) {
	return o.state.GetAllRuns()
}

// CollectionResults returns the recorded collection outcomes of a run
func (o *Orchestrator) CollectionResults(runID string) ([]checkpoint.CollectionResult, error) {
	return o.state.GetCollectionResults(runID)
}

func statusIcon(status string) string {
	switch status {
	case checkpoint.StatusSuccess:
		return "✓"
	case checkpoint.StatusFailed:
		return "✗"
	case checkpoint.StatusRunning:
		return "►"
	default:
		return " "
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// PruneHistory deletes finished runs older than days. Only the SQLite
// backend keeps more than one run.
func (o *Orchestrator) PruneHistory(days int) (int64, error) {
	pruner, ok := o.state.(interface {
		CleanupOldRuns(retentionDays int) (int64, error)
	})
	if !ok {
		return 0, fmt.Errorf("history backend does not support pruning")
	}
	return pruner.CleanupOldRuns(days)
}
