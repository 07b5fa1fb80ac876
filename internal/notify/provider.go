package notify

import "time"

// Provider defines the notification contract for scrub run events.
// This interface allows for different notification backends and enables
// testing through mock implementations.
type Provider interface {
	// ScrubStarted sends notification when a run starts.
	ScrubStarted(runID, sourceDB, destDB string) error

	// ScrubCompleted sends notification when a run writes its sanitized dump.
	ScrubCompleted(runID string, startTime time.Time, duration time.Duration, collections int, matched, modified int64, dumpDir string) error

	// ScrubFailed sends notification when a run fails.
	ScrubFailed(runID, kind string, err error, duration time.Duration) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
