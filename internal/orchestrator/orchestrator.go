// Package orchestrator drives a scrub run: connect, drop the stale
// destination, export, import, enumerate, scrub, re-export and clean up.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/mongo-scrubber/internal/checkpoint"
	"github.com/johndauphine/mongo-scrubber/internal/config"
	"github.com/johndauphine/mongo-scrubber/internal/fake"
	"github.com/johndauphine/mongo-scrubber/internal/logging"
	"github.com/johndauphine/mongo-scrubber/internal/notify"
	"github.com/johndauphine/mongo-scrubber/internal/policy"
	"github.com/johndauphine/mongo-scrubber/internal/progress"
	"github.com/johndauphine/mongo-scrubber/internal/scrub"
	"github.com/johndauphine/mongo-scrubber/internal/store"
	"github.com/johndauphine/mongo-scrubber/internal/transfer"
)

// Phase is a state of the run state machine
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnected  Phase = "connected"
	PhaseDropped    Phase = "dropped"
	PhaseExported   Phase = "exported"
	PhaseImported   Phase = "imported"
	PhaseEnumerated Phase = "enumerated"
	PhaseScrubbed   Phase = "scrubbed"
	PhaseReExported Phase = "re-exported"
	PhaseCleaned    Phase = "cleaned"
	PhaseFailed     Phase = "failed"
)

// cleanupTimeout bounds the best-effort drop and close on every exit path.
const cleanupTimeout = 30 * time.Second

// Connector opens a store client for a connection URI
type Connector func(ctx context.Context, uri string) (store.Client, error)

// Exporter dumps one database and returns the dump directory
type Exporter interface {
	Export(ctx context.Context, ep config.Endpoint) (string, error)
}

// Importer restores a dump directory into one database
type Importer interface {
	Import(ctx context.Context, ep config.Endpoint, dir string) error
}

// Options overrides the collaborators of an Orchestrator. Zero fields are
// built from the configuration.
type Options struct {
	Connector Connector
	Exporter  Exporter
	Importer  Importer
	State     checkpoint.StateBackend
	Notifier  notify.Provider
	Reporter  progress.Reporter
	// ProgressWriter receives the collection progress bar. Nil disables it.
	ProgressWriter io.Writer
}

// Orchestrator coordinates a scrub run
type Orchestrator struct {
	config    *config.Config
	connect   Connector
	exporter  Exporter
	importer  Importer
	state     checkpoint.StateBackend
	notifier  notify.Provider
	reporter  progress.Reporter
	barWriter io.Writer

	// run state, owned by Run
	client    store.Client
	closeOnce sync.Once
	closeErr  error
	phase     Phase
	result    *RunResult
}

// DefaultConnector connects with the MongoDB driver
func DefaultConnector(ctx context.Context, uri string) (store.Client, error) {
	return store.Connect(ctx, uri)
}

// New creates a new orchestrator. No connection is made until Run.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	o := &Orchestrator{
		config:    cfg,
		connect:   opts.Connector,
		exporter:  opts.Exporter,
		importer:  opts.Importer,
		state:     opts.State,
		notifier:  opts.Notifier,
		reporter:  opts.Reporter,
		barWriter: opts.ProgressWriter,
		phase:     PhaseIdle,
	}

	if o.connect == nil {
		o.connect = DefaultConnector
	}
	toolOpts := transfer.OptionsFromConfig(cfg.Tools)
	if o.exporter == nil {
		o.exporter = transfer.NewExporter(nil, toolOpts)
	}
	if o.importer == nil {
		o.importer = transfer.NewImporter(nil, toolOpts)
	}
	if o.notifier == nil {
		o.notifier = notify.New(&cfg.Slack)
	}
	if o.reporter == nil {
		o.reporter = &progress.NullReporter{}
	}
	if o.state == nil {
		state, err := OpenState(cfg)
		if err != nil {
			return nil, err
		}
		o.state = state
	}

	return o, nil
}

// OpenState opens the configured history backend: a YAML file when
// scrub.state_file is set, otherwise SQLite under scrub.data_dir.
func OpenState(cfg *config.Config) (checkpoint.StateBackend, error) {
	if cfg.Scrub.StateFile != "" {
		fs, err := checkpoint.NewFileState(cfg.Scrub.StateFile)
		if err != nil {
			return nil, fmt.Errorf("opening state file: %w", err)
		}
		return fs, nil
	}
	state, err := checkpoint.New(cfg.Scrub.DataDir)
	if err != nil {
		return nil, fmt.Errorf("creating state manager: %w", err)
	}
	return state, nil
}

// Close stops the progress reporter and releases the history backend.
func (o *Orchestrator) Close() {
	if o.reporter != nil {
		o.reporter.Close()
	}
	if o.state != nil {
		o.state.Close()
	}
}

// Phase returns the state the run has reached
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// Result returns the summary of the last Run, or nil before Run.
func (o *Orchestrator) Result() *RunResult {
	return o.result
}

// Generator builds the synthetic value generator for a run
func Generator(cfg *config.Config) *fake.Generator {
	return fake.New(fake.Options{
		Seed:        cfg.Scrub.Seed,
		EmailBase:   cfg.Scrub.EmailBase,
		EmailDomain: cfg.Scrub.EmailDomain,
		MaxAttempts: cfg.Scrub.MaxUniqueAttempts,
	})
}

// Table builds the field policy table for a run
func Table(cfg *config.Config, g *fake.Generator) *policy.Table {
	return policy.Default(g, cfg.Scrub.SafeCollections, cfg.Scrub.OperatorUsernames)
}

// Run executes one scrub run. It returns nil only when the sanitized dump
// was written and the destination database was dropped.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID := uuid.New().String()[:8]
	startTime := time.Now()
	src, dst := o.config.Source, o.config.Destination

	o.result = &RunResult{
		RunID:       runID,
		Status:      checkpoint.StatusRunning,
		Source:      src.Redacted(),
		Destination: dst.Redacted(),
		StartedAt:   startTime,
		Collections: []scrub.Result{},
	}
	logging.Info("Starting scrub run: %s", runID)
	logging.Info("Source: %s, destination: %s", src.Redacted(), dst.Redacted())

	if err := o.state.CreateRun(runID, src.Redacted(), dst.Redacted(), o.config.Sanitized()); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	if err := o.notifier.ScrubStarted(runID, src.Database, dst.Database); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	client, err := o.connect(ctx, dst.URI())
	if err != nil {
		// Nothing exists yet, so there is nothing to drop or close.
		return o.finish(runID, newError(KindConnection, "connecting to "+dst.Redacted(), err))
	}
	// The close guard belongs to this connection, not to the Orchestrator.
	o.client = client
	o.closeOnce = sync.Once{}
	o.closeErr = nil
	o.setPhase(runID, PhaseConnected)
	logging.Success("Connected to %s", dst.Address())

	if err := o.pipeline(ctx, runID); err != nil {
		logging.Error("Scrub failed: %v", err)
		if cleanupErr := o.cleanup(ctx); cleanupErr != nil {
			logging.Error("Cleanup after failure also failed: %v", cleanupErr)
			err = errors.Join(err, newError(KindCleanup, "cleaning up after failure", cleanupErr))
		} else {
			logging.Info("Dropped %s after failure", dst.Database)
		}
		return o.finish(runID, err)
	}

	if err := o.cleanup(ctx); err != nil {
		return o.finish(runID, newError(KindCleanup, "dropping "+dst.Database, err))
	}
	o.setPhase(runID, PhaseCleaned)
	logging.Success("Dropped %s", dst.Database)
	return o.finish(runID, nil)
}

// pipeline runs every stage between Connected and ReExported.
func (o *Orchestrator) pipeline(ctx context.Context, runID string) error {
	src, dst := o.config.Source, o.config.Destination
	db := o.client.Database(dst.Database)

	logging.Info("Dropping stale %s", dst.Database)
	if err := db.Drop(ctx); err != nil {
		return newError(KindPrepare, "dropping stale "+dst.Database, err)
	}
	o.setPhase(runID, PhaseDropped)

	dumpDir, err := o.exporter.Export(ctx, src)
	if err != nil {
		return newError(KindExport, "exporting "+src.Database, err)
	}
	o.setPhase(runID, PhaseExported)

	if err := o.importer.Import(ctx, dst, dumpDir); err != nil {
		return newError(KindImport, "importing into "+dst.Database, err)
	}
	o.setPhase(runID, PhaseImported)

	names, err := db.CollectionNames(ctx)
	if err != nil {
		return newError(KindScrub, "listing collections", err)
	}
	if len(names) == 0 {
		return newError(KindEmptyResult, "enumerating "+dst.Database, ErrEmptyResult)
	}
	logging.Info("Found %d collections.", len(names))

	table := Table(o.config, Generator(o.config))
	sensitive := table.Sensitive(names)
	logging.Info("Found %d sensitive collections", len(sensitive))
	o.setPhase(runID, PhaseEnumerated)

	if err := o.scrubAll(ctx, runID, db, table, sensitive); err != nil {
		return err
	}
	o.setPhase(runID, PhaseScrubbed)

	scrubbedDir, err := o.exporter.Export(ctx, dst)
	if err != nil {
		return newError(KindExport, "re-exporting "+dst.Database, err)
	}
	o.result.DumpDir = scrubbedDir
	o.setPhase(runID, PhaseReExported)
	return nil
}

// scrubAll scrubs the sensitive collections one at a time, in order.
func (o *Orchestrator) scrubAll(ctx context.Context, runID string, db store.Database, table *policy.Table, names []string) error {
	scrubber := scrub.New(table.Operators())
	tracker := progress.New(o.barWriter)
	tracker.SetTotal(len(names))

	for _, name := range names {
		entry, _ := table.Lookup(name)
		tracker.StartCollection(name)
		o.reportCollections(runID, tracker)

		res, err := scrubber.Scrub(ctx, db.Collection(name), entry)
		if err != nil {
			o.recordCollection(runID, checkpoint.CollectionResult{
				Collection: name,
				Status:     checkpoint.StatusFailed,
				Error:      err.Error(),
			})
			return newError(KindScrub, "scrubbing "+name, err)
		}

		tracker.EndCollection(name, res.Matched, res.Modified)
		o.result.Collections = append(o.result.Collections, res)
		o.result.Matched += res.Matched
		o.result.Modified += res.Modified
		o.recordCollection(runID, checkpoint.CollectionResult{
			Collection: name,
			Matched:    res.Matched,
			Modified:   res.Modified,
			Status:     checkpoint.StatusSuccess,
		})
	}

	tracker.Finish()
	o.reportCollections(runID, tracker)
	return nil
}

// cleanup drops the destination and closes the connection. Close is
// attempted even when the drop fails, and happens at most once.
func (o *Orchestrator) cleanup(ctx context.Context) error {
	// Cleanup must still run when ctx was cancelled by a signal.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	dropErr := o.client.Database(o.config.Destination.Database).Drop(cctx)
	return errors.Join(dropErr, o.closeClient(cctx))
}

func (o *Orchestrator) closeClient(ctx context.Context) error {
	o.closeOnce.Do(func() {
		if err := o.client.Close(ctx); err != nil {
			o.closeErr = fmt.Errorf("closing connection: %w", err)
		}
	})
	return o.closeErr
}

// finish records the outcome of the run and returns err unchanged.
func (o *Orchestrator) finish(runID string, err error) error {
	completed := time.Now()
	duration := completed.Sub(o.result.StartedAt)
	o.result.CompletedAt = completed
	o.result.DurationSeconds = duration.Seconds()

	if err == nil {
		o.result.Status = checkpoint.StatusSuccess
		o.result.Phase = string(o.phase)
		if serr := o.state.CompleteRun(runID, checkpoint.StatusSuccess, ""); serr != nil {
			logging.Warn("Failed to record run completion: %v", serr)
		}
		o.reporter.ReportImmediate(o.update(runID, nil))
		if nerr := o.notifier.ScrubCompleted(runID, o.result.StartedAt, duration,
			len(o.result.Collections), o.result.Matched, o.result.Modified, o.result.DumpDir); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		logging.Success("Scrub run %s complete in %s", runID, duration.Round(time.Millisecond))
		return nil
	}

	kind := "failure"
	if k, ok := KindOf(err); ok {
		kind = k.String()
	}
	failedAt := o.phase
	o.phase = PhaseFailed
	o.result.Status = checkpoint.StatusFailed
	o.result.Phase = string(failedAt)
	o.result.Error = err.Error()
	o.result.ErrorKind = kind

	if serr := o.state.UpdatePhase(runID, string(PhaseFailed)); serr != nil {
		logging.Warn("Failed to record run phase: %v", serr)
	}
	if serr := o.state.CompleteRun(runID, checkpoint.StatusFailed, err.Error()); serr != nil {
		logging.Warn("Failed to record run completion: %v", serr)
	}
	o.reporter.ReportImmediate(o.update(runID, err))
	if nerr := o.notifier.ScrubFailed(runID, kind, err, duration); nerr != nil {
		logging.Warn("Slack notification failed: %v", nerr)
	}
	return err
}

func (o *Orchestrator) setPhase(runID string, phase Phase) {
	o.phase = phase
	logging.Debug("Run %s entered phase %s", runID, phase)
	if err := o.state.UpdatePhase(runID, string(phase)); err != nil {
		logging.Warn("Failed to record run phase: %v", err)
	}
	o.reporter.ReportImmediate(o.update(runID, nil))
}

func (o *Orchestrator) recordCollection(runID string, r checkpoint.CollectionResult) {
	if err := o.state.RecordCollection(runID, r); err != nil {
		logging.Warn("Failed to record result for %s: %v", r.Collection, err)
	}
}

func (o *Orchestrator) reportCollections(runID string, tracker *progress.Tracker) {
	update := o.update(runID, nil)
	done, matched, modified := tracker.Snapshot()
	update.Phase = "scrubbing"
	update.CollectionsComplete = done
	update.CollectionsTotal = tracker.Total()
	update.CurrentCollection = tracker.Current()
	update.DocumentsMatched = matched
	update.DocumentsModified = modified
	if total := tracker.Total(); total > 0 {
		update.ProgressPct = float64(done) / float64(total) * 100
	}
	o.reporter.Report(update)
}

func (o *Orchestrator) update(runID string, err error) progress.ProgressUpdate {
	u := progress.ProgressUpdate{
		RunID:               runID,
		Phase:               string(o.phase),
		CollectionsComplete: len(o.result.Collections),
		DocumentsMatched:    o.result.Matched,
		DocumentsModified:   o.result.Modified,
	}
	if err != nil {
		u.Error = err.Error()
	}
	return u
}
