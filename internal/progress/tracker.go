package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker tracks scrub progress across collections
type Tracker struct {
	bar       *progressbar.ProgressBar
	writer    io.Writer
	total     int
	startTime time.Time

	mu       sync.Mutex
	done     int
	matched  int64
	modified int64
	current  string
}

// New creates a new progress tracker. A nil writer tracks counts without
// drawing a bar.
func New(w io.Writer) *Tracker {
	return &Tracker{
		writer:    w,
		startTime: time.Now(),
	}
}

// SetTotal sets the number of collections to scrub
func (t *Tracker) SetTotal(total int) {
	t.total = total
	if t.writer == nil {
		return
	}
	t.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(t.writer),
		progressbar.OptionSetDescription("Scrubbing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetItsString("collections"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// StartCollection marks a collection as being scrubbed
func (t *Tracker) StartCollection(name string) {
	t.mu.Lock()
	t.current = name
	t.mu.Unlock()

	if t.bar != nil {
		t.bar.Describe(fmt.Sprintf("Scrubbing %s", name))
		t.bar.RenderBlank()
	}
}

// EndCollection records a finished collection
func (t *Tracker) EndCollection(name string, matched, modified int64) {
	t.mu.Lock()
	t.done++
	t.matched += matched
	t.modified += modified
	if t.current == name {
		t.current = ""
	}
	t.mu.Unlock()

	if t.bar != nil {
		t.bar.Add(1)
	}
}

// Snapshot returns collections done, documents matched and modified so far
func (t *Tracker) Snapshot() (done int, matched, modified int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.matched, t.modified
}

// Current returns the collection being scrubbed, if any
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Total returns the number of collections to scrub
func (t *Tracker) Total() int {
	return t.total
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(t.writer)
	}

	done, matched, modified := t.Snapshot()
	logging.Info("Scrub complete: %d collections, %d of %d matched documents modified in %s",
		done, modified, matched, time.Since(t.startTime).Round(time.Second))
}
