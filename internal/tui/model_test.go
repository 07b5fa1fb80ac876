package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/johndauphine/mongo-scrubber/internal/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	runs    []checkpoint.Run
	results map[string][]checkpoint.CollectionResult
	err     error
	asked   []string
}

func (f *fakeSource) History() ([]checkpoint.Run, error) {
	return f.runs, f.err
}

func (f *fakeSource) CollectionResults(runID string) ([]checkpoint.CollectionResult, error) {
	f.asked = append(f.asked, runID)
	return f.results[runID], nil
}

func newSource() *fakeSource {
	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	done := start.Add(90 * time.Second)
	return &fakeSource{
		runs: []checkpoint.Run{
			{ID: "b2c3d4e5", StartedAt: start, CompletedAt: &done, Status: "success", Phase: "cleaned", Destination: "localhost:27017/devexbackup"},
			{ID: "a1b2c3d4", StartedAt: start.Add(-time.Hour), Status: "failed", Phase: "imported", Error: "import failure"},
		},
		results: map[string][]checkpoint.CollectionResult{
			"b2c3d4e5": {{Collection: "users", Matched: 12, Modified: 11, Status: "success"}},
		},
	}
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestBrowserListsRuns(t *testing.T) {
	src := newSource()
	m := New(src)

	cmd := m.Init()
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())

	view := m.View()
	assert.Contains(t, view, "Scrub history")
	assert.Contains(t, view, "b2c3d4e5")
	assert.Contains(t, view, "a1b2c3d4")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "2 runs")
}

func TestBrowserShowsCollectionResults(t *testing.T) {
	src := newSource()
	m := New(src)
	m, _ = send(t, m, m.Init()())

	m, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())

	assert.Equal(t, []string{"b2c3d4e5"}, src.asked)
	assert.Equal(t, screenDetail, m.screen)
	view := m.View()
	assert.Contains(t, view, "Run b2c3d4e5")
	assert.Contains(t, view, "users")
	assert.Contains(t, view, "12")

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, screenRuns, m.screen)
	assert.Nil(t, m.current)
}

func TestBrowserEmptyAndError(t *testing.T) {
	m := New(&fakeSource{})
	m, _ = send(t, m, m.Init()())
	assert.Contains(t, m.View(), "No scrub history")

	// enter with no runs is a no-op
	_, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	m = New(&fakeSource{err: errors.New("database is locked")})
	m, _ = send(t, m, m.Init()())
	assert.True(t, strings.Contains(m.View(), "database is locked"))
}

func TestBrowserQuit(t *testing.T) {
	m := New(newSource())
	_, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
