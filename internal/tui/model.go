package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/johndauphine/mongo-scrubber/internal/checkpoint"
)

// Source supplies run history. *orchestrator.Orchestrator satisfies it.
type Source interface {
	History() ([]checkpoint.Run, error)
	CollectionResults(runID string) ([]checkpoint.CollectionResult, error)
}

type screen int

const (
	screenRuns screen = iota
	screenDetail
)

const timeLayout = "2006-01-02 15:04:05"

// Model is the history browser
type Model struct {
	src     Source
	screen  screen
	runs    []checkpoint.Run
	list    table.Model
	detail  table.Model
	current *checkpoint.Run
	err     error
	width   int
	height  int
}

// runsLoadedMsg carries the result of Source.History
type runsLoadedMsg struct {
	runs []checkpoint.Run
	err  error
}

// resultsLoadedMsg carries the collection results of one run
type resultsLoadedMsg struct {
	run     checkpoint.Run
	results []checkpoint.CollectionResult
	err     error
}

// New returns a browser over src.
func New(src Source) Model {
	list := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 10},
			{Title: "Started", Width: 19},
			{Title: "Duration", Width: 10},
			{Title: "Status", Width: 8},
			{Title: "Phase", Width: 12},
			{Title: "Destination", Width: 24},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
		table.WithWidth(96),
	)
	list.SetStyles(tableStyles())

	detail := table.New(
		table.WithColumns([]table.Column{
			{Title: "Collection", Width: 24},
			{Title: "Matched", Width: 10},
			{Title: "Modified", Width: 10},
			{Title: "Status", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
		table.WithWidth(60),
	)
	detail.SetStyles(tableStyles())

	return Model{src: src, list: list, detail: detail}
}

// Run starts the browser on the alternate screen and blocks until it exits.
func Run(src Source) error {
	_, err := tea.NewProgram(New(src), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.loadRuns()
}

func (m Model) loadRuns() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		runs, err := src.History()
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func (m Model) loadResults(run checkpoint.Run) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		results, err := src.CollectionResults(run.ID)
		return resultsLoadedMsg{run: run, results: results, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		// title, box border, status bar, help
		h := msg.Height - 8
		if h < 3 {
			h = 3
		}
		m.list.SetHeight(h)
		m.detail.SetHeight(h)
		return m, nil

	case runsLoadedMsg:
		m.err = msg.err
		m.runs = msg.runs
		m.list.SetRows(runRows(msg.runs))
		return m, nil

	case resultsLoadedMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		run := msg.run
		m.current = &run
		m.detail.SetRows(resultRows(msg.results))
		m.detail.GotoTop()
		m.screen = screenDetail
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.loadRuns()
		case "enter":
			if m.screen == screenRuns && len(m.runs) > 0 {
				return m, m.loadResults(m.runs[m.list.Cursor()])
			}
			return m, nil
		case "esc", "backspace":
			if m.screen == screenDetail {
				m.screen = screenRuns
				m.current = nil
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.screen == screenDetail {
		m.detail, cmd = m.detail.Update(msg)
	} else {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	if m.screen == screenDetail && m.current != nil {
		b.WriteString(styleTitle.Render("Run " + m.current.ID))
		b.WriteString("\n")
		b.WriteString(runSummary(*m.current))
		b.WriteString("\n")
		b.WriteString(styleBox.Render(m.detail.View()))
	} else {
		b.WriteString(styleTitle.Render("Scrub history"))
		b.WriteString("\n")
		if len(m.runs) == 0 && m.err == nil {
			b.WriteString(styleHelp.Render("No scrub history"))
		} else {
			b.WriteString(styleBox.Render(m.list.View()))
		}
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(styleError.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.statusBarView())
	b.WriteString("\n")
	if m.screen == screenDetail {
		b.WriteString(styleHelp.Render("↑/↓ scroll • esc back • q quit"))
	} else {
		b.WriteString(styleHelp.Render("↑/↓ select • enter details • r refresh • q quit"))
	}
	return b.String()
}

func (m Model) statusBarView() string {
	w := lipgloss.Width

	name := "runs"
	if m.screen == screenDetail {
		name = "collections"
	}
	view := styleStatusView.Render(name)
	count := styleStatusCount.Render(fmt.Sprintf("%d runs", len(m.runs)))

	last := ""
	if len(m.runs) > 0 {
		r := m.runs[0]
		last = statusStyle(r.Status).Inherit(styleStatusText).Render("last: " + r.Status)
	}

	spacerWidth := m.width - (w(view) + w(count) + w(last))
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	spacer := styleStatusBar.Width(spacerWidth).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, view, count, spacer, last)
}

func runSummary(r checkpoint.Run) string {
	lines := []string{
		fmt.Sprintf("Status:      %s (%s)", statusStyle(r.Status).Render(r.Status), r.Phase),
		fmt.Sprintf("Source:      %s", r.Source),
		fmt.Sprintf("Destination: %s", r.Destination),
		fmt.Sprintf("Started:     %s", r.StartedAt.Format(timeLayout)),
	}
	if r.CompletedAt != nil {
		lines = append(lines, fmt.Sprintf("Completed:   %s (%s)",
			r.CompletedAt.Format(timeLayout), duration(r)))
	}
	if r.Error != "" {
		lines = append(lines, styleError.Render("Error: ")+r.Error)
	}
	return strings.Join(lines, "\n")
}

func runRows(runs []checkpoint.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.ID,
			r.StartedAt.Format(timeLayout),
			duration(r),
			r.Status,
			r.Phase,
			r.Destination,
		})
	}
	return rows
}

func resultRows(results []checkpoint.CollectionResult) []table.Row {
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, table.Row{
			r.Collection,
			fmt.Sprintf("%d", r.Matched),
			fmt.Sprintf("%d", r.Modified),
			r.Status,
		})
	}
	return rows
}

func duration(r checkpoint.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}
