package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/repo"
	"github.com/badri/wtsession/internal/tools"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	statusActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	statusArchivedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("226"))

	statusStaleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	cardLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	cardValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// Key bindings
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "resume"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

const watchInterval = 5 * time.Second

var watchCheck bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the tracked worktrees of this repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		inv, err := invocation()
		if err != nil {
			return err
		}
		return runWatchTUI(cmd.Context(), a.svc, inv)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchCheck, "check-sessions", false, "check sessions against the host on every refresh")
	rootCmd.AddCommand(watchCmd)
}

// entrySource is what the dashboard reads and acts on.
type entrySource interface {
	Entries(ctx context.Context, inv reconcile.Invocation, checkSessions bool) (*repo.Context, []tools.Entry, error)
	Resume(ctx context.Context, inv reconcile.Invocation, args tools.ResumeArgs) *tools.Report
}

type watchModel struct {
	ctx         context.Context
	src         entrySource
	inv         reconcile.Invocation
	check       bool
	scope       string
	entries     []tools.Entry
	cursor      int
	width       int
	height      int
	lastRefresh time.Time
	message     string
	quitting    bool
}

// Messages
type tickMsg time.Time

type entriesMsg struct {
	scope   string
	entries []tools.Entry
	err     error
}

type resumedMsg struct{ report *tools.Report }

func tickCmd() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadEntriesCmd(ctx context.Context, src entrySource, inv reconcile.Invocation, check bool) tea.Cmd {
	return func() tea.Msg {
		rc, entries, err := src.Entries(ctx, inv, check)
		if err != nil {
			return entriesMsg{err: err}
		}
		return entriesMsg{scope: rc.Scope, entries: entries}
	}
}

// resumeCmdFor resumes by session ID so the exact mapping under the cursor
// is used, then reports back without leaving the dashboard.
func resumeCmdFor(ctx context.Context, src entrySource, inv reconcile.Invocation, e tools.Entry) tea.Cmd {
	return func() tea.Msg {
		ref := e.ForkedSessionID
		if ref == "" {
			ref = e.Branch
		}
		return resumedMsg{report: src.Resume(ctx, inv, tools.ResumeArgs{Ref: ref, Open: true})}
	}
}

func newWatchModel(ctx context.Context, src entrySource, inv reconcile.Invocation, check bool) watchModel {
	return watchModel{
		ctx:         ctx,
		src:         src,
		inv:         inv,
		check:       check,
		lastRefresh: time.Now(),
	}
}

func (m watchModel) load() tea.Cmd {
	return loadEntriesCmd(m.ctx, m.src, m.inv, m.check)
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}

		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}

		case key.Matches(msg, keys.Enter):
			if m.cursor < len(m.entries) {
				m.message = "resuming " + m.entries[m.cursor].Branch + "..."
				return m, resumeCmdFor(m.ctx, m.src, m.inv, m.entries[m.cursor])
			}

		case key.Matches(msg, keys.Refresh):
			return m, m.load()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.lastRefresh = time.Time(msg)
		return m, tea.Batch(m.load(), tickCmd())

	case entriesMsg:
		if msg.err != nil {
			m.message = tools.ErrorReport(msg.err).Lines()[0]
			return m, nil
		}
		m.scope = msg.scope
		m.entries = msg.entries
		if m.cursor >= len(m.entries) && len(m.entries) > 0 {
			m.cursor = len(m.entries) - 1
		}

	case resumedMsg:
		m.message = summarizeReport(msg.report)
		// Resume may have marked the mapping stale or replaced its session.
		return m, m.load()
	}

	return m, nil
}

// summarizeReport keeps the header and the outcome lines of a report on a
// single status line.
func summarizeReport(r *tools.Report) string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	parts := []string{lines[0]}
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "opened:") || strings.HasPrefix(line, "open_error:") {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "  ")
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var s string
	s += titleStyle.Render("wt watch") + " "
	if m.scope != "" {
		s += normalStyle.Render(m.scope) + " "
	}
	s += helpStyle.Render(m.lastRefresh.Format("15:04:05")) + "\n\n"

	if len(m.entries) == 0 {
		s += normalStyle.Render("No tracked worktrees.\n")
		s += helpStyle.Render("\nCreate one with: wt create <branch>")
	} else {
		for i, e := range m.entries {
			if i == m.cursor {
				s += selectedStyle.Render("> "+truncateStr(e.Branch, 24)+" "+string(e.Status)) + "\n"
				continue
			}
			s += fmt.Sprintf("  %s %-24s %s\n", statusDot(e.Status), truncateStr(e.Branch, 24), helpStyle.Render(string(e.Status)))
		}

		if m.cursor < len(m.entries) {
			s += "\n" + cardStyle.Render(entryCard(m.entries[m.cursor]))
		}
	}

	if m.message != "" {
		s += "\n\n" + normalStyle.Render(m.message)
	}

	s += "\n\n"
	s += helpStyle.Render("↑/↓  navigate") + "\n"
	s += helpStyle.Render("enter  resume session") + "\n"
	s += helpStyle.Render("r  refresh") + "\n"
	s += helpStyle.Render("q  quit")
	return s
}

func entryCard(e tools.Entry) string {
	var card string
	card += cardTitleStyle.Render(e.Branch) + "\n"
	card += cardLabelStyle.Render("Status:  ") + renderStatus(e.Status) + "\n"
	card += cardLabelStyle.Render("Session: ") + cardValueStyle.Render(e.ForkedSessionID) + "\n"
	card += cardLabelStyle.Render("Parent:  ") + cardValueStyle.Render(e.ParentSessionID) + "\n"
	card += cardLabelStyle.Render("Path:    ") + cardValueStyle.Render(e.WorktreePath) + "\n"
	card += cardLabelStyle.Render("Flags:   ") + cardValueStyle.Render(strings.Join(e.Flags(), " ")) + "\n"
	card += cardLabelStyle.Render("Updated: ") + cardValueStyle.Render(e.UpdatedAt.Local().Format("2006-01-02 15:04"))
	return card
}

func statusStyle(s mapping.Status) lipgloss.Style {
	switch s {
	case mapping.StatusActive:
		return statusActiveStyle
	case mapping.StatusArchived, mapping.StatusRemoved:
		return statusArchivedStyle
	case mapping.StatusStale:
		return statusStaleStyle
	default:
		return normalStyle
	}
}

func statusDot(s mapping.Status) string {
	return statusStyle(s).Render("●")
}

func renderStatus(s mapping.Status) string {
	return statusStyle(s).Render(string(s))
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-2] + ".."
}

func runWatchTUI(ctx context.Context, src entrySource, inv reconcile.Invocation) error {
	m := newWatchModel(ctx, src, inv, watchCheck)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
