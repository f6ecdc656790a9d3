package main

import (
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"warden/pkg/stats"
)

// tickMsg is sent by Bubble Tea on every tick interval.
// Used to trigger periodic data refresh from the state database.
type tickMsg time.Time

// snapshotMsg carries a fetched state snapshot. nil means the state
// database could not be read (daemon never initialized or db missing).
type snapshotMsg *Snapshot

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshotCmd returns a tea.Cmd that reads daemon state from dbPath.
func fetchSnapshotCmd(dbPath string) tea.Cmd {
	return func() tea.Msg {
		snap, err := FetchSnapshot(dbPath)
		if err != nil {
			return snapshotMsg(nil)
		}
		return snapshotMsg(snap)
	}
}

// Model is the Bubble Tea model for the warden dashboard.
type Model struct {
	dbPath string

	snap    *Snapshot
	healthy bool

	// UI state
	width  int
	height int
}

// newModel creates a new Model reading from the default state database.
func newModel() Model {
	return Model{dbPath: defaultDBPath()}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{fetchSnapshotCmd(m.dbPath), tickCmd()}
	if watch := watchStateDir(filepath.Dir(m.dbPath)); watch != nil {
		cmds = append(cmds, watch)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchSnapshotCmd(m.dbPath)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		if msg == nil {
			m.healthy = false
		} else {
			m.healthy = true
			m.snap = (*Snapshot)(msg)
		}

	case tickMsg:
		return m, tea.Batch(fetchSnapshotCmd(m.dbPath), tickCmd())

	case fsChangeMsg:
		// Immediate refresh, then re-arm the watcher.
		cmds := []tea.Cmd{fetchSnapshotCmd(m.dbPath)}
		if watch := watchStateDir(filepath.Dir(m.dbPath)); watch != nil {
			cmds = append(cmds, watch)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	statusBar := m.renderStatusBar()

	if m.snap == nil {
		waiting := lipgloss.NewStyle().Foreground(colors.Dim).
			Render("Waiting for state database...")
		return statusBar + "\n\n" + waiting
	}

	board := NewBoardModel(m.snap.Queued)
	inflight := newInFlightTable(m.snap.InFlight, time.Now().UTC())
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(colors.Accent)

	sections := []string{
		statusBar,
		sectionStyle.Render("Queue"),
		board.Render(),
		sectionStyle.Render(fmt.Sprintf("In flight (%d)", len(m.snap.InFlight))),
		inflight.View(),
	}
	if n := len(m.snap.Proposals); n > 0 {
		warn := lipgloss.NewStyle().Foreground(colors.Warn)
		sections = append(sections, warn.Render(
			fmt.Sprintf("%d proposal(s) awaiting approval, see `warden proposal list`", n)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderStatusBar renders the status bar with state-db health, queue depth,
// ramp rate, and rolling window stats.
func (m Model) renderStatusBar() string {
	var dbStatus string
	if m.healthy {
		dbStatus = lipgloss.NewStyle().Foreground(colors.Good).Render("state: ok")
	} else {
		dbStatus = lipgloss.NewStyle().Foreground(colors.Bad).Render("state: unreadable")
	}

	parts := []string{dbStatus}
	if m.snap != nil {
		parts = append(parts,
			fmt.Sprintf("queued: %d", len(m.snap.Queued)),
			fmt.Sprintf("in flight: %d", len(m.snap.InFlight)),
			fmt.Sprintf("ramp: %d", m.snap.RampRate),
			renderWindow(m.snap.Window),
		)
		if m.snap.BillingPaused {
			parts = append(parts, lipgloss.NewStyle().Foreground(colors.Warn).Render("BILLING PAUSED"))
		}
		if len(m.snap.PausedTiers) > 0 {
			parts = append(parts, lipgloss.NewStyle().Foreground(colors.Warn).
				Render(fmt.Sprintf("paused tiers: %v", m.snap.PausedTiers)))
		}
	}

	bar := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1)
	sep := lipgloss.NewStyle().Foreground(colors.Dim).Render(" | ")

	return bar.Render(joinWith(parts, sep))
}

// renderWindow formats the rolling-window success rate for the status bar.
func renderWindow(w stats.Snapshot) string {
	if w.Total == 0 {
		return "window: -"
	}
	rate := "-"
	if w.Rate != nil {
		rate = fmt.Sprintf("%.0f%%", *w.Rate*100)
	}
	return fmt.Sprintf("window: %d/%d ok (%s)", w.Success, w.Total, rate)
}

func joinWith(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
