package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"warden/pkg/protocol"
)

// newInFlightTable builds a read-only table of in-flight tasks with their
// run IDs and elapsed run time.
func newInFlightTable(tasks []protocol.Task, now time.Time) table.Model {
	columns := []table.Column{
		{Title: "Task", Width: 10},
		{Title: "Title", Width: 28},
		{Title: "Run", Width: 14},
		{Title: "Elapsed", Width: 10},
	}

	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			id,
			t.Title,
			t.Payload.RunID,
			formatElapsed(t, now),
		})
	}

	height := len(rows) + 1
	if height < 2 {
		height = 2
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(height),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(colors.Header).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	styles.Selected = lipgloss.NewStyle()
	tbl.SetStyles(styles)

	return tbl
}

// formatElapsed renders the time since the task's run was triggered,
// falling back to StartedAt when the trigger timestamp is missing.
func formatElapsed(t protocol.Task, now time.Time) string {
	var since *time.Time
	switch {
	case t.Payload.RunTriggeredAt != nil:
		since = t.Payload.RunTriggeredAt
	case t.StartedAt != nil:
		since = t.StartedAt
	default:
		return "-"
	}
	d := now.Sub(*since)
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
