package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"warden/pkg/protocol"
)

// BoardModel holds the queue board state with one column per priority tier.
type BoardModel struct {
	columns []boardColumn
}

// boardColumn represents a single priority column in the board view.
type boardColumn struct {
	title      string
	tasks      []protocol.Task
	totalCount int // Total count of tasks (may exceed len(tasks) if limited)
}

// maxColumnTasks caps how many cards a column renders before truncating.
const maxColumnTasks = 10

// NewBoardModel groups queued tasks into 4 columns by priority tier
// (P0 through P3), each limited to the first 10 tasks.
func NewBoardModel(tasks []protocol.Task) BoardModel {
	tiers := []protocol.Priority{
		protocol.PriorityP0,
		protocol.PriorityP1,
		protocol.PriorityP2,
		protocol.PriorityP3,
	}

	buckets := make(map[protocol.Priority][]protocol.Task, len(tiers))
	for _, t := range tasks {
		buckets[t.Priority] = append(buckets[t.Priority], t)
	}

	columns := make([]boardColumn, 0, len(tiers))
	for _, tier := range tiers {
		inCol := buckets[tier]
		totalCount := len(inCol)
		if len(inCol) > maxColumnTasks {
			inCol = inCol[:maxColumnTasks]
		}
		columns = append(columns, boardColumn{
			title:      string(tier),
			tasks:      inCol,
			totalCount: totalCount,
		})
	}

	return BoardModel{columns: columns}
}

// Render renders the board columns side-by-side using lipgloss.
func (bm BoardModel) Render() string {
	colWidth := 30

	cardStyle := lipgloss.NewStyle().
		Width(colWidth - 2).
		Padding(0, 1)

	idStyle := lipgloss.NewStyle().
		Foreground(colors.Dim)

	columnStyle := lipgloss.NewStyle().
		Width(colWidth).
		Padding(0, 1)

	rendered := make([]string, 0, len(bm.columns))
	for _, col := range bm.columns {
		headerColor := colors.Header
		if col.title == string(protocol.PriorityP0) {
			headerColor = colors.Bad
		}

		headerStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(headerColor).
			Width(colWidth).
			Align(lipgloss.Center).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder())

		headerText := col.title
		if col.totalCount > len(col.tasks) {
			headerText = fmt.Sprintf("%s (%d/%d)", col.title, len(col.tasks), col.totalCount)
		}
		header := headerStyle.Render(headerText)

		var cardsBuilder strings.Builder
		for _, task := range col.tasks {
			card := renderCard(task, cardStyle, idStyle)
			cardsBuilder.WriteString(card)
			cardsBuilder.WriteString("\n")
		}
		if len(col.tasks) == 0 {
			cardsBuilder.WriteString(idStyle.Render("  (empty)"))
		}

		column := columnStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, cardsBuilder.String()))
		rendered = append(rendered, column)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderCard renders a single task card with its short ID and title.
func renderCard(task protocol.Task, cardStyle, idStyle lipgloss.Style) string {
	id := task.ID
	if len(id) > 8 {
		id = id[:8]
	}
	title := task.Title
	if len(title) > 24 {
		title = title[:21] + "..."
	}
	annotations := ""
	if task.Payload.NeedsHumanReview {
		annotations = " !"
	}
	return cardStyle.Render(idStyle.Render(id) + annotations + "\n" + title)
}
