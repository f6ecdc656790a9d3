package main

import (
	"fmt"
	"strings"
	"testing"

	"warden/pkg/protocol"
)

// TestBoardView_ColumnsRendered verifies that Render() output contains
// all four priority column headers.
func TestBoardView_ColumnsRendered(t *testing.T) {
	tasks := []protocol.Task{
		{ID: "t-1", Title: "Fix login", Status: protocol.StatusQueued, Priority: protocol.PriorityP0},
		{ID: "t-2", Title: "Add search", Status: protocol.StatusQueued, Priority: protocol.PriorityP1},
	}

	board := NewBoardModel(tasks)
	output := board.Render()

	for _, header := range []string{"P0", "P1", "P2", "P3"} {
		if !strings.Contains(output, header) {
			t.Errorf("Render() missing column header %q\ngot:\n%s", header, output)
		}
	}
}

// TestBoardView_TaskInCorrectColumn verifies that tasks appear under the
// column matching their priority, in tier order.
func TestBoardView_TaskInCorrectColumn(t *testing.T) {
	tasks := []protocol.Task{
		{ID: "t-back", Title: "Backlog chore", Priority: protocol.PriorityP3},
		{ID: "t-urgent", Title: "Prod outage", Priority: protocol.PriorityP0},
	}

	board := NewBoardModel(tasks)
	output := board.Render()

	for _, task := range tasks {
		if !strings.Contains(output, task.Title) {
			t.Errorf("Render() missing task title %q\ngot:\n%s", task.Title, output)
		}
	}

	urgentIdx := strings.Index(output, "Prod outage")
	backlogIdx := strings.Index(output, "Backlog chore")
	if urgentIdx == -1 || backlogIdx == -1 {
		t.Fatalf("missing task titles in output:\n%s", output)
	}
	if urgentIdx > backlogIdx {
		t.Errorf("P0 task rendered after P3 task (P0 at %d, P3 at %d)", urgentIdx, backlogIdx)
	}
}

// TestBoardView_ColumnTruncation verifies a column with more than 10 tasks
// renders only the first 10 and shows the total in the header.
func TestBoardView_ColumnTruncation(t *testing.T) {
	tasks := make([]protocol.Task, 0, 12)
	for i := 0; i < 12; i++ {
		tasks = append(tasks, protocol.Task{
			ID:       fmt.Sprintf("t-%02d", i),
			Title:    fmt.Sprintf("Task %02d", i),
			Priority: protocol.PriorityP2,
		})
	}

	board := NewBoardModel(tasks)
	output := board.Render()

	if !strings.Contains(output, "P2 (10/12)") {
		t.Errorf("truncated column header missing visible/total count\ngot:\n%s", output)
	}
	if strings.Contains(output, "Task 11") {
		t.Errorf("Render() shows task beyond the column limit\ngot:\n%s", output)
	}
}

// TestBoardView_EmptyColumns verifies empty columns render a placeholder.
func TestBoardView_EmptyColumns(t *testing.T) {
	board := NewBoardModel(nil)
	output := board.Render()

	if !strings.Contains(output, "(empty)") {
		t.Errorf("empty board missing placeholder\ngot:\n%s", output)
	}
}
