// Package main implements the warden-dash interactive dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// robotMode outputs a JSON snapshot of the daemon state for scripting.
func robotMode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--robot" {
		snap, err := FetchSnapshot(defaultDBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching snapshot: %v\n", err)
			os.Exit(1)
		}
		out, err := robotMode(snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	p := tea.NewProgram(newModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
