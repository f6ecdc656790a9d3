package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"warden/pkg/protocol"
)

// Goal is one scope entry from the goals file. Tasks outside the active
// goal set are never selected for dispatch.
type Goal struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
	// Deadline, when set, deactivates the goal after it passes.
	Deadline *time.Time `yaml:"deadline,omitempty"`
}

// GoalsFile is the parsed goals.yaml.
type GoalsFile struct {
	Goals []Goal `yaml:"goals"`
}

// LoadGoals reads the goals file from dir. A missing file means no goal
// scoping: every task is in scope.
func LoadGoals(dir string) (GoalsFile, error) {
	path := filepath.Join(dir, protocol.GoalsFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GoalsFile{}, nil
	}
	if err != nil {
		return GoalsFile{}, fmt.Errorf("read goals: %w", err)
	}

	var gf GoalsFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return GoalsFile{}, fmt.Errorf("parse %s: %w", protocol.GoalsFileName, err)
	}
	return gf, nil
}

// ActiveGoalIDs returns the ids of goals that are active as of now.
// An empty result with a non-empty file means everything is scoped out;
// an empty file yields nil, meaning no scoping at all.
func (gf GoalsFile) ActiveGoalIDs(now time.Time) []string {
	if len(gf.Goals) == 0 {
		return nil
	}
	ids := make([]string, 0, len(gf.Goals))
	for _, g := range gf.Goals {
		if !g.Active {
			continue
		}
		if g.Deadline != nil && now.After(*g.Deadline) {
			continue
		}
		ids = append(ids, g.ID)
	}
	return ids
}

// SaveGoals writes the goals file as YAML.
func SaveGoals(dir string, gf GoalsFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	data, err := yaml.Marshal(gf)
	if err != nil {
		return fmt.Errorf("encode goals: %w", err)
	}
	path := filepath.Join(dir, protocol.GoalsFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write goals: %w", err)
	}
	return nil
}
