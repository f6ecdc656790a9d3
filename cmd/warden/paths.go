package main

import (
	"fmt"
	"os"
	"path/filepath"

	"warden/pkg/protocol"
)

// Paths holds all resolved warden state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	WardenHome string // ~/.warden or WARDEN_HOME
	PIDPath    string // warden.pid or WARDEN_PID_PATH
	DBPath     string // warden.db or WARDEN_DB_PATH
}

// ResolvePaths returns all warden paths, respecting env var overrides.
// Environment variables:
//   - WARDEN_HOME: base directory for all warden state (default: ~/.warden)
//   - WARDEN_PID_PATH: daemon PID file (default: $WARDEN_HOME/warden.pid)
//   - WARDEN_DB_PATH: runtime database (default: $WARDEN_HOME/warden.db)
func ResolvePaths() (*Paths, error) {
	home, err := resolveWardenHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		WardenHome: home,
		PIDPath:    resolvePathWithEnv("WARDEN_PID_PATH", home, protocol.PIDFileName),
		DBPath:     resolvePathWithEnv("WARDEN_DB_PATH", home, protocol.DBFileName),
	}, nil
}

// resolveWardenHome returns the warden home directory from WARDEN_HOME or
// ~/.warden.
func resolveWardenHome() (string, error) {
	if v := os.Getenv("WARDEN_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.WardenDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
