// Package config loads the daemon configuration (TOML) and the goals
// scope file (YAML) from the runtime directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"warden/pkg/protocol"
)

// Config holds daemon tuning. Zero values mean "use the default"; callers
// get a fully resolved copy from Load or WithDefaults.
type Config struct {
	// Slots overrides the host-derived concurrency budget when > 0.
	Slots float64 `toml:"slots"`

	// TickInterval is the fallback scheduler cadence.
	TickInterval time.Duration `toml:"tick_interval"`
	// MinTickSpacing throttles wake-on-change ticks.
	MinTickSpacing time.Duration `toml:"min_tick_spacing"`
	// TickLockCeiling force-releases a tick guard held longer than this.
	TickLockCeiling time.Duration `toml:"tick_lock_ceiling"`

	// RunTimeout is the watchdog ceiling for an in-flight task.
	RunTimeout time.Duration `toml:"run_timeout"`
	// ApprovalWindow bounds how long a pending action waits for a human.
	ApprovalWindow time.Duration `toml:"approval_window"`

	// MaintenanceInterval spaces the hourly sweep (proposal expiry,
	// quarantine release, command pickup).
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`

	// WorkerCommand is the executable the scheduler launches per task.
	WorkerCommand string `toml:"worker_command"`
	// PreflightCommand validates a candidate before dispatch; empty
	// disables the external check.
	PreflightCommand string `toml:"preflight_command"`

	// LoadFile, when set, supplies an external load multiplier in [0,1]
	// read each tick (single float in a text file).
	LoadFile string `toml:"load_file"`
}

// WithDefaults returns a copy with every zero field resolved.
func (c Config) WithDefaults() Config {
	out := c
	if out.TickInterval == 0 {
		out.TickInterval = 60 * time.Second
	}
	if out.MinTickSpacing == 0 {
		out.MinTickSpacing = 5 * time.Second
	}
	if out.TickLockCeiling == 0 {
		out.TickLockCeiling = 10 * time.Minute
	}
	if out.RunTimeout == 0 {
		out.RunTimeout = 45 * time.Minute
	}
	if out.ApprovalWindow == 0 {
		out.ApprovalWindow = 24 * time.Hour
	}
	if out.MaintenanceInterval == 0 {
		out.MaintenanceInterval = time.Hour
	}
	if out.WorkerCommand == "" {
		out.WorkerCommand = "warden-worker"
	}
	return out
}

// Load reads the TOML config from dir (the runtime directory). A missing
// file is not an error: defaults apply.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, protocol.ConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}.WithDefaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", protocol.ConfigFileName, err)
	}
	return c.WithDefaults(), nil
}

// Save writes the config as TOML, creating dir if needed.
func Save(dir string, c Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dir, protocol.ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
