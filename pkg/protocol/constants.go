package protocol

// Directory and path constants used throughout warden.
const (
	// WardenDir is the user-level state directory (e.g., ~/.warden).
	WardenDir = ".warden"

	// DBFileName is the runtime SQLite database file name.
	DBFileName = "warden.db"

	// PIDFileName is the daemon PID file name inside WardenDir.
	PIDFileName = "warden.pid"

	// ConfigFileName is the TOML daemon configuration file name.
	ConfigFileName = "warden.toml"

	// GoalsFileName is the YAML goals-scope file name.
	GoalsFileName = "goals.yaml"
)

// Persisted state keys in the state table.
const (
	// StateDispatchStats holds the rolling dispatch-outcome window as JSON.
	StateDispatchStats = "dispatch_stats"

	// StateDispatchRamp holds the persisted ramp controller rate as JSON.
	StateDispatchRamp = "dispatch_ramp_state"

	// StatePausedTiers holds the JSON list of priority tiers paused by
	// mitigation policy.
	StatePausedTiers = "paused_tiers"

	// StateBillingPaused holds "1" while the cost gate denies dispatch.
	StateBillingPaused = "billing_paused"

	// StateCapacityOverride holds a committed slot-count override.
	StateCapacityOverride = "capacity_override"
)
