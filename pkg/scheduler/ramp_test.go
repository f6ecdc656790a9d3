package scheduler

import "testing"

func intPtr(v int) *int { return &v }

func TestRampColdStart(t *testing.T) {
	t.Parallel()

	if got := nextRampRate(nil, AlertNone, 0, 1.0, 8); got != 2 {
		t.Errorf("cold start with cap 8 = %d, want 2", got)
	}
	if got := nextRampRate(nil, AlertNone, 0, 1.0, 1); got != 1 {
		t.Errorf("cold start with cap 1 = %d, want 1", got)
	}
}

func TestRampAdjustments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prev     int
		level    AlertLevel
		pressure float64
		want     int
	}{
		{"decrement on elevated alert", 3, AlertElevated, 0.6, 2},
		{"decrement on high pressure", 3, AlertNone, 0.9, 2},
		{"increment on low pressure and no alert", 3, AlertNone, 0.4, 4},
		{"hold in the middle band", 3, AlertNone, 0.6, 3},
		{"elevated alert blocks increment", 3, AlertElevated, 0.4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextRampRate(intPtr(tt.prev), tt.level, tt.pressure, 1.0, 10)
			if got != tt.want {
				t.Errorf("nextRampRate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRampBootstrapFloor(t *testing.T) {
	t.Parallel()

	// Rate stuck at 0 is floored to 1 while there is headroom.
	if got := nextRampRate(intPtr(0), AlertNone, 0.6, 1.0, 10); got != 1 {
		t.Errorf("bootstrap floor = %d, want 1", got)
	}
	// Critical alert disables the floor. (Critical normally short-circuits
	// the tick, but the guard must hold on its own.)
	if got := nextRampRate(intPtr(0), AlertCritical, 0.6, 1.0, 10); got != 0 {
		t.Errorf("critical floor = %d, want 0", got)
	}
	// High pressure also disables the floor.
	if got := nextRampRate(intPtr(0), AlertCritical, 0.9, 1.0, 10); got != 0 {
		t.Errorf("high-pressure floor = %d, want 0", got)
	}
}

func TestRampCapAndModifier(t *testing.T) {
	t.Parallel()

	// Capped at capacity.
	if got := nextRampRate(intPtr(9), AlertNone, 0.4, 1.0, 5); got != 5 {
		t.Errorf("cap = %d, want 5", got)
	}
	// Load modifier scales down.
	if got := nextRampRate(intPtr(6), AlertNone, 0.6, 0.5, 10); got != 3 {
		t.Errorf("modifier = %d, want 3", got)
	}
	// Modifier cannot starve a healthy system to zero.
	if got := nextRampRate(intPtr(1), AlertNone, 0.6, 0.1, 10); got != 1 {
		t.Errorf("modifier floor = %d, want 1", got)
	}
}
