package scheduler

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// AlertLevel grades how degraded the system currently is. Critical
// short-circuits a tick to a bare heartbeat.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertElevated
	AlertCritical
)

func (l AlertLevel) String() string {
	switch l {
	case AlertElevated:
		return "elevated"
	case AlertCritical:
		return "critical"
	default:
		return "none"
	}
}

// AlertSource supplies the per-tick alert level. The default derives it
// from local signals; deployments can plug in their own.
type AlertSource interface {
	Evaluate(ctx context.Context) AlertLevel
}

// localAlerts grades health from the breaker and the rolling success rate:
// both degraded is critical, either one is elevated.
type localAlerts struct {
	breakerOpen func() bool
	lowSuccess  func() bool
}

func (a *localAlerts) Evaluate(ctx context.Context) AlertLevel {
	open := a.breakerOpen()
	low := a.lowSuccess()
	switch {
	case open && low:
		return AlertCritical
	case open || low:
		return AlertElevated
	default:
		return AlertNone
	}
}

// readLoadModifier reads a single float in [0,1] from path, used as a
// dispatch-rate multiplier. Missing or malformed files mean no damping.
func readLoadModifier(path string) float64 {
	if path == "" {
		return 1.0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 1.0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1.0
	}
	return v
}
