package decision

import (
	"fmt"
	"strings"

	"warden/pkg/protocol"
)

// ValidationError reports why a Decision was rejected. Validation is total:
// no side effect has occurred when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid decision: " + e.Reason
}

// Validate checks every field of a Decision against the whitelist and value
// ranges. It runs to completion before any action executes; a decision that
// fails validation has no side effects.
func (r *Registry) Validate(d protocol.Decision) error {
	if d.Level < 0 || d.Level > 2 {
		return &ValidationError{Reason: fmt.Sprintf("level must be 0, 1, or 2 (got %d)", d.Level)}
	}
	if d.Actions == nil {
		return &ValidationError{Reason: "actions must be a list"}
	}
	if strings.TrimSpace(d.Rationale) == "" {
		return &ValidationError{Reason: "rationale must be non-empty"}
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return &ValidationError{Reason: fmt.Sprintf("confidence must be in [0,1] (got %g)", d.Confidence)}
	}

	hasDangerous := false
	for i, a := range d.Actions {
		h, ok := r.Lookup(a.Type)
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("action %d: unknown type %q", i, a.Type)}
		}
		if h.Dangerous() {
			hasDangerous = true
		}
	}
	if hasDangerous && !d.Safety {
		return &ValidationError{Reason: "dangerous actions require safety approval"}
	}
	return nil
}
