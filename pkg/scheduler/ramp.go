package scheduler

import (
	"context"
	"encoding/json"
	"math"

	"warden/pkg/protocol"
)

// rampState is the persisted dispatch rate, stored under the
// dispatch_ramp_state key so restarts resume from the last value.
type rampState struct {
	Rate int `json:"rate"`
}

const coldStartRate = 2

// nextRampRate adjusts the dispatch rate for one tick.
//
//	prev    : last persisted rate, nil on cold start
//	level   : current alert level
//	pressure: in-flight / capacity, in [0, ~1]
//	modifier: external load multiplier in [0,1]
//	cap     : capacity-derived maximum for this tick
func nextRampRate(prev *int, level AlertLevel, pressure, modifier float64, capSlots int) int {
	if capSlots < 1 {
		capSlots = 1
	}
	if prev == nil {
		// Cold start: never burst straight to full capacity.
		if capSlots < coldStartRate {
			return capSlots
		}
		return coldStartRate
	}

	rate := *prev
	switch {
	case level >= AlertElevated || pressure > 0.8:
		rate--
	case pressure < 0.5 && level == AlertNone:
		rate++
	}

	// Bootstrap guard: the rate must not stick at zero while the system
	// has headroom, unless we are in the most severe alert state.
	if level != AlertCritical && pressure < 0.8 && rate < 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	if rate > capSlots {
		rate = capSlots
	}

	scaled := int(math.Floor(float64(rate) * modifier))
	if level != AlertCritical && pressure < 0.8 && scaled < 1 && rate >= 1 {
		scaled = 1
	}
	return scaled
}

// loadRampRate reads the persisted rate; nil means cold start.
func (s *Scheduler) loadRampRate(ctx context.Context) (*int, error) {
	raw, err := s.store.GetState(ctx, protocol.StateDispatchRamp)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var st rampState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// A corrupt rate record is treated as a cold start, not a stall.
		return nil, nil
	}
	return &st.Rate, nil
}

func (s *Scheduler) saveRampRate(ctx context.Context, rate int) error {
	data, err := json.Marshal(rampState{Rate: rate})
	if err != nil {
		return err
	}
	return s.store.SetState(ctx, protocol.StateDispatchRamp, string(data))
}
