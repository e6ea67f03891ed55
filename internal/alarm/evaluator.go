// Package alarm implements the per-point multi-rule alarm state machine of
// spec.md §4.6 (C6): four independent rule checks sharing a common
// persistence/clear/trust-restoration discipline.
package alarm

import "github.com/jihwankim/irrig-core/internal/iopoint"

// Sample is one conditioned reading plus enough context to evaluate all
// four rules.
type Sample struct {
	Value    float64
	HasPrev  bool
	Prev     float64
	NowUs    int64
}

// Evaluate runs all four rules against sample, updating state in place.
// Rules are independent (§4.6): one may be Active while others are Clear.
func Evaluate(cfg *iopoint.AlarmConfig, state *iopoint.AlarmRuntimeState, s Sample) {
	pushHistory(state, s.Value)

	suspects := [iopoint.NumAlarmRules]bool{
		iopoint.RuleRateOfChange:  rateOfChangeSuspect(cfg, s),
		iopoint.RuleDisconnected:  disconnectedSuspect(cfg, s),
		iopoint.RuleMaxValue:      maxValueSuspect(cfg, s),
		iopoint.RuleStuckSignal:   stuckSignalSuspect(cfg, state),
	}

	anyActiveBefore := state.AnyActive()

	for rule := 0; rule < iopoint.NumAlarmRules; rule++ {
		evaluateRule(cfg, state, rule, suspects[rule], s)
	}

	if state.AnyActive() {
		state.ConsecutiveGood = 0
		state.TrustRestored = false
	} else {
		if anyActiveBefore || !state.TrustRestored {
			state.ConsecutiveGood++
			if state.ConsecutiveGood >= cfg.ConsecutiveGoodToRestoreTrust {
				state.TrustRestored = true
			}
		}
	}
}

// Acknowledge clears a rule that is Active and requires_manual_reset
// (§4.6: "remain Active until an acknowledge message").
func Acknowledge(state *iopoint.AlarmRuntimeState, rule int) {
	state.Active[rule] = false
	state.ClearCounter[rule] = 0
	state.PersistenceCounter[rule] = 0
}

func evaluateRule(cfg *iopoint.AlarmConfig, state *iopoint.AlarmRuntimeState, rule int, suspect bool, s Sample) {
	if suspect {
		state.ClearCounter[rule] = 0
		if state.Active[rule] {
			return
		}
		state.PersistenceCounter[rule]++
		if state.PersistenceCounter[rule] >= cfg.PersistenceSamples {
			state.Active[rule] = true
			state.ActivationCount[rule]++
			state.FirstActivatedUs[rule] = s.NowUs
			state.ClearCounter[rule] = 0
		}
		return
	}

	// Non-suspect sample.
	if state.Active[rule] {
		if !isClear(cfg, rule, s, state) {
			return
		}
		state.ClearCounter[rule]++
		if state.ClearCounter[rule] >= cfg.ClearSamples {
			if cfg.RequiresManualReset {
				// remains Active until Acknowledge (§4.6)
				return
			}
			state.Active[rule] = false
			state.PersistenceCounter[rule] = 0
			state.ClearCounter[rule] = 0
		}
		return
	}

	// Pending: reset persistence on any non-suspect sample.
	state.PersistenceCounter[rule] = 0
}

// isClear implements the hysteresis-qualified "clear" predicate (§4.6):
// below threshold minus clear_hysteresis_value, or (for StuckSignal) the
// stuck window shows delta >= delta_threshold.
func isClear(cfg *iopoint.AlarmConfig, rule int, s Sample, state *iopoint.AlarmRuntimeState) bool {
	switch rule {
	case iopoint.RuleRateOfChange:
		if !s.HasPrev {
			return true
		}
		delta := s.Value - s.Prev
		if delta < 0 {
			delta = -delta
		}
		return delta <= cfg.Rules.RateOfChangeThreshold-cfg.ClearHysteresisValue
	case iopoint.RuleDisconnected:
		return s.Value > cfg.Rules.DisconnectedThreshold+cfg.ClearHysteresisValue
	case iopoint.RuleMaxValue:
		return s.Value < cfg.Rules.MaxValueThreshold-cfg.ClearHysteresisValue
	case iopoint.RuleStuckSignal:
		_, delta := stuckWindowMinMax(state, cfg.Rules.StuckWindowSamples)
		return delta >= cfg.Rules.StuckDeltaThreshold
	default:
		return true
	}
}

// rateOfChangeSuspect implements §4.6 "RateOfChange": |delta| > threshold.
// The first sample after reset (no previous sample) never triggers.
func rateOfChangeSuspect(cfg *iopoint.AlarmConfig, s Sample) bool {
	if !s.HasPrev {
		return false
	}
	delta := s.Value - s.Prev
	if delta < 0 {
		delta = -delta
	}
	return delta > cfg.Rules.RateOfChangeThreshold
}

// disconnectedSuspect implements §3 "Disconnected": value <= threshold.
func disconnectedSuspect(cfg *iopoint.AlarmConfig, s Sample) bool {
	return s.Value <= cfg.Rules.DisconnectedThreshold
}

// maxValueSuspect implements §3 "MaxValue": value >= threshold.
func maxValueSuspect(cfg *iopoint.AlarmConfig, s Sample) bool {
	return s.Value >= cfg.Rules.MaxValueThreshold
}

// stuckSignalSuspect implements §4.6 "StuckSignal": max-min over the
// trailing window_samples history entries is below delta_threshold.
func stuckSignalSuspect(cfg *iopoint.AlarmConfig, state *iopoint.AlarmRuntimeState) bool {
	n := minInt(cfg.Rules.StuckWindowSamples, iopoint.RuntimeHistoryCap)
	if state.HistoryCount < n || n < 2 {
		return false
	}
	_, delta := stuckWindowMinMax(state, n)
	return delta < cfg.Rules.StuckDeltaThreshold
}

// stuckWindowMinMax returns (min, max-min) over the trailing window
// entries of state.History.
func stuckWindowMinMax(state *iopoint.AlarmRuntimeState, window int) (float64, float64) {
	n := minInt(window, minInt(state.HistoryCount, iopoint.RuntimeHistoryCap))
	if n == 0 {
		return 0, 0
	}
	idx := state.HistoryHead - 1
	if idx < 0 {
		idx += iopoint.RuntimeHistoryCap
	}
	min, max := state.History[idx], state.History[idx]
	for i := 1; i < n; i++ {
		idx--
		if idx < 0 {
			idx += iopoint.RuntimeHistoryCap
		}
		v := state.History[idx]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max - min
}

func pushHistory(state *iopoint.AlarmRuntimeState, v float64) {
	state.History[state.HistoryHead] = v
	state.HistoryHead = (state.HistoryHead + 1) % iopoint.RuntimeHistoryCap
	if state.HistoryCount < iopoint.RuntimeHistoryCap {
		state.HistoryCount++
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
