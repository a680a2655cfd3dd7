package sim

import (
	"fmt"
	"math"
)

// StateValue is the flow-rate value of occupying a state: cost per unit time
// and utility (quality weight) per unit time.
type StateValue struct {
	Cost    float64
	Utility float64
}

// ValueSchedule maps each state to its value flow rates, with optional
// per-strategy overrides. Rates are constant within a state; time variation is
// expressed through the state structure itself (tunnel states).
type ValueSchedule struct {
	byState   []StateValue
	overrides map[int]map[int]StateValue // strategy -> state -> value
}

// NewValueSchedule builds a schedule over the graph's states. Every state must
// have an entry; absorbing states typically carry zero flows.
func NewValueSchedule(g *StateGraph, values map[string]StateValue) (*ValueSchedule, error) {
	byState := make([]StateValue, g.NumStates())
	seen := make([]bool, g.NumStates())
	for name, v := range values {
		idx, ok := g.StateIndex(name)
		if !ok {
			return nil, fmt.Errorf("value schedule: unknown state %q", name)
		}
		byState[idx] = v
		seen[idx] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("value schedule: no value for state %q", g.StateName(i))
		}
	}
	return &ValueSchedule{byState: byState, overrides: make(map[int]map[int]StateValue)}, nil
}

// Override replaces the value of one state for one strategy (treatment cost
// differences are the usual case).
func (vs *ValueSchedule) Override(strategy, state int, v StateValue) {
	m, ok := vs.overrides[strategy]
	if !ok {
		m = make(map[int]StateValue)
		vs.overrides[strategy] = m
	}
	m[state] = v
}

// ValueFor resolves the flow rates of a state under a strategy.
func (vs *ValueSchedule) ValueFor(strategy, state int) StateValue {
	if m, ok := vs.overrides[strategy]; ok {
		if v, ok := m[state]; ok {
			return v
		}
	}
	return vs.byState[state]
}

// Outcome is the discounted totals of one replicate at one discount rate.
type Outcome struct {
	Rate float64
	Cost float64
	QALY float64
}

// ValidateDiscountRates rejects negative or non-finite rates at configuration
// time.
func ValidateDiscountRates(rates []float64) error {
	if len(rates) == 0 {
		return fmt.Errorf("discounting: no rates given")
	}
	for i, r := range rates {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
			return fmt.Errorf("discounting: rate %d must be finite and >= 0, got %v", i, r)
		}
	}
	return nil
}

// discountedInterval is the present value of a unit flow over [t0, t1) at
// continuous discount rate r: (e^(-r*t0) - e^(-r*t1)) / r, with the r -> 0
// limit handled explicitly as t1 - t0.
func discountedInterval(t0, t1, r float64) float64 {
	if r == 0 {
		return t1 - t0
	}
	return (math.Exp(-r*t0) - math.Exp(-r*t1)) / r
}

// DiscountedOutcome integrates the schedule's flow rates over every occupied
// interval of a history at one discount rate. Discounting is pure
// post-processing over the same history, so any number of rates can be
// evaluated without re-simulating.
func (vs *ValueSchedule) DiscountedOutcome(h EventHistory, strategy int, rate float64) Outcome {
	out := Outcome{Rate: rate}
	for _, rec := range h {
		w := discountedInterval(rec.Start, rec.Stop, rate)
		v := vs.ValueFor(strategy, rec.From)
		out.Cost += v.Cost * w
		out.QALY += v.Utility * w
	}
	return out
}

// DiscountedOutcomes evaluates a history at several discount rates at once.
func (vs *ValueSchedule) DiscountedOutcomes(h EventHistory, strategy int, rates []float64) []Outcome {
	outs := make([]Outcome, len(rates))
	for i, r := range rates {
		outs[i] = vs.DiscountedOutcome(h, strategy, r)
	}
	return outs
}
