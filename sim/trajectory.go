package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
)

// ErrTrajectoryStall marks a replicate that accumulated an implausible number
// of transitions without reaching an absorbing state or the horizon, which
// indicates a degenerate model (e.g. a zero-width cycle).
var ErrTrajectoryStall = errors.New("trajectory exceeded transition limit")

// maxTransitionsPerTrajectory caps a single trajectory as a stall guard.
const maxTransitionsPerTrajectory = 100000

// EventRecord is one row of a patient's event history: the interval
// [Start, Stop) occupied in state From, ending with a transition to state To.
// A horizon-censored record has To == From and Stop equal to the horizon.
// Exactly one record per history carries Final = true.
type EventRecord struct {
	From  int
	To    int
	Start float64
	Stop  float64
	Final bool
}

// EventHistory is the ordered, contiguous event sequence of one replicate.
type EventHistory []EventRecord

// Validate checks the structural guarantees of a history: time order,
// contiguity (Stop of record i equals Start of record i+1), and exactly one
// final record, which must be the last.
func (h EventHistory) Validate() error {
	if len(h) == 0 {
		return fmt.Errorf("event history: empty")
	}
	finals := 0
	for i, r := range h {
		if r.Stop < r.Start {
			return fmt.Errorf("event history: record %d has stop %v before start %v", i, r.Stop, r.Start)
		}
		if i > 0 && h[i-1].Stop != r.Start {
			return fmt.Errorf("event history: record %d starts at %v, previous stopped at %v", i, r.Start, h[i-1].Stop)
		}
		if r.Final {
			finals++
			if i != len(h)-1 {
				return fmt.Errorf("event history: final flag on record %d of %d", i, len(h))
			}
		}
	}
	if finals != 1 {
		return fmt.Errorf("event history: %d final records, want exactly 1", finals)
	}
	return nil
}

// Duration returns the total simulated time covered by the history.
func (h EventHistory) Duration() float64 {
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1].Stop
}

// RunTrajectory drives one patient through the state graph from the initial
// state at time 0 until an absorbing state or maxTime is reached, using the
// competing-risks race over the model's sampled waiting times. Ties in the
// race break toward the earliest-declared edge so a fixed seed reproduces the
// trajectory exactly. A sampling fault aborts only this replicate.
func RunTrajectory(m *TransitionModel, pat *Patient, strategy, draw int, maxTime float64, rng *rand.Rand) (EventHistory, error) {
	if !(maxTime > 0) {
		return nil, fmt.Errorf("trajectory: horizon must be > 0, got %v", maxTime)
	}

	var history EventHistory
	state := m.Graph.Initial()
	t := 0.0

	for len(history) < maxTransitionsPerTrajectory {
		if m.Graph.Absorbing(state) {
			// Only possible when the initial state itself is absorbing;
			// transitions into absorbing states finalize below.
			history = append(history, EventRecord{From: state, To: state, Start: t, Stop: maxTime, Final: true})
			return history, nil
		}

		cands, err := m.Candidates(state, pat, strategy, draw, t, t, maxTime, rng)
		if err != nil {
			return nil, err
		}

		// Competing-risks race: strictly-less comparison keeps the
		// earliest-declared edge on ties.
		best := cands[0]
		for _, c := range cands[1:] {
			if c.Wait < best.Wait {
				best = c
			}
		}

		if math.IsInf(best.Wait, 1) || t+best.Wait > maxTime {
			history = append(history, EventRecord{From: state, To: state, Start: t, Stop: maxTime, Final: true})
			return history, nil
		}

		stop := t + best.Wait
		next := best.Edge.To
		logrus.Debugf("[t=%.4f] %s -> %s (patient %s)", stop, m.Graph.StateName(state), m.Graph.StateName(next), pat.ID)

		if m.Graph.Absorbing(next) {
			history = append(history, EventRecord{From: state, To: next, Start: t, Stop: stop, Final: true})
			return history, nil
		}
		history = append(history, EventRecord{From: state, To: next, Start: t, Stop: stop})
		state, t = next, stop
	}
	return nil, fmt.Errorf("%w: state %q after %d transitions", ErrTrajectoryStall, m.Graph.StateName(state), len(history))
}
