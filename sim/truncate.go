package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrSampleFault marks a replicate whose sampler could not produce a finite,
// non-negative draw within the retry budget. The batch orchestrator isolates
// the replicate and records it as missing instead of aborting the run.
var ErrSampleFault = errors.New("sampling fault")

const (
	maxSampleRetries = 8

	// Numeric inversion controls. The bracket doubles from bracketStart
	// up to bracketMax before the draw is declared to lie beyond any
	// practical horizon (+Inf).
	bracketStart    = 1.0
	bracketMax      = 1e9
	bisectIters     = 200
	bisectTolerance = 1e-10
)

// invertSurvival solves S(t) = target for t by bisection. target must be in
// (0, 1]; a target below the survival plateau of a defective distribution
// resolves to +Inf (the event never happens for this draw).
func invertSurvival(d Distribution, target float64) (float64, error) {
	if math.IsNaN(target) || target <= 0 || target > 1 {
		return 0, fmt.Errorf("invert survival of %s: target %v outside (0, 1]", d.Describe(), target)
	}
	if d.Survival(0) <= target {
		return 0, nil
	}

	// Grow the bracket until survival drops below the target.
	hi := bracketStart
	for d.Survival(hi) > target {
		hi *= 2
		if hi > bracketMax {
			return math.Inf(1), nil
		}
	}

	lo := 0.0
	for i := 0; i < bisectIters && hi-lo > bisectTolerance*(1+hi); i++ {
		mid := (lo + hi) / 2
		if d.Survival(mid) > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

// sampleClockReset draws an ordinary waiting time, retrying on non-finite or
// negative results before giving up with ErrSampleFault. +Inf is a legitimate
// outcome (degenerate or defective distributions) and is returned as-is.
func sampleClockReset(d Distribution, rng *rand.Rand) (float64, error) {
	for i := 0; i < maxSampleRetries; i++ {
		t := d.Sample(rng)
		if t >= 0 && !math.IsNaN(t) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %s produced no finite draw in %d attempts", ErrSampleFault, d.Describe(), maxSampleRetries)
}

// SampleTruncated draws a waiting time from d conditional on no event having
// occurred by t0 (clock-forward semantics): the returned value is additional
// time beyond t0. The conditional draw inverts S(t) = S(t0)*U, by closed-form
// quantile when the family has one and by bisection on Survival otherwise.
func SampleTruncated(d Distribution, rng *rand.Rand, t0 float64) (float64, error) {
	if t0 < 0 || math.IsNaN(t0) {
		return 0, fmt.Errorf("%w: negative elapsed time %v for %s", ErrSampleFault, t0, d.Describe())
	}
	if t0 == 0 {
		return sampleClockReset(d, rng)
	}

	s0 := d.Survival(t0)
	if s0 <= 0 {
		// All survival mass already spent; numerically the event is
		// overdue. Treat as an immediate transition rather than a fault.
		return 0, nil
	}

	for i := 0; i < maxSampleRetries; i++ {
		target := s0 * rng.Float64()
		var t float64
		if target == 0 {
			t = math.Inf(1)
		} else if q, ok := d.Quantile(1 - target); ok {
			t = q
		} else {
			inv, err := invertSurvival(d, target)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrSampleFault, err)
			}
			t = inv
		}

		if math.IsNaN(t) || t < 0 {
			continue
		}
		if math.IsInf(t, 1) {
			return t, nil
		}
		if wait := t - t0; wait >= 0 {
			return wait, nil
		}
		// Quantile landed below t0 through rounding; an overdue event
		// transitions immediately.
		return 0, nil
	}
	return 0, fmt.Errorf("%w: truncated draw from %s produced no finite value in %d attempts",
		ErrSampleFault, d.Describe(), maxSampleRetries)
}

// BernoulliHazardSample approximates a waiting-time draw by walking fixed-width
// intervals and flipping a Bernoulli coin per interval with the exact
// conditional transition probability 1 - S(t+step)/S(t). The draw starts at
// elapsed time t0 (0 for clock-reset models) and gives up at maxTime, returning
// +Inf (no event before the horizon). Accuracy trades against step width; the
// event time is reported at the end of the triggering interval.
func BernoulliHazardSample(d Distribution, rng *rand.Rand, t0, step, maxTime float64) (float64, error) {
	if !(step > 0) {
		return 0, fmt.Errorf("%w: non-positive time step %v", ErrSampleFault, step)
	}
	for t := t0; t < t0+maxTime; t += step {
		st := d.Survival(t)
		if st <= 0 {
			return t - t0, nil
		}
		p := 1 - d.Survival(t+step)/st
		if math.IsNaN(p) {
			return 0, fmt.Errorf("%w: %s has undefined hazard near t=%v", ErrSampleFault, d.Describe(), t)
		}
		if rng.Float64() < p {
			return t + step - t0, nil
		}
	}
	return math.Inf(1), nil
}
