package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ClockPolicy selects how transition hazards reference time.
type ClockPolicy string

const (
	// ClockReset restarts the local clock at zero on every state entry
	// (semi-Markov semantics).
	ClockReset ClockPolicy = "reset"
	// ClockForward references hazards to time since the process began, so
	// draws after the first transition condition on survival already
	// accrued (Markov semantics via truncated sampling).
	ClockForward ClockPolicy = "forward"
)

// IsValidClockPolicy reports whether the given string names a clock policy.
func IsValidClockPolicy(p string) bool {
	return p == string(ClockReset) || p == string(ClockForward) || p == ""
}

// SamplingPolicy selects how waiting times are drawn from edge distributions.
type SamplingPolicy string

const (
	// SampleClosedForm draws exact waiting times (closed-form quantile
	// where available, numeric inversion otherwise).
	SampleClosedForm SamplingPolicy = "closed-form"
	// SampleDiscrete approximates every edge with Bernoulli-hazard coin
	// flips over a global fixed time step. Faster for spline-heavy models,
	// less accurate. The single global step applies to all edges so mixed
	// models stay on one time grid.
	SampleDiscrete SamplingPolicy = "discrete"
)

// IsValidSamplingPolicy reports whether the given string names a sampling policy.
func IsValidSamplingPolicy(p string) bool {
	return p == string(SampleClosedForm) || p == string(SampleDiscrete) || p == ""
}

// SamplingConfig bundles the sampling policy with its discrete-time controls.
type SamplingConfig struct {
	Policy SamplingPolicy
	// TimeStep is the global interval width for SampleDiscrete.
	TimeStep float64
	// MaxStepSpan bounds how far a discrete walk searches for an event
	// before declaring it beyond the horizon. Defaults to the remaining
	// simulation horizon at run time if zero, so degenerate edges (rate 0,
	// defective tails) terminate instead of walking forever.
	MaxStepSpan float64
}

// CovariateEffect is one log-linear coefficient: the edge hazard is multiplied
// by exp(coefficient * covariate) per patient.
type CovariateEffect struct {
	Covariate   string
	Coefficient float64
}

// TransitionModel holds one immutable time-to-event distribution per
// (edge, strategy, PSA draw) cell plus per-edge covariate effects, and answers
// sample-next-transition queries for the trajectory simulator. All cells must
// be populated before use; Validate enforces this so malformed models fail at
// construction, not mid-simulation.
type TransitionModel struct {
	Graph      *StateGraph
	Clock      ClockPolicy
	Sampling   SamplingConfig
	Strategies []string
	Draws      int

	dists   []Distribution      // edge-major: [edge][strategy][draw] flattened
	effects [][]CovariateEffect // per edge
}

// NewTransitionModel allocates an empty model over the given graph. Strategies
// must be non-empty and draws >= 1; distributions are attached per cell with
// SetDistribution and the model is sealed with Validate.
func NewTransitionModel(g *StateGraph, clock ClockPolicy, sampling SamplingConfig, strategies []string, draws int) (*TransitionModel, error) {
	if g == nil {
		return nil, fmt.Errorf("transition model: nil state graph")
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("transition model: no strategies defined")
	}
	if draws < 1 {
		return nil, fmt.Errorf("transition model: draws must be >= 1, got %d", draws)
	}
	switch clock {
	case ClockReset, ClockForward:
	default:
		return nil, fmt.Errorf("transition model: unknown clock policy %q", clock)
	}
	switch sampling.Policy {
	case SampleClosedForm:
	case SampleDiscrete:
		if !(sampling.TimeStep > 0) {
			return nil, fmt.Errorf("transition model: discrete sampling needs time step > 0, got %v", sampling.TimeStep)
		}
	default:
		return nil, fmt.Errorf("transition model: unknown sampling policy %q", sampling.Policy)
	}

	return &TransitionModel{
		Graph:      g,
		Clock:      clock,
		Sampling:   sampling,
		Strategies: strategies,
		Draws:      draws,
		dists:      make([]Distribution, g.NumEdges()*len(strategies)*draws),
		effects:    make([][]CovariateEffect, g.NumEdges()),
	}, nil
}

func (m *TransitionModel) cell(edge, strategy, draw int) int {
	return (edge*len(m.Strategies)+strategy)*m.Draws + draw
}

// SetDistribution attaches the distribution for one (edge, strategy, draw)
// cell.
func (m *TransitionModel) SetDistribution(edge, strategy, draw int, d Distribution) error {
	if edge < 0 || edge >= m.Graph.NumEdges() {
		return fmt.Errorf("set distribution: edge index %d out of range", edge)
	}
	if strategy < 0 || strategy >= len(m.Strategies) {
		return fmt.Errorf("set distribution: strategy index %d out of range", strategy)
	}
	if draw < 0 || draw >= m.Draws {
		return fmt.Errorf("set distribution: draw index %d out of range", draw)
	}
	if d == nil {
		return fmt.Errorf("set distribution: nil distribution")
	}
	m.dists[m.cell(edge, strategy, draw)] = d
	return nil
}

// SetCovariateEffects attaches the log-linear covariate effects for one edge.
func (m *TransitionModel) SetCovariateEffects(edge int, effects []CovariateEffect) error {
	if edge < 0 || edge >= m.Graph.NumEdges() {
		return fmt.Errorf("set covariate effects: edge index %d out of range", edge)
	}
	m.effects[edge] = effects
	return nil
}

// Validate checks that every (edge, strategy, draw) cell has a distribution.
func (m *TransitionModel) Validate() error {
	for _, e := range m.Graph.Edges() {
		for s := range m.Strategies {
			for d := 0; d < m.Draws; d++ {
				if m.dists[m.cell(e.Index, s, d)] == nil {
					return fmt.Errorf("edge %s: no distribution for strategy %q, draw %d",
						m.Graph.EdgeName(e), m.Strategies[s], d)
				}
			}
		}
	}
	return nil
}

// Candidate is one sampled waiting time for an outgoing edge, measured from
// the moment of the query.
type Candidate struct {
	Edge Edge
	Wait float64
}

// distributionFor resolves the patient-conditioned distribution of one cell.
func (m *TransitionModel) distributionFor(edge Edge, pat *Patient, strategy, draw int) (Distribution, error) {
	d := m.dists[m.cell(edge.Index, strategy, draw)]
	effects := m.effects[edge.Index]
	if pat == nil || len(effects) == 0 {
		return d, nil
	}
	lp := 0.0
	for _, eff := range effects {
		lp += eff.Coefficient * pat.Covariate(eff.Covariate)
	}
	adjusted, err := AdjustHazard(d, math.Exp(lp))
	if err != nil {
		return nil, fmt.Errorf("edge %s, patient %s: %w", m.Graph.EdgeName(edge), pat.ID, err)
	}
	return adjusted, nil
}

// Candidates samples one waiting time per outgoing edge of the current state.
// enteredAt is the absolute time the state was entered and now the absolute
// query time (equal for the trajectory loop, which queries on entry); horizon
// is the absolute simulation end, which bounds the discrete-policy walk when
// no explicit MaxStepSpan is configured. Absorbing states yield an empty
// slice. Sampling faults surface as ErrSampleFault-wrapped errors carrying
// the offending edge.
func (m *TransitionModel) Candidates(state int, pat *Patient, strategy, draw int, enteredAt, now, horizon float64, rng *rand.Rand) ([]Candidate, error) {
	edges := m.Graph.Outgoing(state)
	if len(edges) == 0 {
		return nil, nil
	}

	cands := make([]Candidate, 0, len(edges))
	for _, e := range edges {
		d, err := m.distributionFor(e, pat, strategy, draw)
		if err != nil {
			return nil, err
		}

		// Elapsed time already survived on this edge's clock.
		elapsed := now - enteredAt
		if m.Clock == ClockForward {
			elapsed = now
		}

		var wait float64
		switch m.Sampling.Policy {
		case SampleDiscrete:
			span := m.Sampling.MaxStepSpan
			if span <= 0 {
				span = horizon - now
			}
			if span <= 0 || math.IsInf(span, 1) {
				// Query at or beyond the horizon: one interval, then
				// give up.
				span = m.Sampling.TimeStep
			}
			wait, err = BernoulliHazardSample(d, rng, elapsed, m.Sampling.TimeStep, span)
		default:
			if elapsed > 0 {
				wait, err = SampleTruncated(d, rng, elapsed)
			} else {
				wait, err = sampleClockReset(d, rng)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", m.Graph.EdgeName(e), err)
		}
		cands = append(cands, Candidate{Edge: e, Wait: wait})
	}
	return cands, nil
}
