package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeStateYAML = `
states: [Healthy, Sick, Dead]
initial_state: Healthy
clock: reset
strategies: [soc, new]
horizon: 40
psa_draws: 2
discount_rates: [0, 0.03]
transitions:
  - from: Healthy
    to: Sick
    covariate_effects:
      age: 0.02
      female: -0.1
    strategies:
      soc:
        family: weibull
        psa:
          - {shape: 1.2, scale: 8}
          - {shape: 1.3, scale: 7.5}
      new:
        family: weibull
        psa:
          - {shape: 1.2, scale: 11}
          - {shape: 1.3, scale: 10.5}
  - from: Healthy
    to: Dead
    strategies:
      soc: {family: exponential, params: {rate: 0.01}}
      new: {family: exponential, params: {rate: 0.01}}
  - from: Sick
    to: Dead
    strategies:
      soc:
        family: piecewise-exponential
        breaks: [2]
        rates: [0.4, 0.2]
      new: {family: gompertz, params: {shape: 0.05, rate: 0.1}}
values:
  Healthy: {cost: 500, utility: 0.95}
  Sick: {cost: 12000, utility: 0.6}
  Dead: {cost: 0, utility: 0}
value_overrides:
  - {strategy: new, state: Sick, cost: 30000, utility: 0.6}
patients:
  - {id: p1, age: 55, female: true}
  - {id: p2, age: 62, female: false, covariates: {biomarker: 1.4}}
`

func TestParseModelSpec_ThreeStateExample(t *testing.T) {
	spec, err := ParseModelSpec([]byte(threeStateYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"Healthy", "Sick", "Dead"}, spec.States)
	assert.Equal(t, "Healthy", spec.InitialState)
	assert.Len(t, spec.Transitions, 3)
	assert.Equal(t, 2, spec.PSADraws)
	assert.Equal(t, 40.0, spec.Horizon)
}

func TestParseModelSpec_RejectsUnknownFields(t *testing.T) {
	_, err := ParseModelSpec([]byte("states: [A, B]\nhorizonn: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "horizonn")
}

func TestModelSpec_Build(t *testing.T) {
	spec, err := ParseModelSpec([]byte(threeStateYAML))
	require.NoError(t, err)
	built, err := spec.Build(7)
	require.NoError(t, err)

	assert.Equal(t, 3, built.Model.Graph.NumStates())
	assert.Equal(t, 3, built.Model.Graph.NumEdges())
	assert.Equal(t, []string{"soc", "new"}, built.Model.Strategies)
	assert.Equal(t, 2, built.Model.Draws)
	assert.NoError(t, built.Model.Validate())
	assert.Equal(t, []float64{0, 0.03}, built.DiscountRates)
	assert.Equal(t, 2, built.PSADraws)

	require.Len(t, built.Patients, 2)
	assert.Equal(t, "p1", built.Patients[0].ID)
	assert.Equal(t, 1.0, built.Patients[0].Covariate("female"))
	assert.Equal(t, 1.4, built.Patients[1].Covariate("biomarker"))

	sick, ok := built.Model.Graph.StateIndex("Sick")
	require.True(t, ok)
	assert.Equal(t, StateValue{Cost: 12000, Utility: 0.6}, built.Schedule.ValueFor(0, sick))
	assert.Equal(t, StateValue{Cost: 30000, Utility: 0.6}, built.Schedule.ValueFor(1, sick))
}

func TestModelSpec_Build_PSADrawsDifferByParameterSet(t *testing.T) {
	spec, err := ParseModelSpec([]byte(threeStateYAML))
	require.NoError(t, err)
	built, err := spec.Build(7)
	require.NoError(t, err)

	// Draw 0 and draw 1 of Healthy->Sick under soc carry different fitted
	// parameters, so their survival curves must differ.
	pat := built.Patients[0]
	c0, err := built.Model.Candidates(0, pat, 0, 0, 0, 0, built.Horizon, testRNG(1))
	require.NoError(t, err)
	c1, err := built.Model.Candidates(0, pat, 0, 1, 0, 0, built.Horizon, testRNG(1))
	require.NoError(t, err)
	require.Len(t, c0, 2)
	require.Len(t, c1, 2)
	assert.NotEqual(t, c0[0].Wait, c1[0].Wait)
}

func TestModelSpec_Build_CohortSynthesis(t *testing.T) {
	yaml := strings.Replace(threeStateYAML,
		"patients:\n  - {id: p1, age: 55, female: true}\n  - {id: p2, age: 62, female: false, covariates: {biomarker: 1.4}}\n",
		"cohort: {size: 20, age_mean: 60, age_stddev: 8, age_min: 18, age_max: 100, female_fraction: 0.5}\n", 1)
	spec, err := ParseModelSpec([]byte(yaml))
	require.NoError(t, err)

	b1, err := spec.Build(7)
	require.NoError(t, err)
	require.Len(t, b1.Patients, 20)
	for _, p := range b1.Patients {
		assert.GreaterOrEqual(t, p.Age, 18.0)
		assert.LessOrEqual(t, p.Age, 100.0)
	}

	// Same seed, same cohort.
	b2, err := spec.Build(7)
	require.NoError(t, err)
	assert.Equal(t, b1.Patients, b2.Patients)

	// Different seed, different cohort.
	b3, err := spec.Build(8)
	require.NoError(t, err)
	assert.NotEqual(t, b1.Patients, b3.Patients)
}

func TestModelSpec_Build_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(spec *ModelSpec)
		wantErr string
	}{
		{
			"unknown family",
			func(s *ModelSpec) {
				ds := s.Transitions[1].Strategies["soc"]
				ds.Family = "frechet"
				s.Transitions[1].Strategies["soc"] = ds
			},
			"unknown distribution family",
		},
		{
			"missing parameter",
			func(s *ModelSpec) {
				ds := s.Transitions[1].Strategies["soc"]
				ds.Params = map[string]float64{}
				s.Transitions[1].Strategies["soc"] = ds
			},
			"missing parameter",
		},
		{
			"extra parameter",
			func(s *ModelSpec) {
				ds := s.Transitions[1].Strategies["soc"]
				ds.Params = map[string]float64{"rate": 0.01, "shape": 2}
				s.Transitions[1].Strategies["soc"] = ds
			},
			"unexpected parameter",
		},
		{
			"psa on vector-parameter family",
			func(s *ModelSpec) {
				ds := s.Transitions[2].Strategies["soc"]
				ds.PSA = []map[string]float64{{}, {}}
				s.Transitions[2].Strategies["soc"] = ds
			},
			"no psa parameter sets",
		},
		{
			"unknown strategy on edge",
			func(s *ModelSpec) {
				s.Transitions[1].Strategies["experimental"] = DistSpec{
					Family: "exponential", Params: map[string]float64{"rate": 0.01},
				}
			},
			"unknown strategy",
		},
		{
			"psa length mismatch",
			func(s *ModelSpec) { s.PSADraws = 3 },
			"PSA parameter sets",
		},
		{
			"missing strategy distribution",
			func(s *ModelSpec) { delete(s.Transitions[1].Strategies, "new") },
			"no distribution",
		},
		{
			"unknown transition state",
			func(s *ModelSpec) { s.Transitions[1].To = "Cured" },
			"unknown to-state",
		},
		{
			"unknown initial state",
			func(s *ModelSpec) { s.InitialState = "Cured" },
			"initial state",
		},
		{
			"bad clock policy",
			func(s *ModelSpec) { s.Clock = "stopwatch" },
			"clock policy",
		},
		{
			"bad sampling policy",
			func(s *ModelSpec) { s.Sampling.Policy = "exact-ish" },
			"sampling policy",
		},
		{
			"missing state value",
			func(s *ModelSpec) { delete(s.Values, "Sick") },
			"no value for state",
		},
		{
			"override for unknown strategy",
			func(s *ModelSpec) { s.ValueOverrides[0].Strategy = "experimental" },
			"unknown strategy",
		},
		{
			"negative discount rate",
			func(s *ModelSpec) { s.DiscountRates = []float64{-0.03} },
			"rate",
		},
		{
			"zero horizon",
			func(s *ModelSpec) { s.Horizon = 0 },
			"horizon",
		},
		{
			"duplicate strategy",
			func(s *ModelSpec) { s.Strategies = []string{"soc", "soc"} },
			"duplicate strategy",
		},
		{
			"duplicate patient id",
			func(s *ModelSpec) { s.Patients[1].ID = "p1" },
			"duplicate patient id",
		},
		{
			"patients and cohort together",
			func(s *ModelSpec) { s.Cohort = &CohortSpec{Size: 5} },
			"not both",
		},
		{
			"no patients at all",
			func(s *ModelSpec) { s.Patients = nil },
			"no patients",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseModelSpec([]byte(threeStateYAML))
			require.NoError(t, err)
			tt.mutate(spec)
			_, err = spec.Build(7)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
