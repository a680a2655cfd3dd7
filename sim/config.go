package sim

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelSpec is the YAML model definition: states, permitted transitions with
// their per-strategy fitted distributions, value flows, cohort, and run
// defaults. LoadModelSpec parses it strictly; Build turns it into validated
// simulation inputs.
type ModelSpec struct {
	States         []string             `yaml:"states"`
	InitialState   string               `yaml:"initial_state"`
	Clock          string               `yaml:"clock"`
	Sampling       SamplingSpec         `yaml:"sampling"`
	Strategies     []string             `yaml:"strategies"`
	Transitions    []TransitionSpec     `yaml:"transitions"`
	Values         map[string]ValueSpec `yaml:"values"`
	ValueOverrides []ValueOverrideSpec  `yaml:"value_overrides"`
	DiscountRates  []float64            `yaml:"discount_rates"`
	Horizon        float64              `yaml:"horizon"`
	PSADraws       int                  `yaml:"psa_draws"`
	Patients       []PatientSpec        `yaml:"patients"`
	Cohort         *CohortSpec          `yaml:"cohort"`
}

// SamplingSpec configures the sampling policy from YAML.
type SamplingSpec struct {
	Policy   string  `yaml:"policy"`
	TimeStep float64 `yaml:"time_step"`
}

// DistSpec names a distribution family with its fitted parameters. PSA, when
// present, supplies one full parameter set per PSA draw for scalar-parameter
// families; its length must equal psa_draws. Piecewise and spline families
// carry their vector-valued parameters in the dedicated fields and take no
// psa block.
type DistSpec struct {
	Family string               `yaml:"family"`
	Params map[string]float64   `yaml:"params"`
	PSA    []map[string]float64 `yaml:"psa"`

	Breaks    []float64 `yaml:"breaks"`
	Rates     []float64 `yaml:"rates"`
	Knots     []float64 `yaml:"knots"`
	LogHazard []float64 `yaml:"log_hazard"`
}

// TransitionSpec is one permitted edge with a distribution per strategy.
type TransitionSpec struct {
	From             string              `yaml:"from"`
	To               string              `yaml:"to"`
	Strategies       map[string]DistSpec `yaml:"strategies"`
	CovariateEffects map[string]float64  `yaml:"covariate_effects"`
}

// ValueSpec is the per-state value flow rates in YAML.
type ValueSpec struct {
	Cost    float64 `yaml:"cost"`
	Utility float64 `yaml:"utility"`
}

// ValueOverrideSpec replaces one state's value flows under one strategy.
type ValueOverrideSpec struct {
	Strategy string  `yaml:"strategy"`
	State    string  `yaml:"state"`
	Cost     float64 `yaml:"cost"`
	Utility  float64 `yaml:"utility"`
}

// PatientSpec is one explicit patient row.
type PatientSpec struct {
	ID         string             `yaml:"id"`
	Age        float64            `yaml:"age"`
	Female     bool               `yaml:"female"`
	Covariates map[string]float64 `yaml:"covariates"`
}

// BuiltModel is the output of ModelSpec.Build: everything a batch run needs.
type BuiltModel struct {
	Model         *TransitionModel
	Schedule      *ValueSchedule
	Patients      []*Patient
	DiscountRates []float64
	Horizon       float64
	PSADraws      int
}

// LoadModelSpec reads and strictly parses a model definition file. Unknown
// YAML fields are rejected so typos fail loudly.
func LoadModelSpec(path string) (*ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model spec: %w", err)
	}
	return ParseModelSpec(data)
}

// ParseModelSpec strictly parses model definition YAML.
func ParseModelSpec(data []byte) (*ModelSpec, error) {
	var spec ModelSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse model spec: %w", err)
	}
	return &spec, nil
}

// requiredParams lists the exact parameter names per scalar-parameter family.
var requiredParams = map[string][]string{
	"exponential": {"rate"},
	"weibull":     {"shape", "scale"},
	"gompertz":    {"shape", "rate"},
	"gamma":       {"shape", "rate"},
	"lognormal":   {"mu", "sigma"},
}

// checkParamArity enforces that params holds exactly the family's parameter
// names: wrong arity is a construction-time configuration error.
func checkParamArity(family string, params map[string]float64) error {
	want, ok := requiredParams[family]
	if !ok {
		return fmt.Errorf("unknown distribution family %q", family)
	}
	for _, name := range want {
		if _, present := params[name]; !present {
			return fmt.Errorf("family %q: missing parameter %q (wants exactly %v)", family, name, want)
		}
	}
	for name := range params {
		known := false
		for _, w := range want {
			if name == w {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("family %q: unexpected parameter %q (wants exactly %v)", family, name, want)
		}
	}
	return nil
}

// buildDistribution constructs one distribution from a family name and a
// scalar parameter map (or the vector fields of the spec for piecewise and
// spline families).
func buildDistribution(ds DistSpec, params map[string]float64) (Distribution, error) {
	switch ds.Family {
	case "piecewise-exponential":
		return NewPiecewiseExponential(ds.Breaks, ds.Rates)
	case "spline":
		return NewSplineHazard(ds.Knots, ds.LogHazard)
	}
	if err := checkParamArity(ds.Family, params); err != nil {
		return nil, err
	}
	switch ds.Family {
	case "exponential":
		return NewExponential(params["rate"])
	case "weibull":
		return NewWeibull(params["shape"], params["scale"])
	case "gompertz":
		return NewGompertz(params["shape"], params["rate"])
	case "gamma":
		return NewGamma(params["shape"], params["rate"])
	case "lognormal":
		return NewLogNormal(params["mu"], params["sigma"])
	}
	return nil, fmt.Errorf("unknown distribution family %q", ds.Family)
}

// Build validates the whole spec and assembles the simulation inputs. seed
// drives synthetic cohort generation only; replicate RNG streams derive from
// the batch seed at run time.
func (spec *ModelSpec) Build(seed int64) (*BuiltModel, error) {
	transitions := make([][2]string, len(spec.Transitions))
	for i, tr := range spec.Transitions {
		transitions[i] = [2]string{tr.From, tr.To}
	}
	graph, err := NewStateGraph(spec.States, transitions, spec.InitialState)
	if err != nil {
		return nil, err
	}

	if !IsValidClockPolicy(spec.Clock) {
		return nil, fmt.Errorf("unknown clock policy %q (want %q or %q)", spec.Clock, ClockReset, ClockForward)
	}
	clock := ClockPolicy(spec.Clock)
	if spec.Clock == "" {
		clock = ClockReset
	}

	if !IsValidSamplingPolicy(spec.Sampling.Policy) {
		return nil, fmt.Errorf("unknown sampling policy %q (want %q or %q)",
			spec.Sampling.Policy, SampleClosedForm, SampleDiscrete)
	}
	sampling := SamplingConfig{Policy: SamplingPolicy(spec.Sampling.Policy), TimeStep: spec.Sampling.TimeStep}
	if spec.Sampling.Policy == "" {
		sampling.Policy = SampleClosedForm
	}

	draws := spec.PSADraws
	if draws == 0 {
		draws = 1
	}

	model, err := NewTransitionModel(graph, clock, sampling, spec.Strategies, draws)
	if err != nil {
		return nil, err
	}

	strategyIndex := make(map[string]int, len(spec.Strategies))
	for i, s := range spec.Strategies {
		if _, dup := strategyIndex[s]; dup {
			return nil, fmt.Errorf("duplicate strategy %q", s)
		}
		strategyIndex[s] = i
	}

	for i, tr := range spec.Transitions {
		edgeName := tr.From + "->" + tr.To
		if len(tr.Strategies) == 0 {
			return nil, fmt.Errorf("edge %s: no strategy distributions", edgeName)
		}
		for name, ds := range tr.Strategies {
			sIdx, ok := strategyIndex[name]
			if !ok {
				return nil, fmt.Errorf("edge %s: unknown strategy %q", edgeName, name)
			}
			switch ds.Family {
			case "piecewise-exponential", "spline":
				// Vector-parameter families carry their parameters in the
				// dedicated fields; a psa block would be silently ignored.
				if len(ds.PSA) != 0 {
					return nil, fmt.Errorf("edge %s, strategy %q: family %q takes no psa parameter sets",
						edgeName, name, ds.Family)
				}
			}
			if len(ds.PSA) != 0 && len(ds.PSA) != draws {
				return nil, fmt.Errorf("edge %s, strategy %q: %d PSA parameter sets for %d draws",
					edgeName, name, len(ds.PSA), draws)
			}
			for dIdx := 0; dIdx < draws; dIdx++ {
				params := ds.Params
				if len(ds.PSA) != 0 {
					params = ds.PSA[dIdx]
				}
				dist, err := buildDistribution(ds, params)
				if err != nil {
					return nil, fmt.Errorf("edge %s, strategy %q, draw %d: %w", edgeName, name, dIdx, err)
				}
				if err := model.SetDistribution(i, sIdx, dIdx, dist); err != nil {
					return nil, err
				}
			}
		}
		if len(tr.CovariateEffects) > 0 {
			if err := model.SetCovariateEffects(i, sortedEffects(tr.CovariateEffects)); err != nil {
				return nil, err
			}
		}
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	values := make(map[string]StateValue, len(spec.Values))
	for name, v := range spec.Values {
		values[name] = StateValue{Cost: v.Cost, Utility: v.Utility}
	}
	schedule, err := NewValueSchedule(graph, values)
	if err != nil {
		return nil, err
	}
	for _, ov := range spec.ValueOverrides {
		sIdx, ok := strategyIndex[ov.Strategy]
		if !ok {
			return nil, fmt.Errorf("value override: unknown strategy %q", ov.Strategy)
		}
		state, ok := graph.StateIndex(ov.State)
		if !ok {
			return nil, fmt.Errorf("value override: unknown state %q", ov.State)
		}
		schedule.Override(sIdx, state, StateValue{Cost: ov.Cost, Utility: ov.Utility})
	}

	patients, err := spec.buildPatients(seed)
	if err != nil {
		return nil, err
	}

	rates := spec.DiscountRates
	if len(rates) == 0 {
		rates = []float64{0}
	}
	if err := ValidateDiscountRates(rates); err != nil {
		return nil, err
	}

	if !(spec.Horizon > 0) {
		return nil, fmt.Errorf("horizon must be > 0, got %v", spec.Horizon)
	}

	return &BuiltModel{
		Model:         model,
		Schedule:      schedule,
		Patients:      patients,
		DiscountRates: rates,
		Horizon:       spec.Horizon,
		PSADraws:      draws,
	}, nil
}

func (spec *ModelSpec) buildPatients(seed int64) ([]*Patient, error) {
	if len(spec.Patients) > 0 && spec.Cohort != nil {
		return nil, fmt.Errorf("give either an explicit patient table or a cohort spec, not both")
	}
	if spec.Cohort != nil {
		rng := SubsystemRNG(NewSimulationKey(seed), SubsystemCohort)
		return SynthesizeCohort(*spec.Cohort, rng)
	}
	if len(spec.Patients) == 0 {
		return nil, fmt.Errorf("no patients: give a patient table or a cohort spec")
	}

	patients := make([]*Patient, len(spec.Patients))
	seen := make(map[string]bool, len(spec.Patients))
	for i, ps := range spec.Patients {
		id := ps.ID
		if id == "" {
			id = fmt.Sprintf("patient_%d", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate patient id %q", id)
		}
		seen[id] = true
		p := &Patient{ID: id, Age: ps.Age, Female: ps.Female, Covariates: make(map[string]float64, len(ps.Covariates)+2)}
		for k, v := range ps.Covariates {
			p.Covariates[k] = v
		}
		p.normalizeCovariates()
		patients[i] = p
	}
	return patients, nil
}

// sortedEffects converts the YAML effect map to a deterministic slice.
func sortedEffects(effects map[string]float64) []CovariateEffect {
	names := make([]string, 0, len(effects))
	for name := range effects {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]CovariateEffect, len(names))
	for i, name := range names {
		out[i] = CovariateEffect{Covariate: name, Coefficient: effects[name]}
	}
	return out
}
