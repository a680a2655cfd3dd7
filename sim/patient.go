package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Patient is one simulated individual: an identity plus the static covariates
// that condition transition distributions. Covariates hold arbitrary named
// values referenced by per-edge covariate effects; Age and Female are also
// mirrored into Covariates ("age", "female") so effects can reference them
// uniformly.
type Patient struct {
	ID         string
	Age        float64
	Female     bool
	Covariates map[string]float64
}

// Covariate returns the named covariate value, defaulting to 0 when absent.
func (p *Patient) Covariate(name string) float64 {
	return p.Covariates[name]
}

// normalizeCovariates mirrors the built-in fields into the covariate map.
func (p *Patient) normalizeCovariates() {
	if p.Covariates == nil {
		p.Covariates = make(map[string]float64, 2)
	}
	p.Covariates["age"] = p.Age
	female := 0.0
	if p.Female {
		female = 1.0
	}
	p.Covariates["female"] = female
}

// CohortSpec describes a synthetic patient cohort when no explicit patient
// table is supplied: ages are drawn from a clamped Gaussian and sex from a
// Bernoulli with the given female fraction.
type CohortSpec struct {
	Size           int     `yaml:"size"`
	AgeMean        float64 `yaml:"age_mean"`
	AgeStdDev      float64 `yaml:"age_stddev"`
	AgeMin         float64 `yaml:"age_min"`
	AgeMax         float64 `yaml:"age_max"`
	FemaleFraction float64 `yaml:"female_fraction"`
}

// SynthesizeCohort generates the cohort deterministically from the supplied
// stream. Ages outside [AgeMin, AgeMax] are clamped.
func SynthesizeCohort(spec CohortSpec, rng *rand.Rand) ([]*Patient, error) {
	if spec.Size <= 0 {
		return nil, fmt.Errorf("cohort: size must be > 0, got %d", spec.Size)
	}
	if spec.AgeMin > spec.AgeMax {
		return nil, fmt.Errorf("cohort: age_min %v exceeds age_max %v", spec.AgeMin, spec.AgeMax)
	}
	if spec.FemaleFraction < 0 || spec.FemaleFraction > 1 {
		return nil, fmt.Errorf("cohort: female_fraction must be in [0, 1], got %v", spec.FemaleFraction)
	}

	patients := make([]*Patient, spec.Size)
	for i := range patients {
		age := rng.NormFloat64()*spec.AgeStdDev + spec.AgeMean
		age = math.Min(spec.AgeMax, math.Max(spec.AgeMin, age))
		p := &Patient{
			ID:     fmt.Sprintf("patient_%d", i),
			Age:    age,
			Female: rng.Float64() < spec.FemaleFraction,
		}
		p.normalizeCovariates()
		patients[i] = p
	}
	return patients, nil
}
