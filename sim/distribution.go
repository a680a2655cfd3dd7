package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a time-to-event distribution attached to one edge of the
// state graph. Implementations are immutable after construction and safe for
// concurrent use; all randomness comes from the caller-supplied rng.
//
// Sample draws an ordinary (clock-reset) waiting time. Quantile reports
// ok=false for families without a closed-form inverse CDF; those families are
// sampled by numeric inversion of Survival instead. Survival must be defined
// for all t >= 0 and non-increasing.
type Distribution interface {
	Sample(rng *rand.Rand) float64
	Quantile(p float64) (float64, bool)
	Survival(t float64) float64
	Describe() string
}

// sampleByQuantile is the inverse-CDF draw used by every closed-form family.
func sampleByQuantile(d Distribution, rng *rand.Rand) float64 {
	t, ok := d.Quantile(rng.Float64())
	if !ok {
		return math.NaN()
	}
	return t
}

// === Exponential ===

// Exponential has constant hazard Rate. Rate 0 is the degenerate "transition
// not possible" case: every sample is +Inf and survival is identically 1.
type Exponential struct {
	inner distuv.Exponential
	rate  float64
}

// NewExponential validates rate >= 0.
func NewExponential(rate float64) (*Exponential, error) {
	if math.IsNaN(rate) || rate < 0 {
		return nil, fmt.Errorf("exponential: rate must be >= 0, got %v", rate)
	}
	return &Exponential{inner: distuv.Exponential{Rate: rate}, rate: rate}, nil
}

func (d *Exponential) Sample(rng *rand.Rand) float64 { return sampleByQuantile(d, rng) }

func (d *Exponential) Quantile(p float64) (float64, bool) {
	if d.rate == 0 {
		return math.Inf(1), true
	}
	return d.inner.Quantile(p), true
}

func (d *Exponential) Survival(t float64) float64 {
	if d.rate == 0 {
		return 1
	}
	return d.inner.Survival(t)
}

func (d *Exponential) Describe() string { return fmt.Sprintf("exponential(rate=%g)", d.rate) }

// === Weibull ===

// Weibull with shape K and scale Lambda, in the survival parameterisation
// S(t) = exp(-(t/scale)^shape).
type Weibull struct {
	inner distuv.Weibull
}

// NewWeibull validates shape > 0 and scale > 0.
func NewWeibull(shape, scale float64) (*Weibull, error) {
	if !(shape > 0) || !(scale > 0) {
		return nil, fmt.Errorf("weibull: shape and scale must be > 0, got shape=%v scale=%v", shape, scale)
	}
	return &Weibull{inner: distuv.Weibull{K: shape, Lambda: scale}}, nil
}

func (d *Weibull) Sample(rng *rand.Rand) float64      { return sampleByQuantile(d, rng) }
func (d *Weibull) Quantile(p float64) (float64, bool) { return d.inner.Quantile(p), true }
func (d *Weibull) Survival(t float64) float64         { return d.inner.Survival(t) }
func (d *Weibull) Describe() string {
	return fmt.Sprintf("weibull(shape=%g, scale=%g)", d.inner.K, d.inner.Lambda)
}

// === LogNormal ===

// LogNormal with Mu and Sigma on the log scale.
type LogNormal struct {
	inner distuv.LogNormal
}

// NewLogNormal validates sigma > 0.
func NewLogNormal(mu, sigma float64) (*LogNormal, error) {
	if !(sigma > 0) {
		return nil, fmt.Errorf("lognormal: sigma must be > 0, got %v", sigma)
	}
	return &LogNormal{inner: distuv.LogNormal{Mu: mu, Sigma: sigma}}, nil
}

func (d *LogNormal) Sample(rng *rand.Rand) float64      { return sampleByQuantile(d, rng) }
func (d *LogNormal) Quantile(p float64) (float64, bool) { return d.inner.Quantile(p), true }
func (d *LogNormal) Survival(t float64) float64         { return d.inner.Survival(t) }
func (d *LogNormal) Describe() string {
	return fmt.Sprintf("lognormal(mu=%g, sigma=%g)", d.inner.Mu, d.inner.Sigma)
}

// === Gamma ===

// Gamma with shape Alpha and rate Beta. distuv has no closed-form gamma
// quantile, so truncated draws fall back to numeric inversion; plain draws use
// distuv's rejection sampler with the replicate's rng as source.
type Gamma struct {
	inner distuv.Gamma
}

// NewGamma validates shape > 0 and rate > 0.
func NewGamma(shape, rate float64) (*Gamma, error) {
	if !(shape > 0) || !(rate > 0) {
		return nil, fmt.Errorf("gamma: shape and rate must be > 0, got shape=%v rate=%v", shape, rate)
	}
	return &Gamma{inner: distuv.Gamma{Alpha: shape, Beta: rate}}, nil
}

func (d *Gamma) Sample(rng *rand.Rand) float64 {
	g := d.inner
	g.Src = rng
	return g.Rand()
}

func (d *Gamma) Quantile(p float64) (float64, bool) { return 0, false }
func (d *Gamma) Survival(t float64) float64         { return d.inner.Survival(t) }
func (d *Gamma) Describe() string {
	return fmt.Sprintf("gamma(shape=%g, rate=%g)", d.inner.Alpha, d.inner.Beta)
}

// === Gompertz ===

// Gompertz with shape a and rate b: S(t) = exp(-(b/a)(e^(a*t) - 1)).
// Standard in mortality modelling; shape 0 reduces to exponential(b).
// Negative shape gives a defective distribution (survival plateaus above 0),
// so a fraction of draws is legitimately +Inf.
type Gompertz struct {
	shape float64
	rate  float64
}

// NewGompertz validates rate > 0. Shape may be any finite value.
func NewGompertz(shape, rate float64) (*Gompertz, error) {
	if !(rate > 0) {
		return nil, fmt.Errorf("gompertz: rate must be > 0, got %v", rate)
	}
	if math.IsNaN(shape) || math.IsInf(shape, 0) {
		return nil, fmt.Errorf("gompertz: shape must be finite, got %v", shape)
	}
	return &Gompertz{shape: shape, rate: rate}, nil
}

func (d *Gompertz) Sample(rng *rand.Rand) float64 { return sampleByQuantile(d, rng) }

func (d *Gompertz) Quantile(p float64) (float64, bool) {
	if d.shape == 0 {
		return -math.Log(1-p) / d.rate, true
	}
	// Invert S(t) = 1-p. For negative shape the argument of Log can go
	// non-positive: the event never happens for that draw.
	arg := 1 + d.shape/d.rate*(-math.Log(1-p))
	if arg <= 0 {
		return math.Inf(1), true
	}
	return math.Log(arg) / d.shape, true
}

func (d *Gompertz) Survival(t float64) float64 {
	if d.shape == 0 {
		return math.Exp(-d.rate * t)
	}
	return math.Exp(-d.rate / d.shape * (math.Exp(d.shape*t) - 1))
}

func (d *Gompertz) Describe() string {
	return fmt.Sprintf("gompertz(shape=%g, rate=%g)", d.shape, d.rate)
}

// === Piecewise exponential ===

// PiecewiseExponential has a constant hazard per interval between break
// times. Breaks must start implicitly at 0: rates[i] applies on
// [breaks[i-1], breaks[i]) with breaks[len-1] = +Inf implied by the final
// rate applying forever.
type PiecewiseExponential struct {
	breaks []float64 // interval upper bounds, strictly increasing; last interval unbounded
	rates  []float64 // len(rates) == len(breaks)+1
	cumHaz []float64 // cumulative hazard at each break
}

// NewPiecewiseExponential validates len(rates) == len(breaks)+1, strictly
// increasing positive breaks, and non-negative rates.
func NewPiecewiseExponential(breaks, rates []float64) (*PiecewiseExponential, error) {
	if len(rates) != len(breaks)+1 {
		return nil, fmt.Errorf("piecewise-exponential: need len(rates) == len(breaks)+1, got %d rates and %d breaks",
			len(rates), len(breaks))
	}
	prev := 0.0
	for i, b := range breaks {
		if !(b > prev) {
			return nil, fmt.Errorf("piecewise-exponential: breaks must be positive and strictly increasing, break %d = %v", i, b)
		}
		prev = b
	}
	for i, r := range rates {
		if math.IsNaN(r) || r < 0 {
			return nil, fmt.Errorf("piecewise-exponential: rate %d must be >= 0, got %v", i, r)
		}
	}

	cum := make([]float64, len(breaks))
	lo := 0.0
	total := 0.0
	for i, b := range breaks {
		total += rates[i] * (b - lo)
		cum[i] = total
		lo = b
	}
	return &PiecewiseExponential{breaks: breaks, rates: rates, cumHaz: cum}, nil
}

// cumulativeHazard integrates the hazard from 0 to t.
func (d *PiecewiseExponential) cumulativeHazard(t float64) float64 {
	i := sort.SearchFloat64s(d.breaks, t)
	lo, base := 0.0, 0.0
	if i > 0 {
		lo, base = d.breaks[i-1], d.cumHaz[i-1]
	}
	return base + d.rates[i]*(t-lo)
}

func (d *PiecewiseExponential) Sample(rng *rand.Rand) float64 { return sampleByQuantile(d, rng) }

func (d *PiecewiseExponential) Quantile(p float64) (float64, bool) {
	// Find t with cumulative hazard H(t) = -log(1-p).
	target := -math.Log(1 - p)
	lo, base := 0.0, 0.0
	for i, b := range d.breaks {
		if target <= d.cumHaz[i] {
			if d.rates[i] == 0 {
				return lo, true
			}
			return lo + (target-base)/d.rates[i], true
		}
		lo, base = b, d.cumHaz[i]
	}
	last := d.rates[len(d.rates)-1]
	if last == 0 {
		return math.Inf(1), true
	}
	return lo + (target-base)/last, true
}

func (d *PiecewiseExponential) Survival(t float64) float64 {
	if t <= 0 {
		return 1
	}
	return math.Exp(-d.cumulativeHazard(t))
}

func (d *PiecewiseExponential) Describe() string {
	return fmt.Sprintf("piecewise-exponential(%d intervals)", len(d.rates))
}

// === Tabulated log-hazard (spline) ===

// SplineHazard approximates a fitted hazard curve by linear interpolation of
// tabulated log-hazard values at knot times. There is no closed-form quantile;
// draws go through numeric inversion of Survival, and the survival integral
// itself uses the trapezoid rule on a fixed sub-grid between knots. Beyond the
// last knot the hazard is held constant.
type SplineHazard struct {
	knots  []float64
	logHaz []float64
}

const splineQuadSteps = 16 // trapezoid sub-steps per knot interval

// NewSplineHazard validates at least two knots, strictly increasing knot
// times starting at >= 0, and finite log-hazard values.
func NewSplineHazard(knots, logHazard []float64) (*SplineHazard, error) {
	if len(knots) < 2 {
		return nil, fmt.Errorf("spline: need at least 2 knots, got %d", len(knots))
	}
	if len(logHazard) != len(knots) {
		return nil, fmt.Errorf("spline: need one log-hazard per knot, got %d values for %d knots",
			len(logHazard), len(knots))
	}
	prev := math.Inf(-1)
	for i, k := range knots {
		if k < 0 || k <= prev {
			return nil, fmt.Errorf("spline: knots must be >= 0 and strictly increasing, knot %d = %v", i, k)
		}
		prev = k
	}
	for i, lh := range logHazard {
		if math.IsNaN(lh) || math.IsInf(lh, 0) {
			return nil, fmt.Errorf("spline: log-hazard %d must be finite, got %v", i, lh)
		}
	}
	return &SplineHazard{knots: knots, logHaz: logHazard}, nil
}

// hazard evaluates the interpolated hazard at time t.
func (d *SplineHazard) hazard(t float64) float64 {
	n := len(d.knots)
	if t <= d.knots[0] {
		return math.Exp(d.logHaz[0])
	}
	if t >= d.knots[n-1] {
		return math.Exp(d.logHaz[n-1])
	}
	i := sort.SearchFloat64s(d.knots, t)
	frac := (t - d.knots[i-1]) / (d.knots[i] - d.knots[i-1])
	return math.Exp(d.logHaz[i-1] + frac*(d.logHaz[i]-d.logHaz[i-1]))
}

func (d *SplineHazard) Survival(t float64) float64 {
	if t <= 0 {
		return 1
	}
	// Trapezoid cumulative hazard from 0 to t.
	cum := 0.0
	lo := 0.0
	for i := 0; i <= len(d.knots) && lo < t; i++ {
		hi := t
		if i < len(d.knots) && d.knots[i] < t {
			hi = d.knots[i]
		}
		if hi <= lo {
			continue
		}
		step := (hi - lo) / splineQuadSteps
		prev := d.hazard(lo)
		for s := 1; s <= splineQuadSteps; s++ {
			x := lo + float64(s)*step
			h := d.hazard(x)
			cum += step * (prev + h) / 2
			prev = h
		}
		lo = hi
	}
	return math.Exp(-cum)
}

func (d *SplineHazard) Sample(rng *rand.Rand) float64 {
	t, err := invertSurvival(d, rng.Float64())
	if err != nil {
		return math.NaN()
	}
	return t
}

func (d *SplineHazard) Quantile(p float64) (float64, bool) { return 0, false }

func (d *SplineHazard) Describe() string {
	return fmt.Sprintf("spline(%d knots)", len(d.knots))
}

// === Proportional-hazards adjustment ===

// phAdjusted scales the hazard of a base distribution by a positive
// multiplier m, so Survival(t) = base.Survival(t)^m. This is how covariate
// effects (log-linear rate modifiers) condition an edge's distribution on a
// patient. The quantile stays closed-form whenever the base has one:
// S(t)^m = 1-p  <=>  t = baseQuantile(1 - (1-p)^(1/m)).
type phAdjusted struct {
	base Distribution
	mult float64
}

// AdjustHazard wraps d with a proportional-hazards multiplier. Multiplier 1
// returns d unchanged.
func AdjustHazard(d Distribution, multiplier float64) (Distribution, error) {
	if !(multiplier > 0) || math.IsInf(multiplier, 0) {
		return nil, fmt.Errorf("hazard multiplier must be finite and > 0, got %v", multiplier)
	}
	if multiplier == 1 {
		return d, nil
	}
	return &phAdjusted{base: d, mult: multiplier}, nil
}

func (d *phAdjusted) Sample(rng *rand.Rand) float64 {
	if _, ok := d.base.Quantile(0.5); ok {
		return sampleByQuantile(d, rng)
	}
	t, err := invertSurvival(d, rng.Float64())
	if err != nil {
		return math.NaN()
	}
	return t
}

func (d *phAdjusted) Quantile(p float64) (float64, bool) {
	return d.base.Quantile(1 - math.Pow(1-p, 1/d.mult))
}

func (d *phAdjusted) Survival(t float64) float64 {
	return math.Pow(d.base.Survival(t), d.mult)
}

func (d *phAdjusted) Describe() string {
	return fmt.Sprintf("%s * hazard-ratio %g", d.base.Describe(), d.mult)
}
