package report

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Quantiles is the central 95% credible interval plus the median of a
// per-replicate distribution.
type Quantiles struct {
	P025 float64
	P500 float64
	P975 float64
}

// StrategySummary aggregates the replicate distribution of one strategy.
type StrategySummary struct {
	Strategy      string
	N             int // completed replicates
	MeanCost      float64
	MeanQALY      float64
	SDCost        float64
	SDQALY        float64
	CostQuantiles Quantiles
	QALYQuantiles Quantiles
}

// Summarize computes per-strategy summaries in the given strategy order.
// Strategies with no completed replicates produce a zero-valued summary with
// N == 0. Safe for an empty record set.
func Summarize(strategies []string, records []ReplicateRecord) []StrategySummary {
	costs := make(map[string][]float64, len(strategies))
	qalys := make(map[string][]float64, len(strategies))
	for _, r := range records {
		costs[r.Strategy] = append(costs[r.Strategy], r.Cost)
		qalys[r.Strategy] = append(qalys[r.Strategy], r.QALY)
	}

	summaries := make([]StrategySummary, len(strategies))
	for i, s := range strategies {
		summary := StrategySummary{Strategy: s, N: len(costs[s])}
		if summary.N > 0 {
			summary.MeanCost = stat.Mean(costs[s], nil)
			summary.MeanQALY = stat.Mean(qalys[s], nil)
			if summary.N > 1 {
				summary.SDCost = stat.StdDev(costs[s], nil)
				summary.SDQALY = stat.StdDev(qalys[s], nil)
			}
			summary.CostQuantiles = quantiles(costs[s])
			summary.QALYQuantiles = quantiles(qalys[s])
		}
		summaries[i] = summary
	}
	return summaries
}

func quantiles(xs []float64) Quantiles {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return Quantiles{
		P025: stat.Quantile(0.025, stat.Empirical, sorted, nil),
		P500: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P975: stat.Quantile(0.975, stat.Empirical, sorted, nil),
	}
}

// NetMonetaryBenefit converts a strategy's mean outcomes to a single money
// measure at the given willingness-to-pay per QALY.
func NetMonetaryBenefit(s StrategySummary, wtp float64) float64 {
	return wtp*s.MeanQALY - s.MeanCost
}
