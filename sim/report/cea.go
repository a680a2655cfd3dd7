package report

import (
	"math"
	"sort"
)

// Comparison is one row of the incremental cost-effectiveness table: a
// strategy against the previous strategy on the efficiency frontier.
type Comparison struct {
	Strategy   string
	Comparator string
	DeltaCost  float64
	DeltaQALY  float64
	// ICER is DeltaCost / DeltaQALY for frontier strategies; NaN when the
	// strategy is dominated and no ratio is meaningful.
	ICER      float64
	Dominated bool
}

// ICERTable orders strategies by mean cost and computes sequential ICERs along
// the efficiency frontier. Strongly dominated strategies (more costly, no more
// effective than a cheaper one) and extendedly dominated strategies (higher
// ICER than the next step up the frontier) are flagged instead of ratioed.
func ICERTable(summaries []StrategySummary) []Comparison {
	if len(summaries) == 0 {
		return nil
	}

	ordered := append([]StrategySummary(nil), summaries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MeanCost < ordered[j].MeanCost })

	dominated := make(map[string]bool)
	frontier := []StrategySummary{ordered[0]}
	for _, s := range ordered[1:] {
		// Strong dominance against the current frontier tip.
		if s.MeanQALY <= frontier[len(frontier)-1].MeanQALY {
			dominated[s.Strategy] = true
			continue
		}
		frontier = append(frontier, s)
		// Extended dominance: if adding s gives the previous frontier
		// member a higher ICER than s itself would have against its
		// predecessor, the previous member leaves the frontier.
		for len(frontier) >= 3 {
			n := len(frontier)
			icerPrev := icer(frontier[n-3], frontier[n-2])
			icerNext := icer(frontier[n-2], frontier[n-1])
			if icerNext >= icerPrev {
				break
			}
			dominated[frontier[n-2].Strategy] = true
			frontier = append(frontier[:n-2], frontier[n-1])
		}
	}

	frontierIdx := make(map[string]int, len(frontier))
	for i, s := range frontier {
		frontierIdx[s.Strategy] = i
	}

	comparisons := make([]Comparison, 0, len(ordered)-1)
	for _, s := range ordered[1:] {
		if dominated[s.Strategy] {
			comparisons = append(comparisons, Comparison{
				Strategy:  s.Strategy,
				ICER:      math.NaN(),
				Dominated: true,
			})
			continue
		}
		prev := frontier[frontierIdx[s.Strategy]-1]
		comparisons = append(comparisons, Comparison{
			Strategy:   s.Strategy,
			Comparator: prev.Strategy,
			DeltaCost:  s.MeanCost - prev.MeanCost,
			DeltaQALY:  s.MeanQALY - prev.MeanQALY,
			ICER:       icer(prev, s),
		})
	}
	return comparisons
}

func icer(lo, hi StrategySummary) float64 {
	return (hi.MeanCost - lo.MeanCost) / (hi.MeanQALY - lo.MeanQALY)
}

// CEACCurve is the cost-effectiveness acceptability curve of one strategy:
// the fraction of PSA draws in which the strategy has the highest net monetary
// benefit, per willingness-to-pay threshold.
type CEACCurve struct {
	Strategy    string
	WTP         []float64
	Probability []float64
}

// CEAC computes acceptability curves over the given willingness-to-pay grid.
// Records are first reduced to per-(strategy, draw) means over patients; each
// draw then votes for the strategy with the highest net benefit, ties going to
// the earliest-listed strategy. Draws missing a strategy (all its replicates
// faulted) are skipped entirely so partial draws cannot skew the comparison.
func CEAC(strategies []string, records []ReplicateRecord, wtp []float64) []CEACCurve {
	type acc struct {
		cost, qaly float64
		n          int
	}
	byDraw := make(map[int]map[string]*acc)
	for _, r := range records {
		m, ok := byDraw[r.Draw]
		if !ok {
			m = make(map[string]*acc, len(strategies))
			byDraw[r.Draw] = m
		}
		a, ok := m[r.Strategy]
		if !ok {
			a = &acc{}
			m[r.Strategy] = a
		}
		a.cost += r.Cost
		a.qaly += r.QALY
		a.n++
	}

	draws := make([]int, 0, len(byDraw))
	for d, m := range byDraw {
		if len(m) == len(strategies) {
			draws = append(draws, d)
		}
	}
	sort.Ints(draws)

	wins := make([][]int, len(strategies)) // [strategy][wtp index]
	for i := range wins {
		wins[i] = make([]int, len(wtp))
	}
	for _, d := range draws {
		m := byDraw[d]
		for wi, w := range wtp {
			best := 0
			bestNMB := math.Inf(-1)
			for si, s := range strategies {
				a := m[s]
				nmb := w*a.qaly/float64(a.n) - a.cost/float64(a.n)
				if nmb > bestNMB {
					best, bestNMB = si, nmb
				}
			}
			wins[best][wi]++
		}
	}

	curves := make([]CEACCurve, len(strategies))
	for si, s := range strategies {
		probs := make([]float64, len(wtp))
		if len(draws) > 0 {
			for wi := range wtp {
				probs[wi] = float64(wins[si][wi]) / float64(len(draws))
			}
		}
		curves[si] = CEACCurve{Strategy: s, WTP: wtp, Probability: probs}
	}
	return curves
}
