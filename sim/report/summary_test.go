package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_KnownValues(t *testing.T) {
	records := []ReplicateRecord{
		{Strategy: "soc", Patient: "p0", Draw: 0, Cost: 1, QALY: 4},
		{Strategy: "soc", Patient: "p1", Draw: 0, Cost: 2, QALY: 3},
		{Strategy: "soc", Patient: "p0", Draw: 1, Cost: 3, QALY: 2},
		{Strategy: "soc", Patient: "p1", Draw: 1, Cost: 4, QALY: 1},
		{Strategy: "new", Patient: "p0", Draw: 0, Cost: 10, QALY: 5},
	}

	summaries := Summarize([]string{"soc", "new"}, records)
	require.Len(t, summaries, 2)

	soc := summaries[0]
	assert.Equal(t, "soc", soc.Strategy)
	assert.Equal(t, 4, soc.N)
	assert.InDelta(t, 2.5, soc.MeanCost, 1e-12)
	assert.InDelta(t, 2.5, soc.MeanQALY, 1e-12)
	// Sample standard deviation of {1,2,3,4}.
	assert.InDelta(t, math.Sqrt(5.0/3.0), soc.SDCost, 1e-12)
	assert.Equal(t, 1.0, soc.CostQuantiles.P025)
	assert.Equal(t, 2.0, soc.CostQuantiles.P500)
	assert.Equal(t, 4.0, soc.CostQuantiles.P975)

	single := summaries[1]
	assert.Equal(t, 1, single.N)
	assert.Equal(t, 10.0, single.MeanCost)
	assert.Equal(t, 0.0, single.SDCost, "single replicate has no spread")
	assert.Equal(t, Quantiles{P025: 10, P500: 10, P975: 10}, single.CostQuantiles)
}

func TestSummarize_MissingStrategyIsZeroValued(t *testing.T) {
	records := []ReplicateRecord{{Strategy: "soc", Cost: 5, QALY: 1}}
	summaries := Summarize([]string{"soc", "ghost"}, records)
	require.Len(t, summaries, 2)
	assert.Equal(t, 0, summaries[1].N)
	assert.Equal(t, 0.0, summaries[1].MeanCost)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Len(t, Summarize([]string{"soc"}, nil), 1)
	assert.Empty(t, Summarize(nil, nil))
}

func TestNetMonetaryBenefit(t *testing.T) {
	s := StrategySummary{MeanCost: 30000, MeanQALY: 2}
	assert.Equal(t, 70000.0, NetMonetaryBenefit(s, 50000))
	assert.Equal(t, -30000.0, NetMonetaryBenefit(s, 0))
	assert.Less(t, NetMonetaryBenefit(s, 10000), NetMonetaryBenefit(s, 20000))
}
