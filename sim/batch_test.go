package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch(t *testing.T, patients int, draws int, workers int) *Batch {
	t.Helper()
	g, err := NewStateGraph([]string{"Healthy", "Sick", "Dead"}, threeStateTransitions(), "Healthy")
	require.NoError(t, err)
	m, err := NewTransitionModel(g, ClockReset, SamplingConfig{Policy: SampleClosedForm},
		[]string{"soc", "new"}, draws)
	require.NoError(t, err)

	for _, e := range g.Edges() {
		for s := range m.Strategies {
			for d := 0; d < draws; d++ {
				rate := 0.3 / float64(1+e.Index) * (1 + 0.1*float64(d)) / float64(1+s)
				dist, err := NewExponential(rate)
				require.NoError(t, err)
				require.NoError(t, m.SetDistribution(e.Index, s, d, dist))
			}
		}
	}

	vs, err := NewValueSchedule(g, map[string]StateValue{
		"Healthy": {Cost: 100, Utility: 1},
		"Sick":    {Cost: 2000, Utility: 0.6},
		"Dead":    {},
	})
	require.NoError(t, err)

	pats := make([]*Patient, patients)
	for i := range pats {
		p := &Patient{ID: string(rune('a' + i)), Age: 50 + float64(i)}
		p.normalizeCovariates()
		pats[i] = p
	}

	b, err := NewBatch(m, vs, pats, BatchConfig{
		Seed:          42,
		Horizon:       30,
		PSADraws:      draws,
		Workers:       workers,
		DiscountRates: []float64{0, 0.03},
		KeepHistories: true,
	})
	require.NoError(t, err)
	return b
}

func TestBatch_Run_AllReplicatesComplete(t *testing.T) {
	b := newTestBatch(t, 4, 3, 2)
	result, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2*4*3, b.NumReplicates())
	assert.Len(t, result.Replicates, 24)
	assert.Equal(t, 24, result.Metrics.TotalReplicates)
	assert.Equal(t, 24, result.Metrics.CompletedReplicates)
	assert.Equal(t, 0, result.Metrics.FailedReplicates)

	for i := range result.Replicates {
		r := &result.Replicates[i]
		require.True(t, r.Completed(), "replicate %s", r.Key)
		require.Len(t, r.Outcomes, 2)
		require.NoError(t, r.History.Validate())
		assert.Equal(t, b.replicateKey(i), r.Key)
	}
}

func TestBatch_Run_WorkerCountDoesNotChangeResults(t *testing.T) {
	// Replicate streams derive from (seed, key), so scheduling order is
	// irrelevant: 1 worker and 8 workers must agree bit for bit.
	serial, err := newTestBatch(t, 3, 2, 1).Run(context.Background())
	require.NoError(t, err)
	parallel, err := newTestBatch(t, 3, 2, 8).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, parallel.Replicates, len(serial.Replicates))
	for i := range serial.Replicates {
		assert.Equal(t, serial.Replicates[i].Outcomes, parallel.Replicates[i].Outcomes)
		assert.Equal(t, serial.Replicates[i].History, parallel.Replicates[i].History)
	}
}

func TestBatch_Run_RepeatedRunsAreIdentical(t *testing.T) {
	r1, err := newTestBatch(t, 2, 2, 4).Run(context.Background())
	require.NoError(t, err)
	r2, err := newTestBatch(t, 2, 2, 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r1.Replicates, r2.Replicates)
}

func TestBatch_Run_MeanEqualsMeanOfPerDrawMeans(t *testing.T) {
	// Aggregation is a commutative reduction: the grand mean must equal
	// the unweighted average of per-draw means (equal counts per draw).
	b := newTestBatch(t, 5, 4, 3)
	result, err := b.Run(context.Background())
	require.NoError(t, err)

	grandSum, grandN := 0.0, 0
	drawSum := make(map[int]float64)
	drawN := make(map[int]int)
	for i := range result.Replicates {
		r := &result.Replicates[i]
		if r.Key.Strategy != 0 {
			continue
		}
		cost := r.Outcomes[1].Cost
		grandSum += cost
		grandN++
		drawSum[r.Key.Draw] += cost
		drawN[r.Key.Draw]++
	}

	perDraw := 0.0
	for d, sum := range drawSum {
		perDraw += sum / float64(drawN[d])
	}
	perDraw /= float64(len(drawSum))
	assert.InDelta(t, grandSum/float64(grandN), perDraw, 1e-9)
}

func TestBatch_Run_FaultIsolation(t *testing.T) {
	// Break one draw of one strategy: those replicates must be counted
	// missing, and must not contribute zeros to anything else.
	b := newTestBatch(t, 3, 2, 2)
	require.NoError(t, b.Model.SetDistribution(0, 1, 1, alwaysNaN{}))
	require.NoError(t, b.Model.SetDistribution(1, 1, 1, alwaysNaN{}))

	result, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Metrics.FailedReplicates, "one broken draw of one strategy, three patients")
	assert.Equal(t, 12-3, result.Metrics.CompletedReplicates)

	for i := range result.Replicates {
		r := &result.Replicates[i]
		if r.Key.Strategy == 1 && r.Key.Draw == 1 {
			assert.True(t, r.Failed(), "replicate %s", r.Key)
			assert.ErrorIs(t, r.Err, ErrSampleFault)
			assert.Nil(t, r.Outcomes, "failed replicate must not carry outcomes")
		} else {
			assert.True(t, r.Completed(), "replicate %s", r.Key)
		}
	}
}

func TestBatch_Run_CancelledBeforeStart(t *testing.T) {
	b := newTestBatch(t, 3, 2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := b.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Metrics.Cancelled)
	assert.Equal(t, 0, result.Metrics.FailedReplicates,
		"skipped replicates are not failures")
	assert.Less(t, result.Metrics.CompletedReplicates, result.Metrics.TotalReplicates)
}

func TestNewBatch_ConfigurationErrors(t *testing.T) {
	ok := newTestBatch(t, 2, 2, 1)

	tests := []struct {
		name    string
		mutate  func(cfg *BatchConfig)
		wantErr string
	}{
		{"zero horizon", func(cfg *BatchConfig) { cfg.Horizon = 0 }, "horizon"},
		{"zero draws", func(cfg *BatchConfig) { cfg.PSADraws = 0 }, "psa draws"},
		{"more draws than model", func(cfg *BatchConfig) { cfg.PSADraws = 99 }, "model holds"},
		{"negative rate", func(cfg *BatchConfig) { cfg.DiscountRates = []float64{-1} }, "rate"},
		{"no rates", func(cfg *BatchConfig) { cfg.DiscountRates = nil }, "no rates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ok.Config
			tt.mutate(&cfg)
			_, err := NewBatch(ok.Model, ok.Schedule, ok.Patients, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := NewBatch(ok.Model, ok.Schedule, nil, ok.Config)
	assert.Error(t, err)
	_, err = NewBatch(nil, ok.Schedule, ok.Patients, ok.Config)
	assert.Error(t, err)
}

func TestBatch_ReplicateKeyRoundTrip(t *testing.T) {
	b := newTestBatch(t, 3, 4, 1)
	seen := make(map[ReplicateKey]bool)
	for i := 0; i < b.NumReplicates(); i++ {
		k := b.replicateKey(i)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
		assert.Less(t, k.Strategy, 2)
		assert.Less(t, k.Patient, 3)
		assert.Less(t, k.Draw, 4)
	}
	assert.Len(t, seen, 24)
}
