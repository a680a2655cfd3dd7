package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// errNotRun marks replicates skipped by cancellation; they are neither
// completed nor failed and never reach any aggregate.
var errNotRun = errors.New("replicate not run")

// BatchConfig controls one batch run.
type BatchConfig struct {
	Seed          int64
	Horizon       float64
	PSADraws      int
	Workers       int // 0 means GOMAXPROCS
	DiscountRates []float64
	// KeepHistories retains every replicate's event history for export.
	// Large batches may want this off.
	KeepHistories bool
}

// ReplicateResult is the outcome of one replicate: discounted totals at each
// configured rate, the event history if retained, or the isolating error.
type ReplicateResult struct {
	Key      ReplicateKey
	Outcomes []Outcome
	History  EventHistory // nil unless BatchConfig.KeepHistories
	// Transitions and Censored summarize the history even when it is not
	// retained; Censored means the trajectory hit the horizon instead of
	// an absorbing state.
	Transitions int
	Censored    bool
	Err         error
}

// Failed reports whether the replicate was isolated by a fault.
func (r *ReplicateResult) Failed() bool {
	return r.Err != nil && !errors.Is(r.Err, errNotRun)
}

// Completed reports whether the replicate produced outcomes.
func (r *ReplicateResult) Completed() bool { return r.Err == nil }

// BatchResult holds per-replicate results in deterministic strategy-major
// order plus run metrics. Replicate i corresponds to
// (strategy, patient, draw) with draw varying fastest.
type BatchResult struct {
	Strategies []string
	Rates      []float64
	Replicates []ReplicateResult
	Metrics    *Metrics
}

// Batch vectorizes the trajectory simulator and value accumulator across
// strategies, patients, and PSA draws. Replicates are mutually independent
// pure computations; a worker pool consumes them in any order while
// per-replicate RNG streams keep results reproducible regardless of
// scheduling.
type Batch struct {
	Model    *TransitionModel
	Schedule *ValueSchedule
	Patients []*Patient
	Config   BatchConfig
}

// NewBatch validates the batch inputs against each other.
func NewBatch(model *TransitionModel, schedule *ValueSchedule, patients []*Patient, cfg BatchConfig) (*Batch, error) {
	if model == nil || schedule == nil {
		return nil, fmt.Errorf("batch: model and schedule are required")
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("batch: no patients")
	}
	if !(cfg.Horizon > 0) {
		return nil, fmt.Errorf("batch: horizon must be > 0, got %v", cfg.Horizon)
	}
	if cfg.PSADraws < 1 {
		return nil, fmt.Errorf("batch: psa draws must be >= 1, got %d", cfg.PSADraws)
	}
	if cfg.PSADraws > model.Draws {
		return nil, fmt.Errorf("batch: %d psa draws requested but model holds %d", cfg.PSADraws, model.Draws)
	}
	if err := ValidateDiscountRates(cfg.DiscountRates); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return &Batch{Model: model, Schedule: schedule, Patients: patients, Config: cfg}, nil
}

// NumReplicates returns strategies x patients x draws.
func (b *Batch) NumReplicates() int {
	return len(b.Model.Strategies) * len(b.Patients) * b.Config.PSADraws
}

// replicateKey maps a linear index to its key, draw varying fastest.
func (b *Batch) replicateKey(i int) ReplicateKey {
	d := i % b.Config.PSADraws
	i /= b.Config.PSADraws
	p := i % len(b.Patients)
	s := i / len(b.Patients)
	return ReplicateKey{Strategy: s, Patient: p, Draw: d}
}

// runReplicate executes one replicate with its private RNG stream and fills
// the result slot.
func (b *Batch) runReplicate(res *ReplicateResult) {
	key := res.Key
	rng := ReplicateRNG(NewSimulationKey(b.Config.Seed), key)
	pat := b.Patients[key.Patient]

	history, err := RunTrajectory(b.Model, pat, key.Strategy, key.Draw, b.Config.Horizon, rng)
	if err != nil {
		res.Err = fmt.Errorf("replicate %s: %w", key, err)
		logrus.Warnf("Isolating failed replicate %s: %v", key, err)
		return
	}

	res.Err = nil
	res.Outcomes = b.Schedule.DiscountedOutcomes(history, key.Strategy, b.Config.DiscountRates)
	for _, rec := range history {
		if rec.To != rec.From {
			res.Transitions++
		}
	}
	last := history[len(history)-1]
	res.Censored = last.To == last.From
	if b.Config.KeepHistories {
		res.History = history
	}
}

// Run executes the whole batch. Cancellation via ctx stops scheduling new
// replicates; replicates already completed stay in the result, skipped ones
// are marked and excluded from every aggregate. Run returns ctx.Err() when
// cancelled, alongside the partial result.
func (b *Batch) Run(ctx context.Context) (*BatchResult, error) {
	total := b.NumReplicates()
	workers := b.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > total {
		workers = total
	}

	result := &BatchResult{
		Strategies: b.Model.Strategies,
		Rates:      b.Config.DiscountRates,
		Replicates: make([]ReplicateResult, total),
		Metrics:    NewMetrics(),
	}
	for i := range result.Replicates {
		result.Replicates[i] = ReplicateResult{Key: b.replicateKey(i), Err: errNotRun}
	}

	logrus.Infof("Starting batch: %d strategies x %d patients x %d draws = %d replicates on %d workers",
		len(b.Model.Strategies), len(b.Patients), b.Config.PSADraws, total, workers)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b.runReplicate(&result.Replicates[i])
			}
		}()
	}

feed:
	for i := 0; i < total; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	b.collectMetrics(result)
	if err := ctx.Err(); err != nil {
		result.Metrics.Cancelled = true
		return result, err
	}
	return result, nil
}

func (b *Batch) collectMetrics(result *BatchResult) {
	m := result.Metrics
	m.TotalReplicates = len(result.Replicates)
	for i := range result.Replicates {
		r := &result.Replicates[i]
		switch {
		case r.Completed():
			m.CompletedReplicates++
			m.TotalTransitions += r.Transitions
			if r.Censored {
				m.HorizonCensored++
			}
		case r.Failed():
			m.FailedReplicates++
		}
	}
}
