package sim

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics aggregates bookkeeping counters for one batch run.
type Metrics struct {
	TotalReplicates     int
	CompletedReplicates int
	// FailedReplicates counts replicates isolated by sampling faults;
	// they contribute to no aggregate sum.
	FailedReplicates int
	TotalTransitions int
	// HorizonCensored counts replicates truncated at the horizon instead
	// of reaching an absorbing state.
	HorizonCensored int
	Cancelled       bool
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print logs the run summary.
func (m *Metrics) Print(startTime time.Time) {
	logrus.Infof("Replicates: %d total, %d completed, %d failed, %d horizon-censored",
		m.TotalReplicates, m.CompletedReplicates, m.FailedReplicates, m.HorizonCensored)
	logrus.Infof("Transitions simulated: %d", m.TotalTransitions)
	if m.Cancelled {
		logrus.Warnf("Batch cancelled before all replicates completed")
	}
	logrus.Infof("Wall clock: %v", time.Since(startTime))
}
