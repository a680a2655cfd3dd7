// Package report turns per-replicate simulation outputs into decision-analysis
// summaries: per-strategy cost/effect statistics, incremental
// cost-effectiveness ratios, net monetary benefit, and acceptability curves.
// This package has no dependencies on sim/ — it stores pure data types.
package report

// ReplicateRecord is one completed replicate's discounted totals at a single
// discount rate. Failed replicates never become records; they are surfaced
// through the missing-replicate count instead of contributing zeros.
type ReplicateRecord struct {
	Strategy string
	Patient  string
	Draw     int
	Cost     float64
	QALY     float64
}

// HistoryRow is one transition of one replicate, ready for tabular export.
type HistoryRow struct {
	Strategy string
	Patient  string
	Draw     int
	From     string
	To       string
	Start    float64
	Stop     float64
	Final    bool
}
