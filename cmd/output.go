package cmd

import (
	"github.com/trajsim/trajsim/sim"
	"github.com/trajsim/trajsim/sim/report"
)

// replicateRecords flattens completed replicates into report records at one
// discount rate. Failed and skipped replicates are omitted so they can never
// leak zeros into the aggregates.
func replicateRecords(built *sim.BuiltModel, result *sim.BatchResult, rateIdx int) []report.ReplicateRecord {
	records := make([]report.ReplicateRecord, 0, len(result.Replicates))
	for i := range result.Replicates {
		r := &result.Replicates[i]
		if !r.Completed() {
			continue
		}
		out := r.Outcomes[rateIdx]
		records = append(records, report.ReplicateRecord{
			Strategy: result.Strategies[r.Key.Strategy],
			Patient:  built.Patients[r.Key.Patient].ID,
			Draw:     r.Key.Draw,
			Cost:     out.Cost,
			QALY:     out.QALY,
		})
	}
	return records
}

// historyRows flattens retained event histories for CSV export.
func historyRows(built *sim.BuiltModel, result *sim.BatchResult) []report.HistoryRow {
	graph := built.Model.Graph
	var rows []report.HistoryRow
	for i := range result.Replicates {
		r := &result.Replicates[i]
		if !r.Completed() {
			continue
		}
		for _, rec := range r.History {
			rows = append(rows, report.HistoryRow{
				Strategy: result.Strategies[r.Key.Strategy],
				Patient:  built.Patients[r.Key.Patient].ID,
				Draw:     r.Key.Draw,
				From:     graph.StateName(rec.From),
				To:       graph.StateName(rec.To),
				Start:    rec.Start,
				Stop:     rec.Stop,
				Final:    rec.Final,
			})
		}
	}
	return rows
}
