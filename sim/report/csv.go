package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteHistoryCSV writes the event-history table: one row per transition per
// replicate.
func WriteHistoryCSV(w io.Writer, rows []HistoryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"strategy", "patient", "draw", "from", "to", "time_start", "time_stop", "is_final"}); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Strategy,
			r.Patient,
			strconv.Itoa(r.Draw),
			r.From,
			r.To,
			formatFloat(r.Start),
			formatFloat(r.Stop),
			strconv.FormatBool(r.Final),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV writes the per-strategy cost-effectiveness summary table.
func WriteSummaryCSV(w io.Writer, summaries []StrategySummary) error {
	cw := csv.NewWriter(w)
	header := []string{
		"strategy", "n",
		"mean_cost", "sd_cost", "cost_p025", "cost_p500", "cost_p975",
		"mean_qaly", "sd_qaly", "qaly_p025", "qaly_p500", "qaly_p975",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, s := range summaries {
		record := []string{
			s.Strategy,
			strconv.Itoa(s.N),
			formatFloat(s.MeanCost),
			formatFloat(s.SDCost),
			formatFloat(s.CostQuantiles.P025),
			formatFloat(s.CostQuantiles.P500),
			formatFloat(s.CostQuantiles.P975),
			formatFloat(s.MeanQALY),
			formatFloat(s.SDQALY),
			formatFloat(s.QALYQuantiles.P025),
			formatFloat(s.QALYQuantiles.P500),
			formatFloat(s.QALYQuantiles.P975),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
