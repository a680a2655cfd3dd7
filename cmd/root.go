package cmd

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trajsim/trajsim/sim"
	"github.com/trajsim/trajsim/sim/report"
)

var (
	// CLI flags for the simulation run
	modelPath     string        // Path to the YAML model definition
	seed          int64         // Master seed for replicate RNG streams
	logLevel      string        // Log verbosity level
	horizon       float64       // Simulation horizon override (model units, usually years)
	patientCount  int           // Patient count override
	psaDraws      int           // PSA draw count override
	workers       int           // Worker pool size (0 = GOMAXPROCS)
	discountRates []float64     // Discount rates override
	wtpGrid       []float64     // Willingness-to-pay grid for the acceptability curve
	historyOut    string        // Event-history CSV output path
	summaryOut    string        // Summary CSV output path
	maxWall       time.Duration // Optional wall-clock budget for the batch
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "trajsim",
	Short: "Individual-level semi-Markov trajectory simulator for multi-state disease models",
}

// runCmd executes a batch simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an individual patient simulation batch",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		built := loadAndBuild()

		cfg := sim.BatchConfig{
			Seed:          seed,
			Horizon:       built.Horizon,
			PSADraws:      built.PSADraws,
			Workers:       workers,
			DiscountRates: built.DiscountRates,
			KeepHistories: historyOut != "",
		}
		if horizon > 0 {
			cfg.Horizon = horizon
		}
		if psaDraws > 0 {
			cfg.PSADraws = psaDraws
		}
		if len(discountRates) > 0 {
			cfg.DiscountRates = discountRates
		}

		batch, err := sim.NewBatch(built.Model, built.Schedule, built.Patients, cfg)
		if err != nil {
			logrus.Fatalf("Invalid batch configuration: %v", err)
		}

		logrus.Infof("Starting simulation: model=%s seed=%d horizon=%g", modelPath, seed, cfg.Horizon)
		startTime := time.Now()

		ctx := context.Background()
		if maxWall > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, maxWall)
			defer cancel()
		}

		result, err := batch.Run(ctx)
		if err != nil {
			logrus.Warnf("Batch ended early: %v", err)
		}
		result.Metrics.Print(startTime)

		writeOutputs(built, result)

		logrus.Info("Simulation complete.")
	},
}

// validateCmd builds the model without simulating, reporting configuration
// errors with their offending edge/state/parameter.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a model definition without running it",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		built := loadAndBuild()
		logrus.Infof("Model OK: %d states, %d transitions, %d strategies, %d patients, %d PSA draws",
			built.Model.Graph.NumStates(), built.Model.Graph.NumEdges(),
			len(built.Model.Strategies), len(built.Patients), built.PSADraws)
	},
}

// loadAndBuild parses and validates the model definition, exiting on error.
func loadAndBuild() *sim.BuiltModel {
	if modelPath == "" {
		logrus.Fatalf("Model definition not provided. Pass --model.")
	}
	spec, err := sim.LoadModelSpec(modelPath)
	if err != nil {
		logrus.Fatalf("Cannot load model: %v", err)
	}
	if psaDraws > 0 {
		spec.PSADraws = psaDraws
	}
	if patientCount > 0 {
		if spec.Cohort != nil {
			spec.Cohort.Size = patientCount
		} else if len(spec.Patients) > patientCount {
			spec.Patients = spec.Patients[:patientCount]
		}
	}
	built, err := spec.Build(seed)
	if err != nil {
		logrus.Fatalf("Invalid model: %v", err)
	}
	return built
}

// writeOutputs prints the decision-analysis tables and writes optional CSVs.
func writeOutputs(built *sim.BuiltModel, result *sim.BatchResult) {
	// Summaries use the last configured discount rate (the conventional
	// base case lists discounted results last when 0 is included first).
	rateIdx := len(result.Rates) - 1
	records := replicateRecords(built, result, rateIdx)
	summaries := report.Summarize(result.Strategies, records)

	for _, s := range summaries {
		logrus.Infof("Strategy %s (rate=%g): mean cost %.2f [%.2f, %.2f], mean QALY %.4f [%.4f, %.4f], n=%d",
			s.Strategy, result.Rates[rateIdx],
			s.MeanCost, s.CostQuantiles.P025, s.CostQuantiles.P975,
			s.MeanQALY, s.QALYQuantiles.P025, s.QALYQuantiles.P975, s.N)
	}
	for _, c := range report.ICERTable(summaries) {
		if c.Dominated {
			logrus.Infof("Strategy %s: dominated", c.Strategy)
			continue
		}
		logrus.Infof("Strategy %s vs %s: dCost %.2f, dQALY %.4f, ICER %.2f",
			c.Strategy, c.Comparator, c.DeltaCost, c.DeltaQALY, c.ICER)
	}
	if len(wtpGrid) > 0 {
		for _, curve := range report.CEAC(result.Strategies, records, wtpGrid) {
			logrus.Infof("CEAC %s: wtp=%v p=%v", curve.Strategy, curve.WTP, curve.Probability)
		}
	}

	if summaryOut != "" {
		f, err := os.Create(summaryOut)
		if err != nil {
			logrus.Fatalf("Cannot create summary output: %v", err)
		}
		defer f.Close()
		if err := report.WriteSummaryCSV(f, summaries); err != nil {
			logrus.Fatalf("Cannot write summary output: %v", err)
		}
	}
	if historyOut != "" {
		f, err := os.Create(historyOut)
		if err != nil {
			logrus.Fatalf("Cannot create history output: %v", err)
		}
		defer f.Close()
		if err := report.WriteHistoryCSV(f, historyRows(built, result)); err != nil {
			logrus.Fatalf("Cannot write history output: %v", err)
		}
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVar(&modelPath, "model", "", "Path to the YAML model definition")
		c.Flags().Int64Var(&seed, "seed", 42, "Master seed for replicate RNG streams")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().IntVar(&psaDraws, "psa-draws", 0, "Override the model's PSA draw count")
		c.Flags().IntVar(&patientCount, "patients", 0, "Override the model's patient count")
	}

	runCmd.Flags().Float64Var(&horizon, "horizon", 0, "Override the model's simulation horizon")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (0 uses all CPUs)")
	runCmd.Flags().Float64SliceVar(&discountRates, "discount-rates", nil, "Override the model's discount rates")
	runCmd.Flags().Float64SliceVar(&wtpGrid, "wtp", nil, "Willingness-to-pay grid for the acceptability curve")
	runCmd.Flags().StringVar(&historyOut, "history-out", "", "Write the event-history table to this CSV file")
	runCmd.Flags().StringVar(&summaryOut, "summary-out", "", "Write the strategy summary table to this CSV file")
	runCmd.Flags().DurationVar(&maxWall, "max-wall", 0, "Wall-clock budget for the batch (0 = unlimited)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
