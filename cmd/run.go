package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qw4990/pds_replay/config"
	"github.com/qw4990/pds_replay/experiment"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/results"
	"github.com/qw4990/pds_replay/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type runCmdOpt struct {
	experimentCmdOpt
	extrapolate    bool
	warmup         int
	resultsDB      string
	resultsCSV     string
	metricsAddress string
	noProgress     bool
}

func NewRunCmd() *cobra.Command {
	var opt runCmdOpt
	cmd := &cobra.Command{
		Use:   "run",
		Short: "replay the workload of an experiment under its physical design schedule",
		Long:  `replay the workload of an experiment round by round, shifting queries and physical design structures at the configured rounds, and record the cost of every round`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opt.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("extrapolate") {
				conf.Extrapolate = opt.extrapolate
			}
			if cmd.Flags().Changed("warmup") {
				conf.Warmup = opt.warmup
			}
			if opt.resultsDB != "" {
				conf.ResultsDB = opt.resultsDB
			}
			if opt.resultsCSV != "" {
				conf.ResultsCSV = opt.resultsCSV
			}
			if opt.metricsAddress != "" {
				conf.MetricsAddress = opt.metricsAddress
			}

			open, err := optimizer.NewOpener(conf.Driver, conf.DSN, conf.Format())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var progress io.Writer = os.Stderr
			if opt.noProgress {
				progress = io.Discard
			}
			return RunExperiment(ctx, conf, open, cmd.OutOrStdout(), progress)
		},
	}

	opt.addFlags(cmd)
	cmd.Flags().BoolVar(&opt.extrapolate, "extrapolate", false, "estimate the cost of rounds after the warm-up instead of executing them")
	cmd.Flags().IntVar(&opt.warmup, "warmup", 5, "number of executed rounds after the config shift before extrapolating")
	cmd.Flags().StringVar(&opt.resultsDB, "results-db", "", "the SQLite file the run is recorded in")
	cmd.Flags().StringVar(&opt.resultsCSV, "results-csv", "", "the CSV file the measurements are written to")
	cmd.Flags().StringVar(&opt.metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address, e.g. ':9090'")
	cmd.Flags().BoolVar(&opt.noProgress, "no-progress", false, "do not show the progress bar")
	return cmd
}

// RunExperiment runs the experiment and records its results, also when the run fails.
func RunExperiment(ctx context.Context, conf *config.Experiment, open optimizer.Opener, out, progress io.Writer) error {
	queries, arms, err := conf.LoadWorkload()
	if err != nil {
		return err
	}
	utils.Infof("experiment %v: %d queries, %d arms, %d rounds", conf.Name, len(queries), len(arms), conf.Schedule.Rounds)

	runner := experiment.NewRunner(open, conf.Schema)
	if conf.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		runner.Metrics = experiment.NewMetrics(reg)
		srv := serveMetrics(conf.MetricsAddress, reg)
		defer srv.Close()
	}
	bar := progressbar.NewOptions(conf.Schedule.Rounds,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("replaying rounds"),
		progressbar.OptionShowCount(),
	)
	runner.OnRound = func(int, []experiment.Measurement) {
		bar.Add(1)
	}

	run := results.NewRun(conf.Name)
	res, runErr := runner.Run(ctx, conf.Request(queries, arms))
	bar.Finish()
	run.Finish(res, runErr)

	saveErr := saveResults(conf, run, res.Measurements)
	printRunSummary(out, run, res, runErr)
	if runErr != nil {
		return runErr
	}
	return saveErr
}

func saveResults(conf *config.Experiment, run results.Run, ms []experiment.Measurement) error {
	if conf.ResultsCSV != "" {
		if err := os.MkdirAll(filepath.Dir(conf.ResultsCSV), 0777); err != nil {
			return err
		}
		if err := results.SaveCSV(conf.ResultsCSV, ms); err != nil {
			return err
		}
		utils.Infof("measurements saved to %v", conf.ResultsCSV)
	}
	if conf.ResultsDB != "" {
		store, err := results.OpenStore(conf.ResultsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveRun(run, ms); err != nil {
			return err
		}
		utils.Infof("run %v saved to %v", run.ID, conf.ResultsDB)
	}
	return nil
}

func printRunSummary(w io.Writer, run results.Run, res *experiment.Result, runErr error) {
	printColored(w, summaryColor, "Run %v (%v)\n", run.ID, run.Name)
	fmt.Fprintf(w, "  measurements:        %d\n", len(res.Measurements))
	fmt.Fprintf(w, "  execution cost:      %.3fs\n", res.ExecutionCost)
	fmt.Fprintf(w, "  apply cost:          %.3fs\n", res.ApplyCost)
	fmt.Fprintf(w, "  total workload time: %.3fs\n", res.TotalWorkloadTime)
	if runErr != nil {
		printColored(w, errColor, "  failed: %v\n", runErr)
	} else {
		printColored(w, okColor, "  completed\n")
	}
}
