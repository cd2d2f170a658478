package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qw4990/pds_replay/config"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
	"github.com/spf13/cobra"
)

var (
	errColor     = color.FgHiRed
	okColor      = color.FgGreen
	summaryColor = color.FgHiMagenta
)

// PrintError prints err to stderr in the error color.
func PrintError(err error) {
	color.New(errColor).Fprintln(os.Stderr, err)
}

// connCmdOpt holds the flags of commands connecting to a database without an experiment file.
type connCmdOpt struct {
	driver   string
	dsn      string
	schema   string
	format   string
	logLevel string
}

func (o *connCmdOpt) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.driver, "driver", "postgres", "the database driver, 'postgres' or 'mysql'")
	cmd.Flags().StringVar(&o.dsn, "dsn", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable", "the DSN of the database")
	cmd.Flags().StringVar(&o.schema, "schema", "public", "the schema the structures live in")
	cmd.Flags().StringVar(&o.format, "plan-format", "", "the plan format, 'xml', 'json' or 'tidb'")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "info", "log level, one of 'debug', 'info', 'warning', 'error'")
}

func (o *connCmdOpt) opener() (optimizer.Opener, error) {
	if err := utils.SetLogLevel(o.logLevel); err != nil {
		return nil, err
	}
	format := o.format
	if format == "" && (o.driver == "mysql" || o.driver == "tidb") {
		format = plan.FormatTiDBTable.String()
	}
	f, err := plan.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return optimizer.NewOpener(o.driver, o.dsn, f)
}

// experimentCmdOpt holds the flags of commands driven by an experiment file.
type experimentCmdOpt struct {
	configPath string
	dsn        string
	logLevel   string
}

func (o *experimentCmdOpt) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configPath, "config", "", "the experiment configuration file (JSON)")
	cmd.Flags().StringVar(&o.dsn, "dsn", "", "overrides the DSN of the experiment file")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "overrides the log level of the experiment file")
	cmd.MarkFlagRequired("config")
}

// load loads the experiment file and applies the flag overrides.
func (o *experimentCmdOpt) load() (*config.Experiment, error) {
	conf, err := config.LoadExperiment(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dsn != "" {
		conf.DSN = o.dsn
	}
	if o.logLevel != "" {
		conf.LogLevel = o.logLevel
	}
	if err := utils.SetLogLevel(conf.LogLevel); err != nil {
		return nil, err
	}
	if err := conf.ValidateAndDefaults(); err != nil {
		return nil, fmt.Errorf("invalid experiment %v: %w", o.configPath, err)
	}
	return conf, nil
}

// serveMetrics exposes reg on addr/metrics until the process exits.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		utils.Infof("starting metrics server on %v", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}

func printColored(w io.Writer, attr color.Attribute, format string, args ...interface{}) {
	color.New(attr).Fprintf(w, format, args...)
}
