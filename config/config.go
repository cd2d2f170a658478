package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qw4990/pds_replay/experiment"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
	"github.com/qw4990/pds_replay/workload"
)

const (
	dfltDriver     = "postgres"
	dfltSchema     = "public"
	dfltPlanFormat = "xml"
	dfltWarmup     = 5
	dfltCostType   = plan.CostElapsed
)

// Experiment is the configuration of one experiment run.
type Experiment struct {
	srcPath string

	Name       string `json:"name"`
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	Schema     string `json:"schema"`
	PlanFormat string `json:"planFormat"`
	CostType   string `json:"costType"`

	// QueriesPath is a directory of *.sql files, a ';' separated file or a JSON [{"id", "query"}] file.
	QueriesPath string   `json:"queriesPath"`
	QueryIDs    []string `json:"queryIds"`
	// DesignPath is a file of blank-line separated DDL blocks, one arm per block.
	DesignPath string `json:"designPath"`

	Schedule    experiment.Schedule `json:"schedule"`
	Extrapolate bool                `json:"extrapolate"`
	Warmup      int                 `json:"warmup"`

	LogLevel       string `json:"logLevel"`
	ResultsDB      string `json:"resultsDb"`
	ResultsCSV     string `json:"resultsCsv"`
	MetricsAddress string `json:"metricsAddress"`
}

// LoadExperiment reads the experiment configuration from a JSON file.
func LoadExperiment(path string) (*Experiment, error) {
	if path == "" {
		return nil, errors.New("cannot load config - path not specified")
	}
	rawData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	var conf Experiment
	if err := json.Unmarshal(rawData, &conf); err != nil {
		return nil, fmt.Errorf("cannot load config %v: %w", path, err)
	}
	conf.srcPath = path
	return &conf, nil
}

// SrcPath returns the file the configuration was loaded from.
func (e *Experiment) SrcPath() string {
	return e.srcPath
}

// ValidateAndDefaults fills the unset fields with defaults and checks the result.
// Relative paths are resolved against the directory of the configuration file.
func (e *Experiment) ValidateAndDefaults() error {
	if e.Driver == "" {
		e.Driver = dfltDriver
		utils.Warningf("driver not specified, using default: %v", dfltDriver)
	}
	if e.Schema == "" {
		e.Schema = dfltSchema
		utils.Warningf("schema not specified, using default: %v", dfltSchema)
	}
	if e.PlanFormat == "" {
		e.PlanFormat = dfltPlanFormat
		if e.Driver == "mysql" || e.Driver == "tidb" {
			e.PlanFormat = plan.FormatTiDBTable.String()
		}
	}
	if e.CostType == "" {
		e.CostType = string(dfltCostType)
	}
	if e.Warmup == 0 {
		e.Warmup = dfltWarmup
	}
	if e.Name == "" && e.srcPath != "" {
		e.Name = trimExt(filepath.Base(e.srcPath))
	}

	format, err := plan.ParseFormat(e.PlanFormat)
	if err != nil {
		return err
	}
	if _, err := optimizer.DialectFor(e.Driver, format); err != nil {
		return err
	}
	if _, err := plan.ParseCostType(e.CostType); err != nil {
		return err
	}
	if e.Warmup < 0 {
		return fmt.Errorf("warmup must not be negative, got %d", e.Warmup)
	}
	if e.DSN == "" {
		return errors.New("dsn not specified")
	}
	if e.QueriesPath == "" {
		return errors.New("queriesPath not specified")
	}
	if len(e.Schedule.ConfigShifts) > 0 && e.DesignPath == "" {
		return errors.New("the schedule has config shifts but designPath is not specified")
	}
	e.QueriesPath = e.resolve(e.QueriesPath)
	e.DesignPath = e.resolve(e.DesignPath)
	e.ResultsDB = e.resolve(e.ResultsDB)
	e.ResultsCSV = e.resolve(e.ResultsCSV)
	return nil
}

func (e *Experiment) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || e.srcPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(e.srcPath), p)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// Format returns the plan format, valid after ValidateAndDefaults.
func (e *Experiment) Format() plan.Format {
	f, _ := plan.ParseFormat(e.PlanFormat)
	return f
}

// LoadWorkload loads the queries, filtered by QueryIDs if set, and the arms of the design file.
func (e *Experiment) LoadWorkload() ([]*workload.Query, []*workload.Arm, error) {
	queries, err := workload.LoadQueries(e.QueriesPath)
	if err != nil {
		return nil, nil, err
	}
	if len(e.QueryIDs) > 0 {
		queries = workload.FilterByID(queries, e.QueryIDs)
	}
	var arms []*workload.Arm
	if e.DesignPath != "" {
		if arms, err = workload.LoadDesign(e.DesignPath, e.Schema); err != nil {
			return nil, nil, err
		}
	}
	return queries, arms, nil
}

// Request builds the run request of this experiment.
func (e *Experiment) Request(queries []*workload.Query, arms []*workload.Arm) experiment.Request {
	return experiment.Request{
		Schedule:    e.Schedule,
		Queries:     queries,
		Arms:        arms,
		CostType:    plan.CostType(e.CostType),
		Extrapolate: e.Extrapolate,
		Warmup:      e.Warmup,
	}
}
