package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qw4990/pds_replay/plan"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadExperimentDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "queries.sql", "select * from t where a = 1;\nupdate t set b = 2 where a = 1;")
	writeFile(t, dir, "design.sql", "CREATE INDEX idx_t_a ON t (a);\n\nCREATE INDEX idx_t_b ON t (b) INCLUDE (c);")
	path := writeFile(t, dir, "tpch_shift.json", `{
		"dsn": "postgres://bench@localhost:5432/tpch?sslmode=disable",
		"queriesPath": "queries.sql",
		"designPath": "design.sql",
		"resultsCsv": "out/results.csv",
		"schedule": {
			"rounds": 4,
			"workloadShifts": [0], "queriesStart": [0], "queriesEnd": [2],
			"configShifts": [1, 3], "configStart": [0, 0], "configEnd": [1, 2]
		}
	}`)

	conf, err := LoadExperiment(path)
	require.NoError(t, err)
	require.NoError(t, conf.ValidateAndDefaults())
	require.Equal(t, "postgres", conf.Driver)
	require.Equal(t, "public", conf.Schema)
	require.Equal(t, "xml", conf.PlanFormat)
	require.Equal(t, plan.FormatXML, conf.Format())
	require.Equal(t, "elapsed", conf.CostType)
	require.Equal(t, 5, conf.Warmup)
	require.Equal(t, "tpch_shift", conf.Name)
	require.Equal(t, filepath.Join(dir, "queries.sql"), conf.QueriesPath)
	require.Equal(t, filepath.Join(dir, "out", "results.csv"), conf.ResultsCSV)
	require.Empty(t, conf.ResultsDB)

	queries, arms, err := conf.LoadWorkload()
	require.NoError(t, err)
	require.Len(t, queries, 2)
	require.Len(t, arms, 2)
	require.Equal(t, "public", arms[0].SchemaName)

	req := conf.Request(queries, arms)
	require.Equal(t, plan.CostElapsed, req.CostType)
	require.Equal(t, []int{1, 3}, req.Schedule.ConfigShifts)
	require.NoError(t, req.Schedule.Validate(len(queries), len(arms)))
}

func TestValidateAndDefaults(t *testing.T) {
	valid := func() *Experiment {
		return &Experiment{DSN: "root@tcp(127.0.0.1:4000)/test", Driver: "mysql", QueriesPath: "/tmp/q.sql"}
	}
	e := valid()
	require.NoError(t, e.ValidateAndDefaults())
	require.Equal(t, "tidb", e.PlanFormat)
	require.Equal(t, "/tmp/q.sql", e.QueriesPath)

	cases := map[string]func(e *Experiment){
		"no dsn":            func(e *Experiment) { e.DSN = "" },
		"no queries":        func(e *Experiment) { e.QueriesPath = "" },
		"unknown driver":    func(e *Experiment) { e.Driver = "oracle" },
		"format mismatch":   func(e *Experiment) { e.Driver, e.PlanFormat = "postgres", "tidb" },
		"unknown format":    func(e *Experiment) { e.PlanFormat = "yaml" },
		"unknown cost type": func(e *Experiment) { e.CostType = "wall" },
		"negative warmup":   func(e *Experiment) { e.Warmup = -1 },
		"no design":         func(e *Experiment) { e.Schedule.ConfigShifts = []int{0} },
	}
	for name, mutate := range cases {
		e := valid()
		mutate(e)
		require.Error(t, e.ValidateAndDefaults(), name)
	}
}

func TestLoadExperimentErrors(t *testing.T) {
	_, err := LoadExperiment("")
	require.Error(t, err)
	_, err = LoadExperiment(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	_, err = LoadExperiment(writeFile(t, t.TempDir(), "bad.json", `{"rounds": `))
	require.Error(t, err)
}
