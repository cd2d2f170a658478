package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qw4990/pds_replay/design"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/workload"
	"github.com/stretchr/testify/require"
)

func analyzedDoc(planningMs, executionMs float64) plan.Document {
	return plan.Document{Format: plan.FormatXML, Text: fmt.Sprintf(`<explain><Query>
		<Plan><Node-Type>Seq Scan</Node-Type><Relation-Name>t</Relation-Name>
		<Total-Cost>10</Total-Cost><Plan-Rows>1</Plan-Rows></Plan>
		<Planning-Time>%v</Planning-Time><Execution-Time>%v</Execution-Time>
		</Query></explain>`, planningMs, executionMs)}
}

// fakeEnv returns an execution fake whose queries cost costs[text] seconds of execution time,
// a teardown fake listing one secondary index and one materialized view, and an opener handing them out in that order.
func fakeEnv(t *testing.T, costs map[string]float64) (exec, teardown *optimizer.FakeDB, open optimizer.Opener) {
	d, err := optimizer.DialectFor("postgres", plan.FormatXML)
	require.NoError(t, err)
	exec = optimizer.NewFakeDB(d)
	exec.ExplainAnalyzeFunc = func(query string) (plan.Document, error) {
		c, ok := costs[query]
		if !ok {
			return plan.Document{}, &optimizer.QueryError{SQL: query, Err: errors.New("relation does not exist")}
		}
		return analyzedDoc(0, c*1000), nil
	}
	teardown = optimizer.NewFakeDB(d)
	teardown.QueryFunc = func(sql string) ([][]string, error) {
		switch {
		case strings.Contains(sql, "pg_index"):
			return [][]string{{"idx_left", "t", "false"}, {"t_pkey", "t", "true"}}, nil
		case strings.Contains(sql, "pg_matviews"):
			return [][]string{{"mv_left"}}, nil
		}
		return nil, nil
	}
	dbs := []*optimizer.FakeDB{exec, teardown}
	opened := 0
	open = func(context.Context) (optimizer.DB, error) {
		if opened >= len(dbs) {
			return nil, &optimizer.ConnectionError{Op: "open", Err: errors.New("too many connections")}
		}
		db := dbs[opened]
		opened++
		return db, nil
	}
	return exec, teardown, open
}

func index(name string) *workload.Arm {
	return &workload.Arm{Kind: workload.ArmIndex, SchemaName: "public", TableName: "t", IndexName: name, KeyColumns: []string{"a"}}
}

func rowsOf(ms []Measurement, kind MetricKind) []Measurement {
	var rows []Measurement
	for _, m := range ms {
		if m.Kind == kind {
			rows = append(rows, m)
		}
	}
	return rows
}

func requireDropped(t *testing.T, teardown *optimizer.FakeDB) {
	require.True(t, teardown.Closed)
	require.Contains(t, teardown.Statements, "DROP INDEX public.idx_left")
	require.NotContains(t, teardown.Statements, "DROP INDEX public.t_pkey")
	require.Contains(t, teardown.Statements, "DROP MATERIALIZED VIEW IF EXISTS public.mv_left CASCADE")
}

func TestRunIndexAtFirstRound(t *testing.T) {
	exec, teardown, open := fakeEnv(t, map[string]float64{
		"select * from t where a = 1": 0.1,
		"select * from t where a = 2": 0.1,
	})
	queries := []*workload.Query{
		workload.NewQuery("q1", "select * from t where a = 1"),
		workload.NewQuery("q2", "select * from t where a = 2"),
	}
	req := Request{
		Schedule: Schedule{
			Rounds:         3,
			WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{2},
			ConfigShifts: []int{0}, ConfigStart: []int{0}, ConfigEnd: []int{1},
		},
		Queries: queries,
		Arms:    []*workload.Arm{index("idx_a")},
	}

	var rounds []int
	r := NewRunner(open, "public")
	r.OnRound = func(round int, rows []Measurement) {
		rounds = append(rounds, round)
		for _, row := range rows {
			require.Equal(t, round, row.Round)
		}
	}
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, rounds)
	require.Len(t, res.Measurements, 13)
	require.Equal(t, MetricIndexCreationCost, res.Measurements[0].Kind)
	require.Equal(t, []MetricKind{MetricBatchTime, MetricQueryExecutionCost, MetricAnalyticalExecutionCost, MetricTransactionalExecutionCost},
		[]MetricKind{res.Measurements[1].Kind, res.Measurements[2].Kind, res.Measurements[3].Kind, res.Measurements[4].Kind})
	require.Len(t, rowsOf(res.Measurements, MetricIndexCreationCost), 1)

	for _, row := range rowsOf(res.Measurements, MetricQueryExecutionCost) {
		require.InDelta(t, 0.2, row.Value, 1e-9)
	}
	require.InDelta(t, 0.6, res.ExecutionCost, 1e-9)
	require.InDelta(t, res.ExecutionCost+res.ApplyCost, res.TotalWorkloadTime, 1e-9)
	require.Equal(t, 6, res.Stats.ExplainAnalyzeCount)
	require.Contains(t, exec.Statements, "CREATE INDEX idx_a ON public.t (a)")
	require.True(t, exec.Closed)

	require.Equal(t, 0, queries[0].FirstSeen)
	require.Equal(t, 2, queries[0].LastSeen)
	require.InDelta(t, 0.1, queries[0].OriginalRunningTime, 1e-9)
	requireDropped(t, teardown)
}

func TestRunSplitsAnalyticalAndTransactional(t *testing.T) {
	_, _, open := fakeEnv(t, map[string]float64{
		"select * from t":    0.2,
		"update t set a = 1": 0.1,
	})
	req := Request{
		Schedule: Schedule{Rounds: 1, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{2}},
		Queries: []*workload.Query{
			workload.NewQuery("read", "select * from t"),
			workload.NewQuery("write", "update t set a = 1"),
		},
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Measurements, 4)
	require.InDelta(t, 0.3, res.Measurements[0].Value, 1e-9)
	require.InDelta(t, 0.3, res.Measurements[1].Value, 1e-9)
	require.InDelta(t, 0.2, res.Measurements[2].Value, 1e-9)
	require.InDelta(t, 0.1, res.Measurements[3].Value, 1e-9)
	require.Zero(t, res.ApplyCost)
}

func TestRunExtrapolatesAfterWarmup(t *testing.T) {
	exec, _, open := fakeEnv(t, map[string]float64{"select 1": 0.3})
	req := Request{
		Schedule: Schedule{
			Rounds:         7,
			WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1},
			ConfigShifts: []int{0}, ConfigStart: []int{0}, ConfigEnd: []int{1},
		},
		Queries:     []*workload.Query{workload.NewQuery("q", "select 1")},
		Arms:        []*workload.Arm{index("idx_a")},
		Extrapolate: true,
		Warmup:      5,
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 5, exec.Stats().ExplainAnalyzeCount)

	execRows := rowsOf(res.Measurements, MetricQueryExecutionCost)
	require.Len(t, execRows, 7)
	require.InDelta(t, 0.3, execRows[5].Value, 1e-9)
	require.InDelta(t, 0.3, execRows[6].Value, 1e-9)
	require.InDelta(t, 2.1, res.ExecutionCost, 1e-9)
	require.Equal(t, 4, req.Queries[0].LastSeen)
}

func TestRunWithoutSingleConfigShiftDoesNotExtrapolate(t *testing.T) {
	exec, _, open := fakeEnv(t, map[string]float64{"select 1": 0.3})
	req := Request{
		Schedule: Schedule{
			Rounds:         4,
			WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1},
			ConfigShifts: []int{0, 1}, ConfigStart: []int{0, 0}, ConfigEnd: []int{1, 2},
		},
		Queries:     []*workload.Query{workload.NewQuery("q", "select 1")},
		Arms:        []*workload.Arm{index("idx_a"), index("idx_b")},
		Extrapolate: true,
		Warmup:      1,
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 4, exec.Stats().ExplainAnalyzeCount)
	require.Len(t, rowsOf(res.Measurements, MetricIndexCreationCost), 2)
	// the second shift only adds idx_b
	creates := 0
	for _, s := range exec.Statements {
		if strings.HasPrefix(s, "CREATE INDEX") {
			creates++
		}
	}
	require.Equal(t, 2, creates)
}

func TestRunConservesCost(t *testing.T) {
	_, _, open := fakeEnv(t, map[string]float64{
		"select a from t":                      0.013,
		"delete from t":                        0.027,
		"with x as (select 1) select * from x": 0.041,
	})
	req := Request{
		Schedule: Schedule{
			Rounds:         9,
			WorkloadShifts: []int{0, 3, 6}, QueriesStart: []int{0, 0, 1}, QueriesEnd: []int{1, 2, 3},
			ConfigShifts: []int{2}, ConfigStart: []int{0}, ConfigEnd: []int{1},
		},
		Queries: []*workload.Query{
			workload.NewQuery("a", "select a from t"),
			workload.NewQuery("b", "delete from t"),
			workload.NewQuery("c", "with x as (select 1) select * from x"),
		},
		Arms:        []*workload.Arm{index("idx_a")},
		Extrapolate: true,
		Warmup:      3,
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.NoError(t, err)

	byRound := make(map[int]map[MetricKind]float64)
	for _, m := range res.Measurements {
		if byRound[m.Round] == nil {
			byRound[m.Round] = make(map[MetricKind]float64)
		}
		byRound[m.Round][m.Kind] = m.Value
	}
	require.Len(t, byRound, 9)
	for round, kinds := range byRound {
		require.InDelta(t, kinds[MetricQueryExecutionCost],
			kinds[MetricAnalyticalExecutionCost]+kinds[MetricTransactionalExecutionCost], 1e-9, "round %d", round)
		require.InDelta(t, kinds[MetricBatchTime],
			kinds[MetricQueryExecutionCost]+kinds[MetricIndexCreationCost], 1e-9, "round %d", round)
	}
}

func TestRunFailedQueryCostsNothing(t *testing.T) {
	_, _, open := fakeEnv(t, map[string]float64{"select 1": 0.5})
	broken := workload.NewQuery("broken", "select * from nowhere")
	req := Request{
		Schedule: Schedule{Rounds: 2, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{2}},
		Queries:  []*workload.Query{broken, workload.NewQuery("ok", "select 1")},
	}
	reg := prometheus.NewRegistry()
	r := NewRunner(open, "public")
	r.Metrics = NewMetrics(reg)

	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.ExecutionCost, 1e-9)
	require.Equal(t, -1, broken.FirstSeen)

	require.Equal(t, 2.0, testutil.ToFloat64(r.Metrics.Rounds))
	require.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.CurrentRound))
	require.Equal(t, 2.0, testutil.ToFloat64(r.Metrics.QueryExecutions.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.Metrics.QueryExecutions.WithLabelValues("failed")))
	require.InDelta(t, 1.0, testutil.ToFloat64(r.Metrics.CostSeconds.WithLabelValues(string(MetricQueryExecutionCost))), 1e-9)
}

func TestRunApplyErrorKeepsPartialResults(t *testing.T) {
	exec, teardown, open := fakeEnv(t, map[string]float64{"select 1": 0.1})
	exec.ExecFunc = func(sql string) error {
		if strings.HasPrefix(sql, "CREATE INDEX idx_b") {
			return &optimizer.QueryError{SQL: sql, Err: errors.New("could not extend file")}
		}
		return nil
	}
	req := Request{
		Schedule: Schedule{
			Rounds:         4,
			WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1},
			ConfigShifts: []int{0, 2}, ConfigStart: []int{0, 1}, ConfigEnd: []int{1, 2},
		},
		Queries: []*workload.Query{workload.NewQuery("q", "select 1")},
		Arms:    []*workload.Arm{index("idx_a"), index("idx_b")},
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	var applyErr *design.ApplyError
	require.True(t, errors.As(err, &applyErr))
	require.Equal(t, "idx_b", applyErr.Arm.IndexName)
	require.Len(t, res.Measurements, 9)
	require.Equal(t, 1, res.Measurements[len(res.Measurements)-1].Round)
	require.Contains(t, exec.Statements, "DROP INDEX public.idx_a")
	requireDropped(t, teardown)
}

func TestRunConnectionLostIsFatal(t *testing.T) {
	exec, teardown, open := fakeEnv(t, nil)
	calls := 0
	exec.ExplainAnalyzeFunc = func(query string) (plan.Document, error) {
		calls++
		if calls > 1 {
			return plan.Document{}, &optimizer.ConnectionError{Op: "explain analyze", Err: errors.New("server closed the connection unexpectedly")}
		}
		return analyzedDoc(1, 9), nil
	}
	req := Request{
		Schedule: Schedule{Rounds: 3, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1}},
		Queries:  []*workload.Query{workload.NewQuery("q", "select 1")},
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.True(t, optimizer.IsConnectionError(err))
	require.Len(t, res.Measurements, 4)
	require.InDelta(t, 0.01, res.ExecutionCost, 1e-9)
	requireDropped(t, teardown)
}

func TestRunCanceled(t *testing.T) {
	_, teardown, open := fakeEnv(t, map[string]float64{"select 1": 0.1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := Request{
		Schedule: Schedule{Rounds: 5, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1}},
		Queries:  []*workload.Query{workload.NewQuery("q", "select 1")},
	}
	r := NewRunner(open, "public")
	r.OnRound = func(round int, _ []Measurement) {
		if round == 1 {
			cancel()
		}
	}
	res, err := r.Run(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Measurements, 8)
	requireDropped(t, teardown)
}

func TestRunOpenFailure(t *testing.T) {
	open := func(context.Context) (optimizer.DB, error) {
		return nil, &optimizer.ConnectionError{Op: "open", Err: errors.New("connection refused")}
	}
	req := Request{
		Schedule: Schedule{Rounds: 1, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{0}},
	}
	res, err := NewRunner(open, "public").Run(context.Background(), req)
	require.True(t, optimizer.IsConnectionError(err))
	require.Empty(t, res.Measurements)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	open := func(context.Context) (optimizer.DB, error) {
		t.Fatal("no connection expected")
		return nil, nil
	}
	cases := []Request{
		{Schedule: Schedule{Rounds: 0, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{0}}},
		{Schedule: Schedule{Rounds: 1, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{1}}},
		{Schedule: Schedule{Rounds: 1, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{0}}, CostType: "wall"},
		{Schedule: Schedule{Rounds: 1, WorkloadShifts: []int{0}, QueriesStart: []int{0}, QueriesEnd: []int{0}}, Extrapolate: true},
	}
	for i, req := range cases {
		_, err := NewRunner(open, "public").Run(context.Background(), req)
		require.Error(t, err, "case %d", i)
	}
}
