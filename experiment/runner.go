package experiment

import (
	"context"
	"fmt"
	"sort"

	"github.com/qw4990/pds_replay/design"
	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
	"github.com/qw4990/pds_replay/workload"
)

// slowQueryThreshold is the cost above which a single query execution is logged.
const slowQueryThreshold = 0.5

// Request describes one experiment run.
type Request struct {
	Schedule Schedule
	Queries  []*workload.Query
	Arms     []*workload.Arm // the config window selects arms by position
	CostType plan.CostType

	// Extrapolate estimates the cost of rounds past the warm-up instead of executing them.
	// It only applies when the schedule has exactly one config shift.
	Extrapolate bool
	Warmup      int
}

func (req *Request) validate() error {
	if err := req.Schedule.Validate(len(req.Queries), len(req.Arms)); err != nil {
		return err
	}
	costType, err := plan.ParseCostType(string(req.CostType))
	if err != nil {
		return err
	}
	req.CostType = costType
	if req.Extrapolate && req.Warmup <= 0 {
		return fmt.Errorf("extrapolation requires a positive warm-up, got %d", req.Warmup)
	}
	return nil
}

// Result is the output of a run. Measurements holds every row accumulated before a fatal error.
type Result struct {
	Measurements      []Measurement
	ExecutionCost     float64
	ApplyCost         float64
	TotalWorkloadTime float64
	Stats             optimizer.GatewayStats
}

// Runner executes experiments round by round on a single connection.
type Runner struct {
	open   optimizer.Opener
	schema string

	Metrics *Metrics // optional
	// OnRound is called after every completed round with its rows, optional.
	OnRound func(round int, rows []Measurement)
}

// NewRunner creates a runner opening its connections with open.
func NewRunner(open optimizer.Opener, schema string) *Runner {
	return &Runner{open: open, schema: schema}
}

// Run executes the experiment. The execution connection is closed after the last round and
// every secondary index of the schema is dropped through a fresh connection, even after a fatal error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	if err := req.validate(); err != nil {
		return res, err
	}
	db, err := r.open(ctx)
	if err != nil {
		return res, fmt.Errorf("open execution connection: %w", err)
	}
	runErr := r.rounds(ctx, db, req, res)
	res.Stats = db.Stats()
	if err := db.Close(); err != nil {
		utils.Warningf("failed to close the execution connection: %v", err)
	}

	res.TotalWorkloadTime = res.ExecutionCost + res.ApplyCost
	utils.Infof("execution cost: %.3fs, apply cost: %.3fs, total workload time: %.3fs",
		res.ExecutionCost, res.ApplyCost, res.TotalWorkloadTime)
	if n := req.Schedule.Rounds; n > 0 {
		utils.Infof("avg cost per round: %.3fs", res.ExecutionCost/float64(n))
	}
	utils.Debugf("gateway stats: %v", res.Stats.Format())

	if err := r.teardown(context.WithoutCancel(ctx)); err != nil {
		if runErr == nil {
			return res, fmt.Errorf("teardown: %w", err)
		}
		utils.Errorf("teardown failed: %v", err)
	}
	return res, runErr
}

func (r *Runner) rounds(ctx context.Context, db optimizer.DB, req Request, res *Result) error {
	s := req.Schedule
	m := design.NewManager(db, r.schema)
	queries := newWindow(s.WorkloadShifts, s.QueriesStart, s.QueriesEnd)
	queries.initial()
	configs := newWindow(s.ConfigShifts, s.ConfigStart, s.ConfigEnd)

	var sinceConfig, analyticalSinceConfig float64
	for i := 0; i < s.Rounds; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		utils.Infof("round %d", i)
		if r.Metrics != nil {
			r.Metrics.CurrentRound.Set(float64(i))
		}

		var rows []Measurement
		applyCost := 0.0
		if queries.advance(i) {
			utils.Infof("workload shift: queries [%d, %d)", queries.start, queries.end)
		}
		if configs.advance(i) {
			utils.Infof("config shift: arms [%d, %d)", configs.start, configs.end)
			cost, err := r.applyConfig(ctx, m, req.Arms[configs.start:configs.end])
			if err != nil {
				return err
			}
			applyCost = cost
			rows = append(rows, Measurement{Round: i, Kind: MetricIndexCreationCost, Value: applyCost})
			sinceConfig, analyticalSinceConfig = 0, 0
		}

		var rc RoundCost
		if req.Extrapolate && len(s.ConfigShifts) == 1 && configs.lastShift >= 0 && i-configs.lastShift >= req.Warmup {
			rc = extrapolate(sinceConfig, analyticalSinceConfig, req.Warmup)
			utils.Infof("round %d extrapolated from %.3fs since the config shift", i, sinceConfig)
		} else {
			outcomes, err := r.execute(ctx, db, i, req.Queries[queries.start:queries.end], req.CostType)
			if err != nil {
				return err
			}
			rc = foldRound(outcomes, req.CostType)
			sinceConfig += rc.Execution
			analyticalSinceConfig += rc.Analytical
			for _, qt := range rc.Queries {
				utils.Debugf("query %v: analytical-%v count-%v failed-%v cost-%.6f", qt.ID, qt.Analytical, qt.Count, qt.Failed, qt.Cost)
			}
		}

		rows = append(rows, roundRows(i, rc, applyCost)...)
		res.Measurements = append(res.Measurements, rows...)
		res.ExecutionCost += rc.Execution
		res.ApplyCost += applyCost
		utils.Infof("round %d: execution cost %.3fs (analytical %.3fs, transactional %.3fs)",
			i, rc.Execution, rc.Analytical, rc.Transactional)

		if r.Metrics != nil {
			r.Metrics.Rounds.Inc()
			r.Metrics.LiveStructures.Set(float64(len(m.Live())))
			r.Metrics.observeRows(rows)
		}
		if r.OnRound != nil {
			r.OnRound(i, rows)
		}
	}
	return nil
}

// applyConfig reconciles the live structures with the arms of the config window.
// Hypothetical arms are rolled back before the measurement resumes.
func (r *Runner) applyConfig(ctx context.Context, m *design.Manager, arms []*workload.Arm) (float64, error) {
	target := workload.ArmsToMap(arms)
	live := m.Live()
	toAdd := make(map[string]*workload.Arm)
	toRemove := make(map[string]*workload.Arm)
	for name, arm := range target {
		if _, ok := live[name]; !ok {
			toAdd[name] = arm
		}
	}
	for name, arm := range live {
		if _, ok := target[name]; !ok {
			toRemove[name] = arm
		}
	}

	costs, err := m.BulkReconcile(ctx, toAdd, toRemove)
	names := make([]string, 0, len(costs))
	for name := range costs {
		names = append(names, name)
	}
	sort.Strings(names)
	total := 0.0
	for _, name := range names {
		total += costs[name]
	}
	if err != nil {
		return total, err
	}

	for _, arm := range target {
		if arm.Kind == workload.ArmHypothetical {
			if err := m.ResetHypothetical(ctx); err != nil {
				utils.Warningf("failed to roll back hypothetical indexes: %v", err)
			}
			break
		}
	}

	utils.Infof("time taken to apply the config: %.3fs (%d added, %d removed)", total, len(toAdd), len(toRemove))
	if size, err := m.CurrentPDSSize(ctx); err == nil {
		utils.Infof("size taken by the config: %.2fMB", size)
	} else {
		if optimizer.IsConnectionError(err) {
			return total, err
		}
		utils.Warningf("failed to get the size of the config: %v", err)
	}
	return total, nil
}

// execute runs every query once, in order. Failed queries yield an Outcome carrying the error;
// any failure other than a query or plan error aborts the round.
func (r *Runner) execute(ctx context.Context, db optimizer.DB, round int, queries []*workload.Query, costType plan.CostType) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(queries))
	for _, q := range queries {
		o := Outcome{Query: q}
		doc, err := db.ExplainAnalyze(ctx, q.Text)
		if err == nil {
			o.Record, err = plan.Parse(doc)
		}
		if err != nil {
			if !recoverable(err) {
				r.countExecution("fatal")
				return outcomes, fmt.Errorf("query %v in round %d: %w", q.ID, round, err)
			}
			o.Record, o.Err = nil, err
			r.countExecution("failed")
			utils.Warningf("query %v failed in round %d: %v", q.ID, round, err)
		} else {
			cost := o.Cost(costType)
			q.Observe(round, cost)
			r.countExecution("ok")
			if cost > slowQueryThreshold {
				utils.Infof("query %v cost: %.3fs", q.ID, cost)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (r *Runner) countExecution(outcome string) {
	if r.Metrics != nil {
		r.Metrics.QueryExecutions.WithLabelValues(outcome).Inc()
	}
}

func (r *Runner) teardown(ctx context.Context) error {
	db, err := r.open(ctx)
	if err != nil {
		return fmt.Errorf("open teardown connection: %w", err)
	}
	defer db.Close()
	_, err = design.NewManager(db, r.schema).RemoveAllNonClustered(ctx)
	return err
}
