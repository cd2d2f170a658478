package design

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
	"github.com/qw4990/pds_replay/workload"
)

// ConfigCost is the estimated cost of a workload under a configuration.
type ConfigCost struct {
	Arms          []string           // sorted structure names
	WorkloadCost  float64            // sum of the estimated cost of all queries
	QueryCosts    map[string]float64 // query id -> estimated cost, summed over instances
	FailedQueries int
}

// Format formats the cost.
func (c ConfigCost) Format() string {
	return fmt.Sprintf("config [%v]: estimated cost %.2f, %v failed queries",
		strings.Join(c.Arms, ", "), c.WorkloadCost, c.FailedQueries)
}

// Evaluator estimates workload costs under configurations made of hypothetical indexes.
type Evaluator struct {
	m *Manager
}

// NewEvaluator creates an evaluator sharing the manager's connection.
func NewEvaluator(m *Manager) *Evaluator {
	return &Evaluator{m: m}
}

// Evaluate creates the arms hypothetically, explains every query and rolls the arms back.
func (e *Evaluator) Evaluate(ctx context.Context, arms []*workload.Arm, queries []*workload.Query) (cost ConfigCost, err error) {
	if !e.m.HypotheticalSupported(ctx) {
		return ConfigCost{}, errors.New("hypothetical indexes are not supported by this database")
	}
	defer func() {
		if resetErr := e.m.ResetHypothetical(ctx); resetErr != nil && err == nil {
			err = resetErr
		}
	}()

	cost.QueryCosts = make(map[string]float64)
	for _, arm := range arms {
		if arm.Kind == workload.ArmViewIndex {
			utils.Warningf("%v is built on a materialized view and cannot be evaluated hypothetically, skip it", arm.IndexName)
			continue
		}
		hypo := *arm
		hypo.Kind = workload.ArmHypothetical
		if _, err := e.m.CreateHypothetical(ctx, &hypo); err != nil {
			return ConfigCost{}, fmt.Errorf("create hypothetical %v: %w", arm.IndexName, err)
		}
		cost.Arms = append(cost.Arms, arm.IndexName)
	}
	sort.Strings(cost.Arms)

	for _, q := range queries {
		doc, err := e.m.db.Explain(ctx, q.Text)
		if err == nil {
			var rec *plan.Record
			if rec, err = plan.ParseEstimate(doc); err == nil {
				cost.WorkloadCost += rec.RootCost
				cost.QueryCosts[q.ID] += rec.RootCost
				continue
			}
		}
		var qe *optimizer.QueryError
		var pe *plan.ParseError
		if errors.As(err, &qe) || errors.As(err, &pe) {
			utils.Warningf("failed to explain query %v: %v", q.ID, err)
			cost.FailedQueries++
			continue
		}
		return ConfigCost{}, err
	}
	return cost, nil
}
