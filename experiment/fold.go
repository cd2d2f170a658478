package experiment

import (
	"errors"

	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/workload"
)

// MetricKind is the kind of a round measurement.
type MetricKind string

const (
	MetricIndexCreationCost          MetricKind = "index-creation-cost"
	MetricBatchTime                  MetricKind = "batch-time"
	MetricQueryExecutionCost         MetricKind = "query-execution-cost"
	MetricAnalyticalExecutionCost    MetricKind = "analytical-execution-cost"
	MetricTransactionalExecutionCost MetricKind = "transactional-execution-cost"
)

// Measurement is one result row of an experiment.
type Measurement struct {
	Round int
	Kind  MetricKind
	Value float64
}

// Outcome is the result of executing one query, either a plan record or the reason it failed.
type Outcome struct {
	Query  *workload.Query
	Record *plan.Record
	Err    error
}

// Cost returns the cost of the outcome, 0 for failed queries.
func (o Outcome) Cost(t plan.CostType) float64 {
	if o.Err != nil || o.Record == nil {
		return 0
	}
	return o.Record.Cost(t)
}

// recoverable reports whether a query failure only zeroes the query's cost.
func recoverable(err error) bool {
	var qe *optimizer.QueryError
	var pe *plan.ParseError
	return errors.As(err, &qe) || errors.As(err, &pe)
}

// QueryTotal aggregates the executions of one query id within a round.
type QueryTotal struct {
	ID         string
	Cost       float64
	Count      int
	Failed     int
	Analytical bool
}

// RoundCost is the folded cost of one round.
type RoundCost struct {
	Execution     float64
	Analytical    float64
	Transactional float64
	Queries       []QueryTotal // in order of first appearance
}

// foldRound folds the outcomes of one round into its costs.
func foldRound(outcomes []Outcome, costType plan.CostType) RoundCost {
	var rc RoundCost
	pos := make(map[string]int)
	for _, o := range outcomes {
		cost := o.Cost(costType)
		i, ok := pos[o.Query.ID]
		if !ok {
			i = len(rc.Queries)
			pos[o.Query.ID] = i
			rc.Queries = append(rc.Queries, QueryTotal{ID: o.Query.ID, Analytical: o.Query.Analytical})
		}
		rc.Queries[i].Cost += cost
		rc.Queries[i].Count++
		if o.Err != nil {
			rc.Queries[i].Failed++
		}
		if o.Query.Analytical {
			rc.Analytical += cost
		} else {
			rc.Transactional += cost
		}
	}
	rc.Execution = rc.Analytical + rc.Transactional
	return rc
}

// extrapolate estimates the cost of a round from the cost accumulated since the last config shift.
// The estimate divides by the warm-up length regardless of how many rounds have passed.
func extrapolate(sinceConfig, analyticalSinceConfig float64, warmup int) RoundCost {
	est := sinceConfig / float64(warmup)
	analytical := analyticalSinceConfig / float64(warmup)
	transactional := est - analytical
	return RoundCost{Execution: analytical + transactional, Analytical: analytical, Transactional: transactional}
}

// roundRows returns the measurement rows of a round.
func roundRows(round int, rc RoundCost, applyCost float64) []Measurement {
	return []Measurement{
		{Round: round, Kind: MetricBatchTime, Value: rc.Execution + applyCost},
		{Round: round, Kind: MetricQueryExecutionCost, Value: rc.Execution},
		{Round: round, Kind: MetricAnalyticalExecutionCost, Value: rc.Analytical},
		{Round: round, Kind: MetricTransactionalExecutionCost, Value: rc.Transactional},
	}
}
