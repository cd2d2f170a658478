package experiment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of experiment runs.
type Metrics struct {
	Rounds          prometheus.Counter
	QueryExecutions *prometheus.CounterVec
	CostSeconds     *prometheus.CounterVec
	CurrentRound    prometheus.Gauge
	LiveStructures  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	rounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pds_replay_rounds_total",
		Help: "Total rounds completed",
	})

	queryExecutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pds_replay_query_executions_total",
		Help: "Total workload query executions by outcome",
	}, []string{"outcome"})

	costSeconds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pds_replay_cost_seconds_total",
		Help: "Accumulated cost by measurement kind",
	}, []string{"kind"})

	currentRound := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pds_replay_current_round",
		Help: "Index of the round being executed",
	})

	liveStructures := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pds_replay_live_structures",
		Help: "Number of physical design structures believed to exist",
	})

	reg.MustRegister(rounds, queryExecutions, costSeconds, currentRound, liveStructures)

	return &Metrics{
		Rounds:          rounds,
		QueryExecutions: queryExecutions,
		CostSeconds:     costSeconds,
		CurrentRound:    currentRound,
		LiveStructures:  liveStructures,
	}
}

func (m *Metrics) observeRows(rows []Measurement) {
	if m == nil {
		return
	}
	for _, r := range rows {
		if r.Value <= 0 {
			continue
		}
		m.CostSeconds.WithLabelValues(string(r.Kind)).Add(r.Value)
	}
}
