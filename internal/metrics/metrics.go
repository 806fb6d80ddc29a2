package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the settlement core's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Graded              *prometheus.CounterVec
	ItemErrors          *prometheus.CounterVec
	BetsSettled         *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	LearningUpdates     *prometheus.CounterVec
	Eliminations        prometheus.Counter
	ProjectionDuration  *prometheus.HistogramVec
	Balance             *prometheus.GaugeVec
	GameDuration        prometheus.Histogram
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Graded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settle_graded_assertions_total",
				Help: "Graded prediction assertions by grading method",
			},
			[]string{"method"},
		),
		ItemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settle_item_errors_total",
				Help: "Skipped batch items by stage and error kind",
			},
			[]string{"stage", "kind"},
		),
		BetsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settle_bets_settled_total",
				Help: "Settled bets by final status",
			},
			[]string{"status"},
		),
		InvariantViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "settle_invariant_violations_total",
				Help: "Settlements rejected because a balance would go negative",
			},
		),
		LearningUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settle_learning_updates_total",
				Help: "Calibration updates by kind",
			},
			[]string{"kind"},
		),
		Eliminations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "settle_eliminations_total",
				Help: "Accounts that reached a zero balance",
			},
		),
		ProjectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settle_projection_duration_seconds",
				Help:    "Coherence projection latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"result"},
		),
		Balance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "settle_expert_balance",
				Help: "Current bankroll balance per expert",
			},
			[]string{"expert_id", "season"},
		),
		GameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settle_game_duration_seconds",
				Help:    "End to end processing time of one game batch",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.Graded, m.ItemErrors, m.BetsSettled, m.InvariantViolations,
			m.LearningUpdates, m.Eliminations, m.ProjectionDuration, m.Balance, m.GameDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveGraded(method string) {
	if m == nil {
		return
	}
	m.Graded.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveItemError(stage, kind string) {
	if m == nil {
		return
	}
	m.ItemErrors.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) ObserveSettled(status string) {
	if m == nil {
		return
	}
	m.BetsSettled.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolations.Inc()
}

func (m *Metrics) ObserveLearning(kind string) {
	if m == nil {
		return
	}
	m.LearningUpdates.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveElimination() {
	if m == nil {
		return
	}
	m.Eliminations.Inc()
}

func (m *Metrics) ObserveProjection(success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "infeasible"
	}
	m.ProjectionDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) SetBalance(expertID, season string, balance float64) {
	if m == nil {
		return
	}
	m.Balance.WithLabelValues(expertID, season).Set(balance)
}

func (m *Metrics) ObserveGame(d time.Duration) {
	if m == nil {
		return
	}
	m.GameDuration.Observe(d.Seconds())
}
