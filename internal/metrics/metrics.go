package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the DNC guard collectors. All methods are safe on a nil receiver.
type Metrics struct {
	// Decision outcomes by result: allowed, blocked, override, error
	DecisionOutcome *prometheus.CounterVec

	// Interceptor outcomes by channel and result: sent, blocked, bypass, fail_open, fail_closed
	DispatchOutcome *prometheus.CounterVec

	OverridesRecorded *prometheus.CounterVec

	EvaluateLatency prometheus.Histogram

	HTTPRequestDuration *prometheus.HistogramVec

	ExpiredSwept prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DecisionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dnc_decision_outcomes_total",
			Help: "Total contact decisions by outcome",
		}, []string{"outcome"}),

		DispatchOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dnc_dispatch_outcomes_total",
			Help: "Outbound dispatches seen by the enforcement interceptor",
		}, []string{"channel", "outcome"}),

		OverridesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dnc_overrides_recorded_total",
			Help: "Override audit rows written by type",
		}, []string{"type"}),

		EvaluateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dnc_evaluate_duration_seconds",
			Help:    "Duration of a contact decision",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnc_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		ExpiredSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "dnc_registry_expired_swept_total",
			Help: "Registry entries deactivated by the expiry sweep",
		}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(outcome string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementDispatch records what the interceptor did with a dispatch.
func (m *Metrics) IncrementDispatch(channel, outcome string) {
	if m != nil {
		m.DispatchOutcome.WithLabelValues(channel, outcome).Inc()
	}
}

// IncrementOverride records a written override.
func (m *Metrics) IncrementOverride(overrideType string) {
	if m != nil {
		m.OverridesRecorded.WithLabelValues(overrideType).Inc()
	}
}

// ObserveEvaluateLatency records the duration of one decision.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, d time.Duration) {
	if m != nil {
		m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}

// AddExpiredSwept records entries deactivated by one sweep.
func (m *Metrics) AddExpiredSwept(n int64) {
	if m != nil && n > 0 {
		m.ExpiredSwept.Add(float64(n))
	}
}
