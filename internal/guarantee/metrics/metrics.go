package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the guarantee module.
type Metrics struct {
	GuaranteesCreated prometheus.Counter
	Transitions       *prometheus.CounterVec
	TransitionsDenied *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	ListenerFailures  *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	QueryDuration     prometheus.Histogram
}

// New registers the guarantee metrics with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GuaranteesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "guaranteedesk_guarantees_created_total",
			Help: "Total number of guarantees created",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guaranteedesk_status_transitions_total",
			Help: "Status transitions applied, by source and target status",
		}, []string{"from", "to"}),
		TransitionsDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guaranteedesk_status_transitions_denied_total",
			Help: "Transitions rejected by the lifecycle table",
		}, []string{"from", "to"}),
		AlertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guaranteedesk_alerts_raised_total",
			Help: "Alerts materialized on guarantees, by kind",
		}, []string{"kind"}),
		ListenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guaranteedesk_listener_failures_total",
			Help: "Event listener errors and panics, by event type",
		}, []string{"event"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guaranteedesk_operation_duration_seconds",
			Help:    "Duration of guarantee service mutations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "guaranteedesk_query_duration_seconds",
			Help:    "Duration of guarantee queries including stats",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCreated records a successful guarantee creation.
func (m *Metrics) IncrementCreated() {
	m.GuaranteesCreated.Inc()
}

// IncrementTransition records an applied status change.
func (m *Metrics) IncrementTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// IncrementDenied records a rejected status change.
func (m *Metrics) IncrementDenied(from, to string) {
	m.TransitionsDenied.WithLabelValues(from, to).Inc()
}

// AddAlerts records n alerts of kind.
func (m *Metrics) AddAlerts(kind string, n int) {
	m.AlertsRaised.WithLabelValues(kind).Add(float64(n))
}

// IncrementListenerFailure records a listener that errored or panicked.
func (m *Metrics) IncrementListenerFailure(event string) {
	m.ListenerFailures.WithLabelValues(event).Inc()
}

// ObserveOperation records the duration of a mutation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveQuery records the duration of a query.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveQuery(start time.Time) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
}
