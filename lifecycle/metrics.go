package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_operations_total",
	Help: "Number of lifecycle operations, by outcome",
}, []string{"op", "result"})

var operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_operation_duration_sec",
	Help:    "Duration of lifecycle operations",
	Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
}, []string{"op"})

var enforcementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_enforcement_failures_total",
	Help: "Number of failed enforcement backend calls",
}, []string{"kind", "call"})

var sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_side_effect_failures_total",
	Help: "Number of failed notification, audit, or critical report deliveries",
}, []string{"sink"})

var criticalReports = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_critical_reports_total",
	Help: "Number of conditions reported to the critical error sink",
}, []string{"op"})
