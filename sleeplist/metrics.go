package sleeplist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pendingExpirations = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_sleeplist_pending",
	Help: "Number of scheduled expirations waiting to fire",
})

var expirationsScheduled = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_sleeplist_scheduled_total",
	Help: "Number of expirations scheduled (including rehydration)",
})

var expirationsFired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_sleeplist_fired_total",
	Help: "Number of expirations which fired",
})

var expirationsCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_sleeplist_cancelled_total",
	Help: "Number of scheduled expirations cancelled before firing",
})

var expireCallbackErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_sleeplist_callback_errors_total",
	Help: "Number of fired expirations whose callback returned an error",
})
