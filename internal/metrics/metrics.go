// Package metrics provides Prometheus metrics for the client worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 0 disconnected, 1 connecting, 2 connected.
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaidan_connection_state",
		Help: "Current connection state (0 disconnected, 1 connecting, 2 connected).",
	})

	ConnectionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaidan_connection_errors_total",
		Help: "Total number of connection errors, by normalized error.",
	}, []string{"error"})

	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaidan_login_attempts_total",
		Help: "Total number of connection attempts, by trigger.",
	}, []string{"trigger"})

	TasksStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaidan_tasks_started_total",
		Help: "Total number of session-gated tasks started, by mode (immediate/deferred).",
	}, []string{"mode"})

	TasksDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaidan_tasks_discarded_total",
		Help: "Total number of pending tasks discarded after a failed login.",
	})

	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaidan_active_tasks",
		Help: "Number of started tasks that have not called finish yet.",
	})

	PendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaidan_pending_tasks",
		Help: "Number of tasks waiting for the next successful login.",
	})
)

func SetConnectionState(state int) {
	ConnectionState.Set(float64(state))
}

func IncConnectionError(name string) {
	ConnectionErrorsTotal.WithLabelValues(name).Inc()
}

func IncLoginAttempt(trigger string) {
	LoginAttemptsTotal.WithLabelValues(trigger).Inc()
}

func IncTaskStarted(mode string) {
	TasksStartedTotal.WithLabelValues(mode).Inc()
}

func SetTaskCounts(active, pending int) {
	ActiveTasks.Set(float64(active))
	PendingTasks.Set(float64(pending))
}
