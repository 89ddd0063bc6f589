// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdd_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Live sessions
	sessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sdd_sessions_active",
			Help: "Number of open live sessions by kind",
		},
		[]string{"kind"},
	)

	heartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdd_log_heartbeats_total",
			Help: "Heartbeat tokens sent to idle log subscribers",
		},
	)

	execCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdd_exec_commands_total",
			Help: "Commands executed in interactive sessions",
		},
		[]string{"outcome"},
	)

	// Sandbox helpers
	helpersLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sdd_sandbox_helpers_live",
			Help: "Helper containers currently running",
		},
	)

	helperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdd_sandbox_helper_runs_total",
			Help: "Helper container runs by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	janitorRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdd_janitor_removed_total",
			Help: "Orphaned artifacts removed by the janitor",
		},
		[]string{"kind"},
	)

	// Errors
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdd_errors_total",
			Help: "Errors returned to clients by category",
		},
		[]string{"category"},
	)
)

const (
	KindLogs = "logs"
	KindExec = "exec"
)

func RecordRequest(method, route string, status int, seconds float64) {
	requestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(seconds)
}

func SessionOpened(kind string) { sessionsActive.WithLabelValues(kind).Inc() }
func SessionClosed(kind string) { sessionsActive.WithLabelValues(kind).Dec() }

func Heartbeat() { heartbeatsTotal.Inc() }

func ExecCommand(ok bool) {
	if ok {
		execCommandsTotal.WithLabelValues("ok").Inc()
		return
	}
	execCommandsTotal.WithLabelValues("failed").Inc()
}

func HelperStarted() { helpersLive.Inc() }
func HelperRemoved() { helpersLive.Dec() }

func HelperRun(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	helperRunsTotal.WithLabelValues(op, outcome).Inc()
}

func JanitorRemoved(kind string, n int) {
	if n > 0 {
		janitorRemovedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func Error(category string) { errorsTotal.WithLabelValues(category).Inc() }

func statusClass(status int) string {
	switch {
	case status >= 100 && status < 200:
		return "1xx"
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
