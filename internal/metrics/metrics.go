package metrics

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration tracks HTTP request duration in seconds by method, path, status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestTotal counts HTTP requests by method, path, status.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ActionsInFlight is the number of chaos actions currently holding a target lock.
	ActionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chaos_actions_in_flight",
			Help: "Number of chaos actions currently executing",
		},
	)

	// ActionsTotal counts finished executions by target type, action and status.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_actions_total",
			Help: "Total number of chaos actions finished",
		},
		[]string{"target_type", "action", "status"},
	)

	// ActionAttempts counts transport attempts, including retries.
	ActionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_action_attempts_total",
			Help: "Total number of transport attempts by outcome kind",
		},
		[]string{"outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaos_action_duration_seconds",
			Help:    "Time from lock acquisition to terminal outcome",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"target_type", "action"},
	)

	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chaos_scheduler_ticks_total",
			Help: "Total number of scheduler polls",
		},
	)

	SchedulerDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_scheduler_dispatched_total",
			Help: "Due experiments handed to the dispatch pool, by result",
		},
		[]string{"result"},
	)

	// RunLogPending is the number of run records waiting to be re-persisted.
	RunLogPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chaos_runlog_pending",
			Help: "Run records buffered after a persistence failure",
		},
	)

	RunLogDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chaos_runlog_dropped_total",
			Help: "Run records that could not be buffered (logged instead)",
		},
	)

	TargetStatusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_target_status_changes_total",
			Help: "Target status transitions by new status",
		},
		[]string{"status"},
	)

	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_http_panics_total",
			Help: "Handler panics recovered, by normalized path",
		},
		[]string{"path"},
	)
)

var (
	numericPathSegment = regexp.MustCompile(`/[0-9]+(/|$)`)
	initOnce           sync.Once
)

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestDuration, RequestTotal,
			ActionsInFlight, ActionsTotal, ActionAttempts, ActionDuration,
			SchedulerTicks, SchedulerDispatched,
			RunLogPending, RunLogDropped,
			TargetStatusChanges, HandlerPanics,
		)
	})
}

// NormalizePath reduces cardinality by replacing numeric path segments with {id}.
// E.g. /targets/123/actions/stop -> /targets/{id}/actions/stop.
func NormalizePath(path string) string {
	for {
		next := numericPathSegment.ReplaceAllString(path, "/{id}$1")
		if next == path {
			return next
		}
		path = next
	}
}

// RecordRequest records duration and count for an HTTP request. Call from middleware with method, path, statusCode, duration.
func RecordRequest(method, path string, statusCode int, durationSeconds float64) {
	path = NormalizePath(path)
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAction records a finished execution.
func RecordAction(targetType, action, status string, durationSeconds float64) {
	ActionsTotal.WithLabelValues(targetType, action, status).Inc()
	ActionDuration.WithLabelValues(targetType, action).Observe(durationSeconds)
}
