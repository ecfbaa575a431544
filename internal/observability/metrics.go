package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded on xlloop_calls_total.
const (
	OutcomeOK         = "ok"
	OutcomeErrorValue = "error_value"
	OutcomeFault      = "fault"
)

var (
	registerOnce sync.Once

	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xlloop",
			Name:      "calls_total",
			Help:      "Function calls answered, by outcome.",
		},
		[]string{"function", "outcome"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xlloop",
			Name:      "call_duration_seconds",
			Help:      "Handler time per function call in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"function"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xlloop",
			Name:      "connections_active",
			Help:      "Open client connections.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xlloop",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		},
	)
	connectionFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xlloop",
			Name:      "connection_faults_total",
			Help:      "Connections closed on a fault, by class.",
		},
		[]string{"class"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xlloop",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xlloop",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			calls,
			callDuration,
			connectionsActive,
			connectionsTotal,
			connectionFaults,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordCall(function, outcome string, duration time.Duration) {
	RegisterMetrics()
	calls.WithLabelValues(function, outcome).Inc()
	callDuration.WithLabelValues(function).Observe(duration.Seconds())
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// RecordConnectionClosed decrements the active gauge. A non-empty class
// also counts the close as a fault.
func RecordConnectionClosed(class string) {
	RegisterMetrics()
	connectionsActive.Dec()
	if class != "" {
		connectionFaults.WithLabelValues(class).Inc()
	}
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
