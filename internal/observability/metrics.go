package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	inspections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpwire",
			Subsystem: "debug",
			Name:      "inspections_total",
			Help:      "Requests served by the debug server by route and protocol domain.",
		},
		[]string{"server", "route", "domain", "status"},
	)
	inspectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdpwire",
			Subsystem: "debug",
			Name:      "inspection_duration_seconds",
			Help:      "Debug server response time by route.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"server", "route"},
	)
	commandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdpwire",
			Subsystem: "router",
			Name:      "command_latency_seconds",
			Help:      "Round trip time between sending a command and dispatching its response.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"domain", "method"},
	)
	pendingResponses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdpwire",
			Subsystem: "router",
			Name:      "pending_responses",
			Help:      "Commands awaiting a response, long-polling calls excluded.",
		},
	)
	protocolReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpwire",
			Subsystem: "router",
			Name:      "protocol_reports_total",
			Help:      "Protocol errors and warnings reported by the router.",
		},
		[]string{"kind"},
	)
	coalescedDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdpwire",
			Subsystem: "agent",
			Name:      "coalesced_drops_total",
			Help:      "Debounced calls replaced by a newer call before being sent.",
		},
		[]string{"method"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			inspections,
			inspectionDuration,
			commandLatency,
			pendingResponses,
			protocolReports,
			coalescedDrops,
		)
	})
}

// RecordInspection counts one debug server request. domain is empty for
// routes that do not name one.
func RecordInspection(server, route, domain string, status int, d time.Duration) {
	RegisterMetrics()
	inspections.WithLabelValues(server, route, domain, strconv.Itoa(status)).Inc()
	inspectionDuration.WithLabelValues(server, route).Observe(d.Seconds())
}

func ObserveCommandLatency(domain, method string, d time.Duration) {
	RegisterMetrics()
	commandLatency.WithLabelValues(domain, method).Observe(d.Seconds())
}

func SetPendingResponses(n int) {
	RegisterMetrics()
	pendingResponses.Set(float64(n))
}

// RecordProtocolReport counts a router report; kind is "error" or "warning".
func RecordProtocolReport(kind string) {
	RegisterMetrics()
	protocolReports.WithLabelValues(kind).Inc()
}

func RecordCoalescedDrop(method string) {
	RegisterMetrics()
	coalescedDrops.WithLabelValues(method).Inc()
}
