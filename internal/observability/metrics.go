package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "packets_sent_total",
			Help:      "Packets written to the instrument, by kind.",
		},
		[]string{"kind"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "packets_received_total",
			Help:      "Packets decoded from the instrument, by kind.",
		},
		[]string{"kind"},
	)
	unsolicitedDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "unsolicited_dropped_total",
			Help:      "Responses with no matching pending request.",
		},
	)
	requestTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "request_timeouts_total",
			Help:      "Requests that expired before a matching response.",
		},
	)
	connectionLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "connection_losses_total",
			Help:      "Transport failures that invalidated a session.",
		},
	)
	requestRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harplink",
			Subsystem: "session",
			Name:      "request_rtt_seconds",
			Help:      "Round-trip time of correlated requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harplink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Diagnostics HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsSent, packetsReceived, unsolicitedDropped,
			requestTimeouts, connectionLosses, requestRTT, httpRequests,
		)
	})
}

func RecordPacketSent(kind string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(kind).Inc()
}

func RecordPacketReceived(kind string) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(kind).Inc()
}

func RecordUnsolicited() {
	RegisterMetrics()
	unsolicitedDropped.Inc()
}

func RecordTimeout() {
	RegisterMetrics()
	requestTimeouts.Inc()
}

func RecordConnectionLost() {
	RegisterMetrics()
	connectionLosses.Inc()
}

func ObserveRequestRTT(kind string, duration time.Duration) {
	RegisterMetrics()
	requestRTT.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
