package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trackrelay"

// Channel labels for per-channel relay metrics.
const (
	ChannelTracking = "tracking"
	ChannelManager  = "manager"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	sessionsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "resolved_total",
		Help:      "Connection pairs bound into a session.",
	})
	sessionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Connection pairs refused during the handshake.",
		},
		[]string{"reason"},
	)
	sessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "1 while a session is streaming.",
	})

	topologyPublishes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "publishes_total",
		Help:      "Topology messages written to the manager channel.",
	})
	topologyDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "devices",
		Help:      "Devices in the installed topology.",
	})
	topologyMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "mismatches_total",
		Help:      "Pose ticks refused because they did not match the installed topology.",
	})

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames written per channel.",
		},
		[]string{"channel"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "bytes_total",
			Help:      "Payload bytes written per channel, terminator included.",
		},
		[]string{"channel"},
	)
	frameWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "write_duration_seconds",
			Help:      "Frame write latency per channel.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		},
		[]string{"channel"},
	)
	managerReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "replies_total",
			Help:      "Replies read from the manager channel.",
		},
		[]string{"status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsResolved, sessionsRejected, sessionActive,
			topologyPublishes, topologyDevices, topologyMismatches,
			framesSent, frameBytes, frameWriteDuration,
			managerReplies,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionResolved() {
	RegisterMetrics()
	sessionsResolved.Inc()
}

func RecordSessionRejected(reason string) {
	RegisterMetrics()
	if reason == "" {
		reason = "other"
	}
	sessionsRejected.WithLabelValues(reason).Inc()
}

func SetSessionActive(active bool) {
	RegisterMetrics()
	if active {
		sessionActive.Set(1)
		return
	}
	sessionActive.Set(0)
}

func RecordTopologyPublish(devices int) {
	RegisterMetrics()
	topologyPublishes.Inc()
	topologyDevices.Set(float64(devices))
}

func RecordTopologyMismatch() {
	RegisterMetrics()
	topologyMismatches.Inc()
}

// RecordFrameSent counts one written frame of size bytes on channel.
func RecordFrameSent(channel string, size int, duration time.Duration) {
	RegisterMetrics()
	framesSent.WithLabelValues(channel).Inc()
	frameBytes.WithLabelValues(channel).Add(float64(size))
	frameWriteDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordManagerReply(status string) {
	RegisterMetrics()
	managerReplies.WithLabelValues(status).Inc()
}
