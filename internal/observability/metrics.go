package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame outcomes recorded per kind.
const (
	OutcomePersisted        = "persisted"
	OutcomeTelemetry        = "telemetry"
	OutcomeSkipped          = "skipped"
	OutcomeTruncated        = "truncated"
	OutcomeMalformed        = "malformed"
	OutcomeGeometryMismatch = "geometry_mismatch"
	OutcomeTooLarge         = "too_large"
	OutcomePersistFailed    = "persist_failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensorctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	ingestBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sensorctl",
			Subsystem: "ingest",
			Name:      "received_bytes_total",
			Help:      "Bytes received from the capture device.",
		},
	)
	ingestReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorctl",
			Subsystem: "ingest",
			Name:      "reads_total",
			Help:      "Socket reads by result (data or empty).",
		},
		[]string{"result"},
	)
	ingestFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorctl",
			Subsystem: "ingest",
			Name:      "frames_total",
			Help:      "Frames handled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	persistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensorctl",
			Subsystem: "sink",
			Name:      "persist_duration_seconds",
			Help:      "Time spent writing one artifact.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind", "success"},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sensorctl",
			Subsystem: "ingest",
			Name:      "session_state",
			Help:      "Current session state (0 listening, 1 accepted, 2 streaming, 3 closed).",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensorctl",
			Subsystem: "ingest",
			Name:      "sessions_total",
			Help:      "Sessions closed by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			ingestBytes,
			ingestReads,
			ingestFrames,
			persistDuration,
			sessionState,
			sessionsTotal,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRead(n int) {
	RegisterMetrics()
	if n == 0 {
		ingestReads.WithLabelValues("empty").Inc()
		return
	}
	ingestReads.WithLabelValues("data").Inc()
	ingestBytes.Add(float64(n))
}

func RecordFrame(kind, outcome string) {
	RegisterMetrics()
	ingestFrames.WithLabelValues(kind, outcome).Inc()
}

func RecordPersist(kind string, duration time.Duration, success bool) {
	RegisterMetrics()
	persistDuration.WithLabelValues(kind, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func SetSessionState(state int) {
	RegisterMetrics()
	sessionState.Set(float64(state))
}

func RecordSessionClosed(reason string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(reason).Inc()
}
