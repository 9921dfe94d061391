// Package observability exposes Prometheus metrics for the server and
// client tick loops.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Server metrics
	serverSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticksync_server_sessions",
			Help: "Number of live sessions",
		},
	)

	serverSessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticksync_server_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	serverTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticksync_server_tick_duration_seconds",
			Help:    "Wall time spent simulating one server tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	serverFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticksync_server_frames_total",
			Help: "Total number of frames handled by the server",
		},
		[]string{"direction", "type"},
	)

	serverFramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticksync_server_frames_dropped_total",
			Help: "Total number of inbound frames dropped",
		},
		[]string{"reason"},
	)

	serverInputDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticksync_server_input_delay_ticks",
			Help:    "Ticks between input arrival and the tick it was tagged for",
			Buckets: prometheus.LinearBuckets(-8, 2, 12),
		},
	)

	// Client metrics
	clientReconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticksync_client_reconciliations_total",
			Help: "Total number of controlled actor corrections",
		},
		[]string{"outcome"},
	)

	clientCorrectionDistance = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticksync_client_correction_distance",
			Help:    "Distance between live and replayed positions",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	clientLatePackets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticksync_client_late_packets_total",
			Help: "Total number of tick packets received after their tick was drained",
		},
	)

	clientUntrackedTickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticksync_client_untracked_tick_errors_total",
			Help: "Total number of tick error echoes without a matching prediction",
		},
	)

	clientLedgerEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticksync_client_ledger_entries",
			Help: "Number of unconfirmed inputs held for replay",
		},
	)

	clientAverageTickError = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticksync_client_average_tick_error",
			Help: "Moving average of the server reported tick error",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers every collector with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			serverSessions,
			serverSessionsCreated,
			serverTickDuration,
			serverFrames,
			serverFramesDropped,
			serverInputDelay,
			clientReconciliations,
			clientCorrectionDistance,
			clientLatePackets,
			clientUntrackedTickErrors,
			clientLedgerEntries,
			clientAverageTickError,
		)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func SetSessions(n int) { serverSessions.Set(float64(n)) }

func RecordSessionCreated() { serverSessionsCreated.Inc() }

func RecordServerTick(d time.Duration) { serverTickDuration.Observe(d.Seconds()) }

// RecordFrame counts a frame; direction is "in" or "out".
func RecordFrame(direction, kind string) {
	serverFrames.WithLabelValues(direction, kind).Inc()
}

func RecordFrameDropped(reason string) {
	serverFramesDropped.WithLabelValues(reason).Inc()
}

func RecordInputDelay(ticks int) { serverInputDelay.Observe(float64(ticks)) }

// RecordCorrection records one reconciliation outcome: "blend", "snap" or
// "direct".
func RecordCorrection(outcome string, distance float64) {
	clientReconciliations.WithLabelValues(outcome).Inc()
	if outcome != "direct" {
		clientCorrectionDistance.Observe(distance)
	}
}

func RecordLatePackets(n uint64) { clientLatePackets.Add(float64(n)) }

func RecordUntrackedTickError() { clientUntrackedTickErrors.Inc() }

func SetLedgerEntries(n int) { clientLedgerEntries.Set(float64(n)) }

func SetAverageTickError(v int) { clientAverageTickError.Set(float64(v)) }
