package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_sync_active_sessions",
		Help: "Number of open playback sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_sync_sessions_total",
		Help: "Total number of playback sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_sync_session_duration_seconds",
		Help:    "Lifetime of playback sessions in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
	})

	sourceLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_sync_source_loads_total",
		Help: "Playback sources created, by mode",
	}, []string{"mode"}) // mode: "media" or "simulated"

	// Drift metrics
	driftDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_sync_drift_decisions_total",
		Help: "Drift detection outcomes",
	}, []string{"outcome"})

	driftAbsolute = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_sync_drift_absolute_ms",
		Help:    "Absolute difference between audio and transcript duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})

	// Persistence metrics
	persistRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_sync_persist_requests_total",
		Help: "Corrected transcript persistence attempts",
	}, []string{"status"})

	persistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_sync_persist_latency_seconds",
		Help:    "Corrected transcript persistence latency in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_sync_errors_total",
		Help: "Total number of recovered errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_sync_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Stream metrics
	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playback_sync_stream_clients",
		Help: "Connected websocket clients",
	})
)

// Error types recorded by the sync engine
const (
	ErrorMediaLoad         = "media_load"
	ErrorInvalidDuration   = "invalid_duration"
	ErrorConcurrentCorrect = "concurrent_correction"
	ErrorPersist           = "persist"
	ErrorStreamProtocol    = "stream_protocol"
	ComponentOrchestrator  = "orchestrator"
	ComponentPlayback      = "playback"
	ComponentStore         = "store"
	ComponentStream        = "stream"
)

// SessionMetrics tracks metrics for a single playback session
type SessionMetrics struct {
	conversationID string
	startTime      time.Time
	mu             sync.Mutex
	ended          bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(conversationID string) *SessionMetrics {
	return &SessionMetrics{
		conversationID: conversationID,
		startTime:      time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSourceLoad records a new playback source
func (m *SessionMetrics) RecordSourceLoad(simulated bool) {
	mode := "media"
	if simulated {
		mode = "simulated"
	}
	sourceLoads.WithLabelValues(mode).Inc()
}

// RecordDriftDecision records a drift detection outcome. absDriftMs is
// observed only when a comparison actually took place.
func (m *SessionMetrics) RecordDriftDecision(outcome string, absDriftMs int64, measured bool) {
	driftDecisions.WithLabelValues(outcome).Inc()
	if measured {
		driftAbsolute.Observe(float64(absDriftMs))
	}
}

// RecordError records a recovered error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPersist records the result of persisting a corrected transcript
func RecordPersist(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues(ErrorPersist, ComponentStore).Inc()
	}
	persistRequests.WithLabelValues(status).Inc()
	persistLatency.Observe(latency.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// StreamClientConnected tracks a websocket client joining
func StreamClientConnected() {
	streamClients.Inc()
}

// StreamClientDisconnected tracks a websocket client leaving
func StreamClientDisconnected() {
	streamClients.Dec()
}

// RecordStreamError records a malformed or failed stream message
func RecordStreamError() {
	errorsTotal.WithLabelValues(ErrorStreamProtocol, ComponentStream).Inc()
}
