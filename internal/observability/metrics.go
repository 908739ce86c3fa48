package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_active_sessions",
		Help: "Number of active transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_sessions_total",
		Help: "Total number of transcription sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Audio metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audio_frames_sent_total",
		Help: "Total number of audio frames sent to the transcription provider",
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"path"}) // path: "provider" or "recording"

	// Transcript metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_transcript_events_total",
		Help: "Total transcript events received from the provider",
	}, []string{"kind"}) // kind: "partial" or "final"

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_segments_total",
		Help: "Total finalized transcript segments",
	})

	// Risk scoring metrics
	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_risk_assessments_total",
		Help: "Total risk assessments produced",
	}, []string{"outcome"}) // outcome: "clean", "score", "keyword", "degraded"

	classifierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_classifier_requests_total",
		Help: "Total classifier scoring requests",
	}, []string{"status"})

	classifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_classifier_latency_seconds",
		Help:    "Classifier scoring latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	alertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alert_transitions_total",
		Help: "Total alert state transitions",
	}, []string{"transition"}) // transition: "raised" or "cleared"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionStart records the start of a transcription session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session and its duration
func RecordSessionEnd(startedAt time.Time) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(startedAt).Seconds())
}

// RecordFrameSent records one audio frame handed to the provider
func RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytesProcessed.WithLabelValues("provider").Add(float64(bytes))
}

// RecordRecordingBytes records audio bytes teed to the recording sink
func RecordRecordingBytes(bytes int) {
	audioBytesProcessed.WithLabelValues("recording").Add(float64(bytes))
}

// RecordTranscriptEvent records one provider event by kind
func RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordSegment records one finalized segment
func RecordSegment() {
	segmentsTotal.Inc()
}

// RecordAssessment records one risk assessment by outcome
func RecordAssessment(outcome string) {
	assessmentsTotal.WithLabelValues(outcome).Inc()
}

// RecordClassifierCall records one classifier request with its latency
func RecordClassifierCall(start time.Time, success bool) {
	classifierLatency.Observe(time.Since(start).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	classifierRequests.WithLabelValues(status).Inc()
}

// RecordAlertRaised records an inactive-to-active alert transition
func RecordAlertRaised() {
	alertTransitions.WithLabelValues("raised").Inc()
}

// RecordAlertCleared records an active-to-inactive alert transition
func RecordAlertCleared() {
	alertTransitions.WithLabelValues("cleared").Inc()
}

// RecordError records an error by type and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
