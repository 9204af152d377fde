// Package observability exposes Prometheus metrics for the session runtime.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visage_active_sessions",
		Help: "Number of active orchestrated sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visage_sessions_total",
		Help: "Total sessions started, by outcome",
	}, []string{"outcome"})

	signalingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visage_signaling_latency_seconds",
		Help:    "SDP offer/answer exchange latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	bridgeFramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visage_bridge_frames_forwarded_total",
		Help: "Remote audio frames forwarded to the avatar ingestion path",
	})

	bridgeFramesGated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visage_bridge_frames_gated_total",
		Help: "Remote audio frames dropped by the silence gate",
	})

	captureFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visage_capture_frames_total",
		Help: "Microphone frames processed through the capture pipeline",
	})

	terminationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visage_avatar_terminations_total",
		Help: "Avatar termination requests, by trigger",
	}, []string{"trigger"})

	controlEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visage_control_events_total",
		Help: "Control-channel events received, by type",
	}, []string{"type"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visage_errors_total",
		Help: "Errors encountered, by component",
	}, []string{"component"})
)

// SessionStarted marks a session as active.
func SessionStarted() {
	activeSessions.Inc()
	sessionsTotal.WithLabelValues("started").Inc()
}

// SessionStopped marks a session as finished.
func SessionStopped() {
	activeSessions.Dec()
}

// SessionFailed records a session that never reached the active state.
func SessionFailed() {
	sessionsTotal.WithLabelValues("failed").Inc()
}

// RecordSignalingLatency records one SDP exchange round trip.
func RecordSignalingLatency(d time.Duration) {
	signalingLatency.Observe(d.Seconds())
}

// RecordBridgeFrame records a remote frame's fate at the silence gate.
func RecordBridgeFrame(forwarded bool) {
	if forwarded {
		bridgeFramesForwarded.Inc()
	} else {
		bridgeFramesGated.Inc()
	}
}

// RecordCaptureFrame records one processed microphone frame.
func RecordCaptureFrame() {
	captureFrames.Inc()
}

// RecordTermination records an avatar termination request by trigger:
// "stop", "teardown", "unload", or "orphan".
func RecordTermination(trigger string) {
	terminationCalls.WithLabelValues(trigger).Inc()
}

// RecordControlEvent records one control-channel event by type.
func RecordControlEvent(eventType string) {
	controlEvents.WithLabelValues(eventType).Inc()
}

// RecordError records an error by component name.
func RecordError(component string) {
	errorsTotal.WithLabelValues(component).Inc()
}
