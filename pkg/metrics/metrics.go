// Package metrics exposes Prometheus instrumentation for the framing
// and codec pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FrameCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portmgr_frames_total",
		Help: "Frames emitted by the stream framer, per session and direction",
	}, []string{"session", "direction"})

	ParseCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portmgr_parses_total",
		Help: "Structure parse attempts, per session and outcome",
	}, []string{"session", "status"})

	FramingErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portmgr_framing_errors_total",
		Help: "Non-fatal framing errors (oversized frames, bad step lists)",
	}, []string{"session"})

	ScriptErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portmgr_script_errors_total",
		Help: "Script engine failures, per use (framing, condition, transform)",
	}, []string{"use"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portmgr_active_sessions",
		Help: "Currently open communication sessions",
	})

	BytesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portmgr_bytes_total",
		Help: "Raw bytes moved through the transport, per session and direction",
	}, []string{"session", "direction"})
)

// Direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Parse status constants.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IncFrame counts one emitted or written frame.
func IncFrame(session, direction string) {
	FrameCount.WithLabelValues(session, direction).Inc()
}

// IncParse counts one parse attempt with its outcome.
func IncParse(session, status string) {
	ParseCount.WithLabelValues(session, status).Inc()
}

// IncFramingError counts one non-fatal framing error.
func IncFramingError(session string) {
	FramingErrorCount.WithLabelValues(session).Inc()
}

// IncScriptError counts one script engine failure.
func IncScriptError(use string) {
	ScriptErrorCount.WithLabelValues(use).Inc()
}

// AddBytes counts raw transported bytes.
func AddBytes(session, direction string, n int) {
	BytesCount.WithLabelValues(session, direction).Add(float64(n))
}
