// Package metrics defines the Prometheus counters/gauges spec.md §4.1,
// §4.7, and §5 require as metrics rather than log lines: capture/playback
// drops, stream underruns, codec resets, and reconnect attempts. The core
// never starts its own HTTP server; the caller registers these into a
// prometheus.Registry it owns and scrapes however it sees fit.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the pipeline increments.
type Metrics struct {
	CaptureFramesDropped  prometheus.Counter
	PlaybackFramesDropped prometheus.Counter
	PlaybackUnderruns     prometheus.Counter
	StreamRebuilds        prometheus.Counter
	CodecResets           prometheus.Counter
	ReconnectAttempts     prometheus.Counter
	TransportFailures     prometheus.Counter
	ToolCallsTotal        *prometheus.CounterVec
	ToolCallDuration      *prometheus.HistogramVec
	SessionState          prometheus.Gauge
}

// New constructs and registers every metric into reg with MustRegister.
// Ownership is explicit (the caller supplies reg), so callers constructing
// multiple Metrics against the same registry get a clear panic instead of
// silent metric aliasing.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CaptureFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_capture_frames_dropped_total",
			Help: "Capture frames dropped at the audio boundary due to queue backpressure.",
		}),
		PlaybackFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_playback_frames_dropped_total",
			Help: "Decoded frames dropped on the playback path.",
		}),
		PlaybackUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_playback_underruns_total",
			Help: "Playback ticks in which a lost packet was concealed.",
		}),
		StreamRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_audio_stream_rebuilds_total",
			Help: "Mid-session audio stream read/write errors; the affected loop stops, the stream is not rebuilt.",
		}),
		CodecResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_codec_resets_total",
			Help: "Opus packets that failed to decode and were dropped.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_transport_reconnect_attempts_total",
			Help: "Transport reconnection attempts made by the backoff policy.",
		}),
		TransportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xiaoclient_transport_failures_total",
			Help: "Transport reconnection budgets exhausted, forcing the session back to IDLE.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xiaoclient_tool_calls_total",
			Help: "Tool calls dispatched, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xiaoclient_tool_call_duration_seconds",
			Help:    "Tool handler execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xiaoclient_session_state",
			Help: "Current session.State as an integer (IDLE=0 .. ABORTING=4).",
		}),
	}

	reg.MustRegister(
		m.CaptureFramesDropped,
		m.PlaybackFramesDropped,
		m.PlaybackUnderruns,
		m.StreamRebuilds,
		m.CodecResets,
		m.ReconnectAttempts,
		m.TransportFailures,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.SessionState,
	)

	return m
}
