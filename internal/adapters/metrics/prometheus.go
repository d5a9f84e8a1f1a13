package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_requests_total",
		Help: "Operations started, by operation name",
	}, []string{"operation"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_errors_total",
		Help: "Operation failures, by error kind",
	}, []string{"kind"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aria_latency_ms",
		Help:    "Per-stage latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"stage"})

	ContextSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_context_size",
		Help:    "Prior turns attached as reasoning context",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10},
	})

	WarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_warnings_total",
		Help: "Degraded but non-fatal stage outcomes",
	}, []string{"stage"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aria_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_sessions_total",
		Help: "Voice sessions finalized, by terminal status",
	}, []string{"status"})

	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_session_transitions_total",
		Help: "Session state machine transitions, by target state",
	}, []string{"state"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_turns_total",
		Help: "Turns completed, by outcome",
	}, []string{"status"})

	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_turn_latency_seconds",
		Help:    "Voice-end to first synthesized chunk",
		Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 7, 10},
	})

	STTLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_stt_latency_seconds",
		Help:    "Voice-end to final transcript",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aria_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"model"})

	TTSFirstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_tts_first_chunk_seconds",
		Help:    "Synthesis start to first audible chunk",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2},
	})

	PersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aria_persist_latency_seconds",
		Help:    "Turn persistence duration including retries",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_frames_dropped_total",
		Help: "Audio frames dropped from full session queues",
	})

	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_barge_ins_total",
		Help: "Agent playback interruptions by user speech",
	})

	TTSBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_tts_busy_total",
		Help: "Synthesis requests rejected because all slots stayed busy",
	})

	PersistRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_persist_retries_total",
		Help: "Turn persistence attempts beyond the first",
	})

	FallbackRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_fallback_replies_total",
		Help: "Turns answered with the canned fallback reply",
	})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_bus_published_total",
		Help: "Envelopes published to the ephemeral bus",
	}, []string{"subject"})

	BusRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_bus_requests_total",
		Help: "Request/reply exchanges on the ephemeral bus",
	}, []string{"subject", "status"})

	LogProducedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_log_produced_total",
		Help: "Envelopes appended to the durable log",
	}, []string{"topic"})

	LogNacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_log_nacks_total",
		Help: "Durable log messages negatively acknowledged",
	}, []string{"topic"})
)
