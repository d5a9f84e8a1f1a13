package protocol

import (
	"encoding/json"
	"fmt"
)

// Event types carried on the durable conversation stream.
const (
	EventTurnCompleted = "turn_completed"
	EventSessionEnded  = "session_ended"
	EventTurnTimeout   = "turn_timeout"
	EventBargeIn       = "barge_in"
)

// SessionStarted announces a new voice session on agent.voice.session.started.
type SessionStarted struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	RoomID        string `json:"room_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	AgentID       string `json:"agent_id"`
}

// TrackPublished announces a participant media track on
// agent.voice.track.published.
type TrackPublished struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	TrackID       string `json:"track_id"`
	TrackKind     string `json:"track_kind"`
}

// Constraints bound a single reasoning invocation.
type Constraints struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	TimeoutMs   int     `json:"timeout_ms"`
}

// DefaultConstraints are applied when a brain request carries none.
func DefaultConstraints() Constraints {
	return Constraints{MaxTokens: 150, Temperature: 0.7, TimeoutMs: 2000}
}

// BrainRequest is the request shape for agent.brain.request.
type BrainRequest struct {
	RequestID     string      `json:"request_id"`
	UserID        string      `json:"user_id"`
	SessionID     string      `json:"session_id,omitempty"`
	TurnIndex     int         `json:"turn_index"`
	UserUtterance string      `json:"user_utterance"`
	Constraints   Constraints `json:"constraints"`
}

// BrainReply is the success reply shape for agent.brain.request.
type BrainReply struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	LatencyMs int64  `json:"latency_ms"`
}

// Heartbeat is published to system.health.heartbeat on every keepalive tick.
type Heartbeat struct {
	Service string         `json:"service"`
	Status  string         `json:"status"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// TurnCompleted is emitted on events/conversations after each turn, keyed by
// session so per-session order is preserved.
type TurnCompleted struct {
	SessionID         string `json:"session_id"`
	UserID            string `json:"user_id"`
	AgentID           string `json:"agent_id"`
	TurnIndex         int    `json:"turn_index"`
	ReasoningDegraded bool   `json:"reasoning_degraded"`
	PersistDeferred   bool   `json:"persist_deferred"`
	ContextSize       int    `json:"context_size"`
	LatencySTTMs      int64  `json:"latency_stt_ms"`
	LatencyReasonMs   int64  `json:"latency_reason_ms"`
	LatencyTTSMs      int64  `json:"latency_tts_ms"`
	LatencyTotalMs    int64  `json:"latency_total_ms"`
}

// SessionEnded is emitted on events/conversations when a session finalizes.
type SessionEnded struct {
	SessionID         string  `json:"session_id"`
	UserID            string  `json:"user_id"`
	Status            string  `json:"status"`
	DurationS         float64 `json:"duration_s"`
	TotalTurns        int     `json:"total_turns"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`
	P95LatencyMs      int64   `json:"p95_latency_ms"`
	P99LatencyMs      int64   `json:"p99_latency_ms"`
	ConnectionQuality string  `json:"connection_quality,omitempty"`
}

// TurnTimeout is emitted when a turn produces no audio within the turn
// deadline.
type TurnTimeout struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TurnIndex int    `json:"turn_index"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// BargeIn is emitted when user speech interrupts agent speech.
type BargeIn struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TurnIndex int    `json:"turn_index"`
	SpokenMs  int64  `json:"spoken_ms"`
}

// LatencyMetric is the analytics latency-metrics payload.
type LatencyMetric struct {
	Operation string `json:"operation"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model,omitempty"`
}

// AuditEntry is the audit log payload; producers merge extra detail fields
// on top of it.
type AuditEntry struct {
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// DecodePayload converts a parsed flat payload into one of the typed shapes
// above by re-encoding through JSON.
func DecodePayload[T any](payload map[string]any) (*T, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("re-encode payload: %w", err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: decode payload to %T: %v", ErrMalformedMessage, result, err)
	}
	return &result, nil
}

// PayloadOf flattens a typed shape back into the map form Wrap consumes.
func PayloadOf(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("flatten payload: %w", err)
	}
	return m, nil
}
