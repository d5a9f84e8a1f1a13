package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
	SessionStatusError  SessionStatus = "error"
)

// ConnectionQuality buckets derived from average turn latency.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// Session is the persisted record of one voice session. Latency aggregates
// are recomputed after every completed turn and frozen at finalization.
type Session struct {
	ID                string        `json:"id"`
	RoomID            string        `json:"room_id,omitempty"`
	ParticipantID     string        `json:"participant_id,omitempty"`
	UserID            string        `json:"user_id"`
	AgentID           string        `json:"agent_id"`
	Status            SessionStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	DurationS         *float64      `json:"duration_s,omitempty"`
	TotalTurns        int           `json:"total_turns"`
	AvgLatencyMs      int64         `json:"avg_latency_ms"`
	P95LatencyMs      int64         `json:"p95_latency_ms"`
	P99LatencyMs      int64         `json:"p99_latency_ms"`
	FramesDropped     int64         `json:"frames_dropped"`
	ConnectionQuality string        `json:"connection_quality,omitempty"`
}

func NewSession(id, userID, agentID string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		AgentID:   agentID,
		Status:    SessionStatusActive,
		StartedAt: time.Now().UTC(),
	}
}

func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// ApplyAggregates refreshes the running latency aggregates. Called after
// each completed turn while the session is live.
func (s *Session) ApplyAggregates(agg LatencyAggregates) {
	s.TotalTurns = agg.Count
	s.AvgLatencyMs = agg.AvgMs
	s.P95LatencyMs = agg.P95Ms
	s.P99LatencyMs = agg.P99Ms
}

// Finalize closes the session record with its aggregates. Status only moves
// active to ended or active to error; it is a no-op on a session already
// finalized.
func (s *Session) Finalize(status SessionStatus, agg LatencyAggregates, framesDropped int64) {
	if !s.IsActive() {
		return
	}
	now := time.Now().UTC()
	s.Status = status
	s.EndedAt = &now
	seconds := now.Sub(s.StartedAt).Seconds()
	s.DurationS = &seconds
	s.ApplyAggregates(agg)
	s.FramesDropped = framesDropped
	s.ConnectionQuality = QualityFromLatency(agg.AvgMs)
}

// Duration reports the session length, up to now while it is still active.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// QualityFromLatency maps average turn latency onto a connection quality
// bucket. Sessions with no turns rate as excellent.
func QualityFromLatency(avgMs int64) string {
	switch {
	case avgMs < 800:
		return QualityExcellent
	case avgMs < 1500:
		return QualityGood
	case avgMs < 2500:
		return QualityFair
	default:
		return QualityPoor
	}
}
