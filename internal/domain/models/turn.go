package models

import (
	"errors"
	"strings"
	"time"
)

// ErrTurnIncomplete marks a turn that cannot be persisted as recorded.
var ErrTurnIncomplete = errors.New("turn missing required fields")

// TurnLatencies carries the per-stage timings of one turn in milliseconds.
// STT measures voice-end to final transcript, Reason the brain call, TTS
// reply to first audio chunk, Total voice-end to first audio chunk.
type TurnLatencies struct {
	STTMs    int64 `json:"latency_stt_ms"`
	ReasonMs int64 `json:"latency_reason_ms"`
	TTSMs    int64 `json:"latency_tts_ms"`
	TotalMs  int64 `json:"latency_total_ms"`
}

// Valid reports whether every stage timing is non-negative.
func (l TurnLatencies) Valid() bool {
	return l.STTMs >= 0 && l.ReasonMs >= 0 && l.TTSMs >= 0 && l.TotalMs >= 0
}

// Turn is one conversational exchange: the user utterance and the agent
// reply it produced, stored as a single immutable record. TurnIndex is
// monotonic within (user_id, agent_id) and the triple is unique.
type Turn struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AgentID       string    `json:"agent_id"`
	RoomID        string    `json:"room_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	TurnIndex     int       `json:"turn_index"`
	UserUtterance string    `json:"user_utterance"`
	AgentReply    string    `json:"agent_reply"`
	Embedding     []float32 `json:"-"`
	Degraded      bool      `json:"degraded,omitempty"`
	TurnLatencies
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func NewTurn(id, userID, agentID string, turnIndex int, utterance, reply string) *Turn {
	return &Turn{
		ID:            id,
		UserID:        userID,
		AgentID:       agentID,
		TurnIndex:     turnIndex,
		UserUtterance: utterance,
		AgentReply:    reply,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks the fields a turn must carry before persistence. The
// embedding is optional; when present its dimension is checked by the store
// against the configured model dimension.
func (t *Turn) Validate() error {
	if t.UserID == "" || t.AgentID == "" {
		return ErrTurnIncomplete
	}
	if t.TurnIndex < 0 {
		return ErrTurnIncomplete
	}
	if strings.TrimSpace(t.UserUtterance) == "" || strings.TrimSpace(t.AgentReply) == "" {
		return ErrTurnIncomplete
	}
	if !t.TurnLatencies.Valid() {
		return ErrTurnIncomplete
	}
	return nil
}

// Transcript renders the exchange in the "User: ... / Agent: ..." form used
// both for embedding input and for prompt context.
func (t *Turn) Transcript() string {
	var b strings.Builder
	if t.UserUtterance != "" {
		b.WriteString("User: ")
		b.WriteString(t.UserUtterance)
	}
	if t.AgentReply != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Agent: ")
		b.WriteString(t.AgentReply)
	}
	return b.String()
}

// ScoredTurn is a turn returned from similarity search together with its
// cosine distance from the query (smaller is more similar).
type ScoredTurn struct {
	Turn
	Distance float64 `json:"distance"`
}
