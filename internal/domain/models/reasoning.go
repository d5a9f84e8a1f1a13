package models

import (
	"strings"
	"time"
)

// Prompt roles used in reasoning exchanges.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one prompt message of a reasoning exchange.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasoningState carries one utterance through the reasoning pipeline:
// context retrieval attaches Context and Embedding, reply generation appends
// the assistant message, persistence may advance TurnIndex on conflict.
// The pipeline holds no state beyond this value; per-user serialization is
// the session manager's job.
type ReasoningState struct {
	UserID    string
	AgentID   string
	SessionID string
	RoomID    string

	// TurnIndex is the slot the caller allocated for this turn. Negative
	// asks the pipeline to resolve the next free index itself.
	TurnIndex int

	// Utterance is the user text driving this turn.
	Utterance string

	// Messages is the running exchange, oldest first. It always ends with
	// the current utterance; the generated reply is appended on return.
	Messages []ConversationMessage

	// Context holds the retrieved prior-turn transcripts, most similar
	// first. Empty when retrieval found nothing or failed.
	Context []string

	// Embedding of the utterance, set by the retrieval stage and reused
	// when the turn is persisted.
	Embedding []float32

	// STTLatencyMs is what the caller measured from voice end to final
	// transcript, recorded on the persisted turn. Zero for text inputs.
	STTLatencyMs int64

	// Generation bounds. Zero values take the pipeline defaults.
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// NewReasoningState builds the state for a fresh turn. The utterance is
// seeded as the first running message; TurnIndex starts unresolved.
func NewReasoningState(userID, agentID, utterance string) *ReasoningState {
	return &ReasoningState{
		UserID:    userID,
		AgentID:   agentID,
		TurnIndex: -1,
		Utterance: utterance,
		Messages: []ConversationMessage{
			{Role: RoleUser, Content: utterance},
		},
	}
}

// Validate checks the fields a turn cannot run without.
func (s *ReasoningState) Validate() error {
	if s.UserID == "" || s.AgentID == "" {
		return ErrTurnIncomplete
	}
	if strings.TrimSpace(s.Utterance) == "" {
		return ErrTurnIncomplete
	}
	return nil
}

// ReasoningResult reports how one reasoning turn went. Reply is always
// usable text; degraded turns carry the fixed fallback instead of a model
// reply, deferred turns completed without a durable row.
type ReasoningResult struct {
	Reply             string `json:"reply"`
	TurnID            string `json:"turn_id,omitempty"`
	TurnIndex         int    `json:"turn_index"`
	ContextSize       int    `json:"context_size"`
	ReasoningDegraded bool   `json:"reasoning_degraded,omitempty"`
	PersistDeferred   bool   `json:"persist_deferred,omitempty"`
	LatencyMs         int64  `json:"latency_ms"`
	Model             string `json:"model,omitempty"`
}
