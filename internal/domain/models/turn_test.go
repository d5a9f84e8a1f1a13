package models

import (
	"errors"
	"testing"
)

func TestTurnValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Turn)
		wantErr bool
	}{
		{
			name:   "complete turn",
			mutate: func(*Turn) {},
		},
		{
			name:    "missing user",
			mutate:  func(tr *Turn) { tr.UserID = "" },
			wantErr: true,
		},
		{
			name:    "missing agent",
			mutate:  func(tr *Turn) { tr.AgentID = "" },
			wantErr: true,
		},
		{
			name:    "negative index",
			mutate:  func(tr *Turn) { tr.TurnIndex = -1 },
			wantErr: true,
		},
		{
			name:    "blank utterance",
			mutate:  func(tr *Turn) { tr.UserUtterance = "  " },
			wantErr: true,
		},
		{
			name:    "blank reply",
			mutate:  func(tr *Turn) { tr.AgentReply = "" },
			wantErr: true,
		},
		{
			name:    "negative latency",
			mutate:  func(tr *Turn) { tr.ReasonMs = -5 },
			wantErr: true,
		},
		{
			name: "session and room are optional",
			mutate: func(tr *Turn) {
				tr.SessionID = ""
				tr.RoomID = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := NewTurn("turn_1", "u1", "aria", 0, "hello", "hi there")
			turn.SessionID = "sess_1"
			tt.mutate(turn)
			err := turn.Validate()
			if tt.wantErr && !errors.Is(err, ErrTurnIncomplete) {
				t.Errorf("Validate() = %v, want ErrTurnIncomplete", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestTurnTranscript(t *testing.T) {
	turn := NewTurn("turn_1", "u1", "aria", 0, "what time is it", "it is noon")
	want := "User: what time is it\nAgent: it is noon"
	if got := turn.Transcript(); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}

	turn.AgentReply = ""
	if got := turn.Transcript(); got != "User: what time is it" {
		t.Errorf("Transcript() without reply = %q", got)
	}
}

func TestNewTurnDefaults(t *testing.T) {
	turn := NewTurn("turn_1", "u1", "aria", 4, "hi", "hello")
	if turn.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if turn.Degraded {
		t.Error("new turn should not be degraded")
	}
	if turn.TurnIndex != 4 {
		t.Errorf("TurnIndex = %d, want 4", turn.TurnIndex)
	}
	if !turn.TurnLatencies.Valid() {
		t.Error("zero latencies should be valid")
	}
}
