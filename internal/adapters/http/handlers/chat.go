package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
)

// ChatHandler serves the synchronous text path: one reasoning turn per
// request, no session or audio involved.
type ChatHandler struct {
	reason  ports.ReasonUseCase
	agentID string
	ready   func() bool
	logger  *slog.Logger
}

func NewChatHandler(reason ports.ReasonUseCase, agentID string, ready func() bool, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		reason:  reason,
		agentID: agentID,
		ready:   ready,
		logger:  logger,
	}
}

type ChatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type ChatResponse struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	LatencyMs int64  `json:"latency_ms"`
}

// Handle serves POST /chat. A degraded reply (fallback text) is still a 200;
// only a turn the pipeline could not complete at all becomes a 500.
func (h *ChatHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.reason == nil || (h.ready != nil && !h.ready()) {
		respondError(w, "service not ready", http.StatusServiceUnavailable)
		return
	}

	req, ok := decodeJSON[ChatRequest](r, w)
	if !ok {
		return
	}
	if req.UserID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, "text is required", http.StatusBadRequest)
		return
	}

	result, err := h.reason.Execute(r.Context(), models.NewReasoningState(req.UserID, h.agentID, text))
	if err != nil {
		h.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		respondError(w, "reasoning failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, ChatResponse{
		UserID:    req.UserID,
		Text:      result.Reply,
		LatencyMs: result.LatencyMs,
	}, http.StatusOK)
}
