package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/shared/protocol"
)

// BrainQueue is the queue group brain workers join so that replicas split
// the request load instead of each answering every request.
const BrainQueue = "brain-workers"

// BrainResponder is the bus face of the reasoning pipeline. It serves
// agent.brain.request for voice frontends running out of process; the serve
// command wires the same pipeline in-process for its own sessions.
type BrainResponder struct {
	reason  ports.ReasonUseCase
	service string
	agentID string
	logger  *slog.Logger
}

func NewBrainResponder(reason ports.ReasonUseCase, service, agentID string, logger *slog.Logger) *BrainResponder {
	return &BrainResponder{
		reason:  reason,
		service: service,
		agentID: agentID,
		logger:  logger.With("component", "brain_responder"),
	}
}

// Attach subscribes the responder on the brain request subject.
func (r *BrainResponder) Attach(bus ports.EphemeralBus) (ports.Subscription, error) {
	return bus.Subscribe(protocol.SubjectBrainRequest, BrainQueue, r.Handle)
}

// Handle runs one brain request through the pipeline and shapes the reply.
// A returned error becomes an error envelope on the reply subject.
func (r *BrainResponder) Handle(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error) {
	req, err := protocol.DecodePayload[protocol.BrainRequest](env.Payload)
	if err != nil {
		return nil, err
	}
	if req.UserID == "" || strings.TrimSpace(req.UserUtterance) == "" {
		return nil, fmt.Errorf("%w: user_id and user_utterance are required", domain.ErrInvalidInput)
	}

	constraints := req.Constraints
	if constraints == (protocol.Constraints{}) {
		constraints = protocol.DefaultConstraints()
	}

	state := models.NewReasoningState(req.UserID, r.agentID, req.UserUtterance)
	state.SessionID = req.SessionID
	if req.TurnIndex > 0 {
		// Zero doubles as "not allocated"; the store resolves it then.
		state.TurnIndex = req.TurnIndex
	}
	state.MaxTokens = constraints.MaxTokens
	state.Temperature = constraints.Temperature
	if constraints.TimeoutMs > 0 {
		state.Timeout = time.Duration(constraints.TimeoutMs) * time.Millisecond
	}

	result, err := r.reason.Execute(ctx, state)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "brain request served",
		"request_id", req.RequestID,
		"user_id", req.UserID,
		"turn_index", result.TurnIndex,
		"latency_ms", result.LatencyMs)

	payload, err := protocol.PayloadOf(protocol.BrainReply{
		UserID:    req.UserID,
		Text:      result.Reply,
		LatencyMs: result.LatencyMs,
	})
	if err != nil {
		return nil, err
	}
	return protocol.Wrap(r.service, payload, protocol.WithTraceID(env.TraceID)), nil
}
