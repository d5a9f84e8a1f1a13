package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/backoff"
	"github.com/ariavoice/aria/shared/id"
	"github.com/ariavoice/aria/shared/protocol"
)

const (
	// DefaultReasonTimeout bounds one reply generation end to end. Request
	// constraints may shorten it, never extend it.
	DefaultReasonTimeout = 5 * time.Second

	// contextLimit is how many prior turns are attached as context.
	contextLimit = 5

	// maxIndexBumps caps how often a turn index conflict advances the index
	// before persistence is deferred.
	maxIndexBumps = 3

	defaultMaxTokens   = 150
	defaultTemperature = 0.7

	tracerName = "usecases"
)

// systemPromptTemplate is the fixed reasoning role. The retrieved context
// block is substituted before each call.
const systemPromptTemplate = `You are Aria, an AI reasoning assistant.
You have access to conversation history to provide contextual responses.

Previous Conversation Context:
%s

Respond thoughtfully and concisely based on the user's message and available context.`

// emptyContextBlock stands in when no prior turns were retrieved.
const emptyContextBlock = "No prior context available."

// fallbackReply is spoken verbatim when no model reply arrives inside the
// deadline. The turn still completes, marked degraded.
const fallbackReply = "I apologize, but I'm having trouble processing your request right now."

// Reason runs a single reasoning turn over a user utterance: retrieve
// similar prior turns, generate a reply with the running messages, persist
// the exchange, publish the turn_completed event.
//
// The pipeline never fails a turn outright. Retrieval failures produce an
// empty context, generation failures the fallback reply, persistence
// failures a deferred turn. The only error Execute returns besides invalid
// input is context cancellation, whose result the caller drops anyway.
type Reason struct {
	turns      ports.TurnRepository
	llm        ports.LLMService
	embeddings ports.EmbeddingService
	log        ports.DurableLog
	logger     *slog.Logger
}

func NewReason(
	turns ports.TurnRepository,
	llm ports.LLMService,
	embeddings ports.EmbeddingService,
	log ports.DurableLog,
	logger *slog.Logger,
) *Reason {
	return &Reason{
		turns:      turns,
		llm:        llm,
		embeddings: embeddings,
		log:        log,
		logger:     logger.With("component", "reason"),
	}
}

// Execute advances the state through both pipeline stages and persists the
// completed turn. The returned result carries the final turn index so that
// callers owning an index counter can resync after conflict bumps.
func (uc *Reason) Execute(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reason", trace.WithAttributes(
		otel.UserID(state.UserID),
		otel.SessionID(state.SessionID),
		otel.TurnIndex(state.TurnIndex),
	))
	defer span.End()

	start := time.Now()
	metrics.RequestsTotal.WithLabelValues("reason").Inc()

	uc.retrieveContext(ctx, state)
	span.SetAttributes(otel.ContextSize(len(state.Context)))
	metrics.ContextSize.Observe(float64(len(state.Context)))

	reply, model, degraded, err := uc.generateReply(ctx, state)
	if err != nil {
		// Cancelled mid-generation, usually a barge-in. Nothing is
		// persisted; the caller discards the turn.
		return nil, err
	}
	state.Messages = append(state.Messages, models.ConversationMessage{
		Role:    models.RoleAssistant,
		Content: reply,
	})
	span.SetAttributes(otel.Degraded(degraded))

	reasonMs := time.Since(start).Milliseconds()
	turn, deferred := uc.persistTurn(ctx, state, reply, degraded, reasonMs)

	result := &models.ReasoningResult{
		Reply:             reply,
		TurnIndex:         turn.TurnIndex,
		TurnID:            turn.ID,
		ContextSize:       len(state.Context),
		ReasoningDegraded: degraded,
		PersistDeferred:   deferred,
		LatencyMs:         time.Since(start).Milliseconds(),
		Model:             model,
	}
	if deferred {
		result.TurnID = ""
	}

	metrics.StageLatency.WithLabelValues("reason").Observe(float64(result.LatencyMs))
	metrics.TurnsTotal.WithLabelValues(turnOutcome(degraded, deferred)).Inc()

	uc.publishTurnCompleted(ctx, state, turn, result)

	uc.logger.InfoContext(ctx, "turn completed",
		"user_id", state.UserID,
		"session_id", state.SessionID,
		"turn_index", turn.TurnIndex,
		"context_size", len(state.Context),
		"degraded", degraded,
		"deferred", deferred,
		"latency_ms", result.LatencyMs)

	return result, nil
}

// retrieveContext embeds the utterance and attaches the nearest prior turns.
// One quick retry covers transient store hiccups; after that the turn runs
// with an empty context rather than failing.
func (uc *Reason) retrieveContext(ctx context.Context, state *models.ReasoningState) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieve_context")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.StageLatency.WithLabelValues("retrieve").Observe(float64(time.Since(start).Milliseconds()))
	}()

	err := backoff.Retry(ctx, backoff.Quick, func(ctx context.Context, _ int) error {
		embedding, err := uc.embeddings.Embed(ctx, state.Utterance)
		if err != nil {
			return err
		}
		state.Embedding = embedding

		scored, err := uc.turns.SimilarTurns(ctx, state.UserID, embedding, contextLimit)
		if err != nil {
			return err
		}

		state.Context = state.Context[:0]
		for _, s := range scored {
			state.Context = append(state.Context, s.Transcript())
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		metrics.WarningsTotal.WithLabelValues("retrieve").Inc()
		uc.logger.WarnContext(ctx, "context retrieval failed, continuing without context",
			"user_id", state.UserID, "error", err)
		state.Context = nil
		return
	}

	if len(state.Context) == 0 {
		// Cold index or brand-new user. Recency is a usable stand-in for
		// similarity here.
		recent, err := uc.turns.RecentTurns(ctx, state.UserID, contextLimit)
		if err != nil {
			metrics.WarningsTotal.WithLabelValues("retrieve").Inc()
			uc.logger.WarnContext(ctx, "recent-turn fallback failed",
				"user_id", state.UserID, "error", err)
			return
		}
		for _, t := range recent {
			state.Context = append(state.Context, t.Transcript())
		}
	}
}

// generateReply calls the model under the turn deadline. Failures and
// timeouts degrade to the fallback string; only cancellation of the parent
// context propagates as an error.
func (uc *Reason) generateReply(ctx context.Context, state *models.ReasoningState) (reply, model string, degraded bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm")
	defer span.End()

	timeout := state.Timeout
	if timeout <= 0 || timeout > DefaultReasonTimeout {
		timeout = DefaultReasonTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := ports.GenerateOptions{
		MaxTokens:   state.MaxTokens,
		Temperature: state.Temperature,
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}

	messages := make([]ports.LLMMessage, 0, len(state.Messages))
	for _, m := range state.Messages {
		messages = append(messages, ports.LLMMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := uc.llm.Generate(callCtx, renderSystemPrompt(state.Context), messages, opts)
	metrics.StageLatency.WithLabelValues("llm").Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", "", false, err
		}
		span.RecordError(err)

		// No second attempt: the latency budget only fits one call. The
		// fallback is spoken so the conversation keeps moving.
		kind := "llm_error"
		if errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			kind = "llm_timeout"
		}
		metrics.ErrorsTotal.WithLabelValues(kind).Inc()
		metrics.FallbackRepliesTotal.Inc()
		uc.logger.WarnContext(ctx, "reply generation degraded",
			"user_id", state.UserID, "kind", kind, "error", err)
		return fallbackReply, "", true, nil
	}

	reply = strings.TrimSpace(resp.Content)
	if reply == "" {
		metrics.ErrorsTotal.WithLabelValues("llm_empty").Inc()
		metrics.FallbackRepliesTotal.Inc()
		uc.logger.WarnContext(ctx, "model returned empty reply", "user_id", state.UserID)
		return fallbackReply, resp.Model, true, nil
	}
	return reply, resp.Model, false, nil
}

// persistTurn writes the exchange as one turn row. Index conflicts bump the
// index immediately, transient failures back off between attempts, and when
// both budgets run out the turn completes anyway, marked deferred.
func (uc *Reason) persistTurn(ctx context.Context, state *models.ReasoningState, reply string, degraded bool, reasonMs int64) (*models.Turn, bool) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "persist_turn")
	defer span.End()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.StageLatency.WithLabelValues("persist").Observe(float64(elapsed.Milliseconds()))
		metrics.PersistLatency.Observe(elapsed.Seconds())
	}()

	index := state.TurnIndex
	if index < 0 {
		next, err := uc.turns.NextTurnIndex(ctx, state.UserID, state.AgentID)
		if err != nil {
			uc.logger.WarnContext(ctx, "turn index resolution failed, starting at zero",
				"user_id", state.UserID, "error", err)
			next = 0
		}
		index = next
	}

	turn := models.NewTurn(id.NewTurn(), state.UserID, state.AgentID, index, state.Utterance, reply)
	turn.SessionID = state.SessionID
	turn.RoomID = state.RoomID
	turn.Embedding = state.Embedding
	turn.Degraded = degraded
	turn.TurnLatencies = models.TurnLatencies{
		STTMs:    state.STTLatencyMs,
		ReasonMs: reasonMs,
		TotalMs:  state.STTLatencyMs + reasonMs,
	}

	if err := uc.saveTurn(ctx, turn); err != nil {
		span.RecordError(err)
		metrics.ErrorsTotal.WithLabelValues("persist_deferred").Inc()
		uc.logger.ErrorContext(ctx, "turn persistence deferred",
			"user_id", state.UserID, "turn_index", turn.TurnIndex, "error", err)
		return turn, true
	}

	state.TurnIndex = turn.TurnIndex
	return turn, false
}

// saveTurn persists with two distinct retry regimes: index conflicts mean
// another session for the same user won the slot, so the index advances
// immediately; everything else is treated as transient and waits out the
// persistence backoff schedule.
func (uc *Reason) saveTurn(ctx context.Context, turn *models.Turn) error {
	bumps := 0
	return backoff.RetryWithCallback(ctx, backoff.Persist,
		func(ctx context.Context, _ int) error {
			err := uc.turns.Save(ctx, turn)
			for errors.Is(err, domain.ErrDuplicateTurn) {
				if bumps >= maxIndexBumps {
					return err
				}
				bumps++
				turn.TurnIndex++
				metrics.PersistRetriesTotal.Inc()
				err = uc.turns.Save(ctx, turn)
			}
			return err
		},
		func(attempt int, err error, delay time.Duration) {
			metrics.PersistRetriesTotal.Inc()
			uc.logger.WarnContext(ctx, "turn save retry",
				"attempt", attempt, "delay", delay, "error", err)
		})
}

// publishTurnCompleted appends the completion event to the conversation
// stream plus a latency sample to analytics. The turn is already committed;
// a publish failure is logged and counted, never surfaced.
func (uc *Reason) publishTurnCompleted(ctx context.Context, state *models.ReasoningState, turn *models.Turn, result *models.ReasoningResult) {
	event := protocol.TurnCompleted{
		SessionID:         state.SessionID,
		UserID:            state.UserID,
		AgentID:           state.AgentID,
		TurnIndex:         turn.TurnIndex,
		ReasoningDegraded: result.ReasoningDegraded,
		PersistDeferred:   result.PersistDeferred,
		ContextSize:       result.ContextSize,
		LatencySTTMs:      turn.STTMs,
		LatencyReasonMs:   turn.ReasonMs,
		LatencyTTSMs:      turn.TTSMs,
		LatencyTotalMs:    turn.TotalMs,
	}

	payload, err := protocol.PayloadOf(event)
	if err == nil {
		err = uc.log.ProduceConversationEvent(ctx, state.SessionID, protocol.EventTurnCompleted, payload)
	}
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("publish").Inc()
		uc.logger.WarnContext(ctx, "turn_completed publish failed",
			"session_id", state.SessionID, "turn_index", turn.TurnIndex, "error", err)
	}

	sample, err := protocol.PayloadOf(protocol.LatencyMetric{
		Operation: "reason",
		LatencyMs: result.LatencyMs,
		Model:     result.Model,
	})
	if err == nil {
		err = uc.log.ProduceAnalytics(ctx, "latency", sample)
	}
	if err != nil {
		uc.logger.DebugContext(ctx, "latency analytics publish failed", "error", err)
	}
}

func renderSystemPrompt(context []string) string {
	block := emptyContextBlock
	if len(context) > 0 {
		lines := make([]string, len(context))
		for i, c := range context {
			lines[i] = "- " + c
		}
		block = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(systemPromptTemplate, block)
}

func turnOutcome(degraded, deferred bool) string {
	switch {
	case degraded:
		return "degraded"
	case deferred:
		return "deferred"
	default:
		return "ok"
	}
}
