package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/id"
	"github.com/ariavoice/aria/shared/protocol"
)

const (
	tracerName = "voice"

	// maxConsecutiveSTTFailures closes the session with an error status.
	// Past this streak the user is talking to a wall; better to drop the
	// session than to keep swallowing their speech.
	maxConsecutiveSTTFailures = 3

	// drainTimeout bounds how long shutdown waits for in-flight turn
	// goroutines before finalizing anyway.
	drainTimeout = 2 * time.Second

	// finalizeTimeout bounds the persistence and publish calls of shutdown,
	// which run on a fresh context because the session scope is already
	// cancelled by then.
	finalizeTimeout = 5 * time.Second
)

// fallbackReply is spoken when the brain cannot be reached or misses its
// deadline. Keeping the conversation moving beats silence.
const fallbackReply = "I apologize, but I'm having trouble processing your request right now."

// Session drives one participant's conversation loop. A single goroutine
// owns the state machine and every turn-related field; the outside world
// reaches it only through PushFrame, Leave and the read-only accessors.
type Session struct {
	ID            string
	UserID        string
	AgentID       string
	RoomID        string
	ParticipantID string

	deps        Deps
	timeouts    Timeouts
	record      *models.Session
	sink        ports.AudioSink
	transcriber ports.Transcriber
	logger      *slog.Logger

	frames *frameQueue
	leave  chan string
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	framesDropped atomic.Int64
	turnsTotal    *atomic.Int64 // manager-wide counter, nil outside a manager

	stateMu sync.RWMutex
	state   models.SessionState

	// Owned by the run goroutine.
	turn           *activeTurn
	window         models.LatencyWindow
	turnsCompleted int
	nextTurnIndex  int
	sttFailures    int
	voiceEndAt     time.Time
}

func newSession(record *models.Session, sink ports.AudioSink, transcriber ports.Transcriber, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:            record.ID,
		UserID:        record.UserID,
		AgentID:       record.AgentID,
		RoomID:        record.RoomID,
		ParticipantID: record.ParticipantID,
		deps:          deps,
		timeouts:      deps.Timeouts,
		record:        record,
		sink:          sink,
		transcriber:   transcriber,
		logger:        deps.Logger.With("session_id", record.ID, "user_id", record.UserID),
		frames:        newFrameQueue(frameQueueCapacity),
		leave:         make(chan string, 1),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		state:         models.StateIdle,
		nextTurnIndex: -1,
	}
}

// turnUpdateKind labels the progress reports a turn goroutine sends back to
// the session loop.
type turnUpdateKind int

const (
	turnReplyReady turnUpdateKind = iota
	turnFirstAudio
	turnFinished
	turnFailed
)

type turnUpdate struct {
	kind      turnUpdateKind
	index     int
	reasonMs  int64
	completed bool
	err       error
}

// activeTurn is the in-flight turn. The session loop owns it; the turn
// goroutine communicates only through updates, buffered deep enough that an
// abandoned goroutine always runs to completion without blocking.
type activeTurn struct {
	index     int
	utterance string

	ctx    context.Context
	cancel context.CancelFunc

	updates  chan turnUpdate
	deadline *time.Timer

	startedAt    time.Time
	sttMs        int64
	reasonMs     int64
	replyReadyAt time.Time
	firstAudioAt time.Time
	spokenMs     atomic.Int64
}

// PushFrame hands one captured frame to the session. It never blocks the
// capture path; when the queue is full the oldest frames give way and the
// drop is counted.
func (s *Session) PushFrame(frame models.AudioFrame) {
	switch s.State() {
	case models.StateClosing, models.StateClosed:
		return
	}
	if dropped := s.frames.Push(frame); dropped > 0 {
		s.framesDropped.Add(int64(dropped))
		metrics.FramesDroppedTotal.Add(float64(dropped))
	}
}

// Leave asks the session to wind down. Idempotent and non-blocking; the
// first cause wins.
func (s *Session) Leave(cause string) {
	select {
	case s.leave <- cause:
	default:
	}
}

// Done closes once the session has fully closed and its row is finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// State reports the state machine's current state, safe from any goroutine.
func (s *Session) State() models.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// FramesDropped reports how many frames the queue evicted so far.
func (s *Session) FramesDropped() int64 {
	return s.framesDropped.Load()
}

// run is the session task. It is the only goroutine that mutates the state
// machine; stimuli arrive on channels and are handled one at a time.
func (s *Session) run() {
	defer close(s.done)

	s.transition(models.StateListening, "track subscribed")

	for {
		select {
		case cause := <-s.leave:
			s.shutdown(models.SessionStatusEnded, cause)
			return

		case frame := <-s.frames.C():
			if err := s.transcriber.Feed(frame); err != nil {
				s.logger.Debug("frame feed failed", "error", err)
			}

		case ev, ok := <-s.transcriber.Events():
			if !ok {
				s.shutdown(models.SessionStatusError, "recognition stream closed")
				return
			}
			if s.handleTranscript(ev) {
				return
			}

		case u := <-s.turnUpdates():
			s.handleTurnUpdate(u)

		case <-s.turnDeadline():
			s.abortTurn()
		}
	}
}

// turnUpdates returns the in-flight turn's update channel, or nil so the
// select arm stays dormant between turns.
func (s *Session) turnUpdates() <-chan turnUpdate {
	if s.turn == nil {
		return nil
	}
	return s.turn.updates
}

func (s *Session) turnDeadline() <-chan time.Time {
	if s.turn == nil {
		return nil
	}
	return s.turn.deadline.C
}

// handleTranscript advances the state machine on one recognizer event. It
// reports true when the event forced the session closed.
func (s *Session) handleTranscript(ev models.TranscriptEvent) bool {
	switch ev.Type {
	case models.TranscriptVoiceStart:
		s.handleVoiceStart()
	case models.TranscriptVoiceEnd:
		s.voiceEndAt = ev.At
	case models.TranscriptInterim:
		s.logger.Debug("interim transcript", "chars", len(ev.Text))
	case models.TranscriptFinal:
		return s.handleFinal(ev)
	}
	return false
}

// handleVoiceStart opens an utterance. While the agent is reasoning or
// speaking, user speech is a barge-in and takes the floor.
func (s *Session) handleVoiceStart() {
	switch state := s.State(); state {
	case models.StateListening:
		s.transition(models.StateTranscribing, "voice activity")
	case models.StateReasoning, models.StateSpeaking:
		s.bargeIn(state)
	}
}

// bargeIn interrupts the in-flight turn. During speaking the synthesis
// stream cancels at the next chunk boundary and queued audio is flushed;
// audio already dispatched is not rolled back. During reasoning the brain
// call is cancelled and its result dropped when it returns.
func (s *Session) bargeIn(from models.SessionState) {
	t := s.turn
	if t == nil {
		s.transition(models.StateTranscribing, "voice activity")
		return
	}
	t.cancel()

	if from == models.StateSpeaking {
		if err := s.sink.Flush(s.ctx); err != nil {
			s.logger.Warn("audio flush failed", "error", err)
		}
	}

	spokenMs := t.spokenMs.Load()
	metrics.BargeInsTotal.Inc()
	s.publishBargeIn(t.index, spokenMs)
	s.logger.Info("barge-in",
		"turn_index", t.index,
		"during", string(from),
		"spoken_ms", spokenMs)

	s.dropTurn()
	s.transition(models.StateTranscribing, "barge-in")
}

// handleFinal closes an utterance. Empty text means silence or noise and
// returns the session to listening; failures count toward the give-up
// streak; real text opens a turn.
func (s *Session) handleFinal(ev models.TranscriptEvent) bool {
	if ev.Err != nil {
		s.sttFailures++
		s.logger.Warn("transcription failed",
			"consecutive", s.sttFailures, "error", ev.Err)
		if s.sttFailures >= maxConsecutiveSTTFailures {
			s.shutdown(models.SessionStatusError, "consecutive transcription failures")
			return true
		}
		if s.State() == models.StateTranscribing {
			s.transition(models.StateListening, "transcription failed")
		}
		return false
	}
	s.sttFailures = 0

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		if s.State() == models.StateTranscribing {
			s.transition(models.StateListening, "empty transcript")
		}
		return false
	}

	s.startTurn(ev, text)
	return false
}

// startTurn allocates the next turn and spawns its goroutine. The index is
// claimed before the brain call so concurrent sessions for the same user
// allocate distinct slots; -1 lets the pipeline resolve the first one.
func (s *Session) startTurn(ev models.TranscriptEvent, text string) {
	if s.turn != nil {
		// A new utterance completed while the previous turn was still
		// winding down; the old turn is stale.
		s.turn.cancel()
		s.dropTurn()
	}

	var sttMs int64
	if !s.voiceEndAt.IsZero() {
		sttMs = ev.At.Sub(s.voiceEndAt).Milliseconds()
	}
	if sttMs < 0 {
		sttMs = 0
	}
	s.voiceEndAt = time.Time{}

	t := &activeTurn{
		index:     s.nextTurnIndex,
		utterance: text,
		updates:   make(chan turnUpdate, 8),
		startedAt: time.Now(),
		deadline:  time.NewTimer(s.timeouts.Turn),
		sttMs:     sttMs,
	}
	if s.nextTurnIndex >= 0 {
		s.nextTurnIndex++
	}
	t.ctx, t.cancel = context.WithCancel(s.ctx)
	s.turn = t

	s.transition(models.StateReasoning, "final transcript")
	s.logger.Debug("turn started",
		"turn_index", t.index, "chars", len(text), "stt_ms", sttMs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTurn(t)
	}()
}

// handleTurnUpdate applies one progress report from the turn goroutine. The
// turn is guaranteed live here: abandoned turns lose their channel and their
// remaining updates are never read.
func (s *Session) handleTurnUpdate(u turnUpdate) {
	t := s.turn
	switch u.kind {
	case turnReplyReady:
		if u.index >= 0 {
			// Adopt the index the pipeline actually persisted under;
			// conflict bumps would otherwise desynchronize the counter.
			t.index = u.index
			s.nextTurnIndex = u.index + 1
		}
		if u.completed {
			// One completed reasoning pass, matching one turn_completed
			// event on the conversation stream. Local fallback lines for
			// an unreachable brain are spoken but not counted.
			s.turnsCompleted++
			if s.turnsTotal != nil {
				s.turnsTotal.Add(1)
			}
		}
		t.reasonMs = u.reasonMs
		t.replyReadyAt = time.Now()
		s.transition(models.StateSpeaking, "reply ready")

	case turnFirstAudio:
		t.firstAudioAt = time.Now()
		t.deadline.Stop()
		s.recordTurnLatency(t)

	case turnFinished:
		index := t.index
		s.dropTurn()
		s.transition(models.StateListening, "playback finished")
		s.logger.Debug("turn finished", "turn_index", index)

	case turnFailed:
		metrics.ErrorsTotal.WithLabelValues("turn_failed").Inc()
		s.logger.Warn("turn failed", "turn_index", t.index, "error", u.err)
		s.dropTurn()
		s.transition(models.StateListening, "turn failed")
	}
}

// abortTurn fires when the turn deadline passes with no audio produced.
func (s *Session) abortTurn() {
	t := s.turn
	if t == nil {
		return
	}
	elapsedMs := time.Since(t.startedAt).Milliseconds()
	t.cancel()

	metrics.ErrorsTotal.WithLabelValues("turn_timeout").Inc()
	s.publishTurnTimeout(t.index, elapsedMs)
	s.logger.Warn("turn timed out",
		"turn_index", t.index, "elapsed_ms", elapsedMs)

	s.dropTurn()
	s.transition(models.StateListening, "turn timeout")
}

// dropTurn abandons the in-flight turn. Its goroutine keeps running until
// the cancelled calls return; any remaining updates land in the buffered
// channel and are never read.
func (s *Session) dropTurn() {
	if s.turn == nil {
		return
	}
	s.turn.deadline.Stop()
	s.turn = nil
}

// recordTurnLatency freezes the per-stage latencies once the first audio
// chunk is out, refreshes the session aggregates and ships the measurement.
func (s *Session) recordTurnLatency(t *activeTurn) {
	ttsMs := t.firstAudioAt.Sub(t.replyReadyAt).Milliseconds()
	totalMs := t.sttMs + t.firstAudioAt.Sub(t.startedAt).Milliseconds()

	s.window.Add(totalMs)
	agg := s.window.Aggregates()
	// The window samples every spoken reply, fallback lines included; the
	// count reported outward is completed reasoning passes only.
	agg.Count = s.turnsCompleted
	s.record.ApplyAggregates(agg)
	metrics.TurnLatency.Observe(float64(totalMs) / 1000)

	s.logger.Info("turn latency",
		"turn_index", t.index,
		"stt_ms", t.sttMs,
		"reason_ms", t.reasonMs,
		"tts_ms", ttsMs,
		"total_ms", totalMs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, finalizeTimeout)
		defer cancel()

		if err := s.deps.Sessions.UpdateAggregates(ctx, s.ID, agg); err != nil {
			metrics.WarningsTotal.WithLabelValues("persist").Inc()
			s.logger.Warn("aggregate update failed", "error", err)
		}

		sample, err := protocol.PayloadOf(protocol.LatencyMetric{
			Operation: "turn",
			LatencyMs: totalMs,
		})
		if err == nil {
			err = s.deps.Log.ProduceAnalytics(ctx, "latency", sample)
		}
		if err != nil {
			s.logger.Debug("turn analytics publish failed", "error", err)
		}
	}()
}

// executeTurn runs one turn end to end on its own goroutine: brain call,
// synthesis, playback. The loop steers it solely through t.ctx.
func (s *Session) executeTurn(t *activeTurn) {
	ctx, span := otel.Tracer(tracerName).Start(t.ctx, "turn", trace.WithAttributes(
		otel.SessionID(s.ID),
		otel.UserID(s.UserID),
		otel.TurnIndex(t.index),
	))
	defer span.End()

	outcome, err := s.resolveReply(ctx, t)
	if err != nil {
		span.RecordError(err)
		t.updates <- turnUpdate{kind: turnFailed, err: err}
		return
	}
	span.SetAttributes(otel.Degraded(outcome.degraded))

	t.updates <- turnUpdate{
		kind:      turnReplyReady,
		index:     outcome.index,
		reasonMs:  outcome.latencyMs,
		completed: outcome.completed,
	}

	if err := s.speak(ctx, t, outcome.reply); err != nil {
		span.RecordError(err)
		t.updates <- turnUpdate{kind: turnFailed, err: err}
		return
	}
	t.updates <- turnUpdate{kind: turnFinished}
}

// brainOutcome is one resolved reply. index is the turn index the pipeline
// persisted under, -1 when the remote path leaves it unknown. completed
// marks a reasoning pass that ran to completion, as opposed to the local
// fallback line.
type brainOutcome struct {
	reply     string
	index     int
	latencyMs int64
	degraded  bool
	completed bool
}

// resolveReply produces the text to speak. Brain failures other than
// cancellation degrade to the fallback line; a turn is only lost when the
// user or the deadline already killed it.
func (s *Session) resolveReply(ctx context.Context, t *activeTurn) (*brainOutcome, error) {
	var (
		outcome *brainOutcome
		err     error
	)
	if s.deps.Reason != nil {
		outcome, err = s.reasonInProcess(ctx, t)
	} else {
		outcome, err = s.reasonOverBus(ctx, t)
	}
	if err == nil {
		return outcome, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	metrics.FallbackRepliesTotal.Inc()
	s.logger.Warn("brain call failed, speaking fallback",
		"turn_index", t.index, "error", err)
	return &brainOutcome{reply: fallbackReply, index: -1, degraded: true}, nil
}

// reasonInProcess runs the wired-in reasoning pipeline directly.
func (s *Session) reasonInProcess(ctx context.Context, t *activeTurn) (*brainOutcome, error) {
	state := models.NewReasoningState(s.UserID, s.AgentID, t.utterance)
	state.SessionID = s.ID
	state.RoomID = s.RoomID
	state.TurnIndex = t.index
	state.STTLatencyMs = t.sttMs
	state.Timeout = s.timeouts.Reason

	result, err := s.deps.Reason.Execute(ctx, state)
	if err != nil {
		return nil, err
	}
	return &brainOutcome{
		reply:     result.Reply,
		index:     result.TurnIndex,
		latencyMs: result.LatencyMs,
		degraded:  result.ReasoningDegraded,
		completed: true,
	}, nil
}

// reasonOverBus asks a remote brain worker over the ephemeral bus. The reply
// does not carry the persisted index back, so the counter is not resynced on
// this path.
func (s *Session) reasonOverBus(ctx context.Context, t *activeTurn) (*brainOutcome, error) {
	constraints := protocol.DefaultConstraints()
	constraints.TimeoutMs = int(s.timeouts.Reason.Milliseconds())

	payload, err := protocol.PayloadOf(protocol.BrainRequest{
		RequestID:     id.NewRequest(),
		UserID:        s.UserID,
		SessionID:     s.ID,
		TurnIndex:     t.index,
		UserUtterance: t.utterance,
		Constraints:   constraints,
	})
	if err != nil {
		return nil, err
	}

	env := protocol.Wrap(s.deps.Service, payload)
	replyEnv, err := s.deps.Bus.Request(ctx, protocol.SubjectBrainRequest, env, s.timeouts.Reason)
	if err != nil {
		return nil, err
	}
	reply, err := protocol.DecodePayload[protocol.BrainReply](replyEnv.Payload)
	if err != nil {
		return nil, err
	}
	return &brainOutcome{
		reply:     reply.Text,
		index:     -1,
		latencyMs: reply.LatencyMs,
		completed: true,
	}, nil
}

// speak renders the reply and forwards every chunk to the sink. The first
// chunk gets its own deadline on top of the turn watchdog; barge-in lands
// between chunks as a context cancellation.
func (s *Session) speak(ctx context.Context, t *activeTurn, text string) error {
	ttsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	firstChunk := time.AfterFunc(s.timeouts.TTSFirstChunk, cancel)
	defer firstChunk.Stop()

	chunks, err := s.deps.Synth.Synthesize(ttsCtx, text)
	if err != nil {
		if ttsCtx.Err() != nil && ctx.Err() == nil {
			metrics.ErrorsTotal.WithLabelValues("tts_first_chunk").Inc()
			return fmt.Errorf("no audio chunk within %v", s.timeouts.TTSFirstChunk)
		}
		return fmt.Errorf("synthesize: %w", err)
	}

	first := true
	for chunk := range chunks {
		if first {
			first = false
			firstChunk.Stop()
			t.updates <- turnUpdate{kind: turnFirstAudio}
		}
		if err := s.sink.Play(ttsCtx, chunk); err != nil {
			return fmt.Errorf("play chunk %d: %w", chunk.Seq, err)
		}
		t.spokenMs.Add(chunk.Duration().Milliseconds())
	}

	if ttsCtx.Err() != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ErrorsTotal.WithLabelValues("tts_first_chunk").Inc()
		return fmt.Errorf("no audio chunk within %v", s.timeouts.TTSFirstChunk)
	}
	return nil
}

// transition moves the state machine, asserting the edge is legal. Illegal
// edges are programming errors; they are logged loudly and skipped so a bug
// degrades one session instead of wedging it.
func (s *Session) transition(to models.SessionState, cause string) {
	from := s.State()
	if err := models.ValidateTransition(from, to); err != nil {
		s.logger.Error("illegal state transition",
			"from", string(from), "to", string(to), "cause", cause)
		return
	}
	if from == to {
		return
	}

	s.stateMu.Lock()
	s.state = to
	s.stateMu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Debug("state transition",
		"from", string(from), "to", string(to), "cause", cause)
}

// shutdown runs the closing sequence exactly once per session: cancel
// everything in flight, give the workers a bounded drain, then finalize the
// row and emit the end-of-session records.
func (s *Session) shutdown(status models.SessionStatus, cause string) {
	s.transition(models.StateClosing, cause)

	if s.turn != nil {
		s.turn.cancel()
		s.dropTurn()
	}
	s.cancel()

	if err := s.transcriber.Close(); err != nil {
		s.logger.Warn("transcriber close failed", "error", err)
	}
	if !s.waitDrained(drainTimeout) {
		s.logger.Warn("shutdown drain timed out", "timeout", drainTimeout)
	}

	s.finalize(status, cause)
	s.transition(models.StateClosed, cause)

	s.logger.Info("session closed",
		"status", string(status),
		"cause", cause,
		"turns", s.turnsCompleted,
		"frames_dropped", s.framesDropped.Load())
}

func (s *Session) waitDrained(timeout time.Duration) bool {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-time.After(timeout):
		return false
	}
}

// finalize freezes the aggregates on the session row and publishes the
// session_ended event plus the audit record. The session scope is already
// cancelled, so persistence gets its own deadline.
func (s *Session) finalize(status models.SessionStatus, cause string) {
	agg := s.window.Aggregates()
	agg.Count = s.turnsCompleted
	s.record.Finalize(status, agg, s.framesDropped.Load())

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := s.deps.Sessions.Finalize(ctx, s.record); err != nil {
		metrics.ErrorsTotal.WithLabelValues("session_finalize").Inc()
		s.logger.Error("session row finalize failed", "error", err)
	}
	metrics.SessionsTotal.WithLabelValues(string(status)).Inc()

	ended := protocol.SessionEnded{
		SessionID:         s.ID,
		UserID:            s.UserID,
		Status:            string(status),
		TotalTurns:        agg.Count,
		AvgLatencyMs:      agg.AvgMs,
		P95LatencyMs:      agg.P95Ms,
		P99LatencyMs:      agg.P99Ms,
		ConnectionQuality: s.record.ConnectionQuality,
	}
	if s.record.DurationS != nil {
		ended.DurationS = *s.record.DurationS
	}
	payload, err := protocol.PayloadOf(ended)
	if err == nil {
		err = s.deps.Log.ProduceConversationEvent(ctx, s.ID, protocol.EventSessionEnded, payload)
	}
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("publish").Inc()
		s.logger.Warn("session_ended publish failed", "error", err)
	}

	if err := s.deps.Log.ProduceAudit(ctx, s.UserID, "session_ended", "session/"+s.ID, map[string]any{
		"status": string(status),
		"cause":  cause,
	}); err != nil {
		s.logger.Warn("session audit publish failed", "error", err)
	}
}

func (s *Session) publishBargeIn(index int, spokenMs int64) {
	payload, err := protocol.PayloadOf(protocol.BargeIn{
		SessionID: s.ID,
		UserID:    s.UserID,
		TurnIndex: index,
		SpokenMs:  spokenMs,
	})
	if err == nil {
		err = s.deps.Log.ProduceConversationEvent(s.ctx, s.ID, protocol.EventBargeIn, payload)
	}
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("publish").Inc()
		s.logger.Warn("barge_in publish failed", "error", err)
	}
}

func (s *Session) publishTurnTimeout(index int, elapsedMs int64) {
	payload, err := protocol.PayloadOf(protocol.TurnTimeout{
		SessionID: s.ID,
		UserID:    s.UserID,
		TurnIndex: index,
		ElapsedMs: elapsedMs,
	})
	if err == nil {
		err = s.deps.Log.ProduceConversationEvent(s.ctx, s.ID, protocol.EventTurnTimeout, payload)
	}
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("publish").Inc()
		s.logger.Warn("turn_timeout publish failed", "error", err)
	}
}
