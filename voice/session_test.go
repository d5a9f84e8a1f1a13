package voice

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/shared/protocol"
)

type sessionFixture struct {
	manager *Manager
	repo    *mockSessionRepo
	log     *mockDurableLog
	bus     *mockBus
	reason  *mockReason
	factory *mockTranscriberFactory
	synth   *mockSynthesizer
	sink    *mockSink
}

func baseFixture() *sessionFixture {
	return &sessionFixture{
		repo:    &mockSessionRepo{},
		log:     &mockDurableLog{},
		bus:     &mockBus{},
		reason:  &mockReason{},
		factory: &mockTranscriberFactory{},
		synth:   &mockSynthesizer{},
		sink:    &mockSink{},
	}
}

func (f *sessionFixture) baseDeps(timeouts Timeouts) Deps {
	return Deps{
		Sessions: f.repo,
		Log:      f.log,
		Bus:      f.bus,
		Streams:  f.factory,
		Synth:    f.synth,
		Service:  "aria-core",
		AgentID:  "aria",
		Timeouts: timeouts,
		Logger:   slog.Default(),
	}
}

// newSessionFixture wires sessions to the in-process reasoning pipeline.
func newSessionFixture(timeouts Timeouts) *sessionFixture {
	f := baseFixture()
	deps := f.baseDeps(timeouts)
	deps.Reason = f.reason
	f.manager = NewManager(deps)
	return f
}

// newBusFixture leaves Reason unset so sessions resolve replies over the bus.
func newBusFixture(timeouts Timeouts) *sessionFixture {
	f := baseFixture()
	f.reason = nil
	f.manager = NewManager(f.baseDeps(timeouts))
	return f
}

func testParams(participantID string, sink *mockSink) StartParams {
	return StartParams{
		UserID:        "user-1",
		RoomID:        "room-1",
		ParticipantID: participantID,
		Sink:          sink,
	}
}

func (f *sessionFixture) startSession(t *testing.T) (*Session, *mockTranscriber) {
	t.Helper()
	sess, err := f.manager.StartSession(context.Background(), testParams("participant-1", f.sink))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitState(t, sess, models.StateListening)
	return sess, f.factory.lastStream(t)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, sess *Session, want models.SessionState) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return sess.State() == want })
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

// utterance is the recognizer event sequence for one spoken phrase.
func utterance(text string) []models.TranscriptEvent {
	start := models.NewTranscriptEvent(models.TranscriptVoiceStart, "")
	end := models.NewTranscriptEvent(models.TranscriptVoiceEnd, "")
	end.SpeechMs = 420
	final := models.NewTranscriptEvent(models.TranscriptFinal, text)
	final.SpeechMs = 420
	final.Confidence = 0.92
	return []models.TranscriptEvent{start, end, final}
}

func failedFinal() models.TranscriptEvent {
	ev := models.NewTranscriptEvent(models.TranscriptFinal, "")
	ev.Err = domain.ErrSTTFailed
	return ev
}

func TestSessionHappyTurn(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.synth.chunks = 2
	sess, tr := f.startSession(t)

	tr.emit(utterance("why is the sky blue")...)

	waitFor(t, "reply audio", func() bool { return f.sink.playedCount() == 2 })
	waitState(t, sess, models.StateListening)

	texts := f.synth.requestedTexts()
	if len(texts) != 1 || texts[0] != "the sky is blue because of Rayleigh scattering" {
		t.Fatalf("synthesized texts = %v", texts)
	}

	states := f.reason.callStates()
	if len(states) != 1 {
		t.Fatalf("reason calls = %d, want 1", len(states))
	}
	st := states[0]
	if st.UserID != "user-1" || st.SessionID != sess.ID || st.RoomID != "room-1" {
		t.Fatalf("reasoning state identity = %s/%s/%s", st.UserID, st.SessionID, st.RoomID)
	}
	if st.Utterance != "why is the sky blue" {
		t.Fatalf("utterance = %q", st.Utterance)
	}
	if st.TurnIndex != -1 {
		t.Fatalf("first turn index = %d, want -1 so the pipeline resolves it", st.TurnIndex)
	}
	if st.Timeout != 5*time.Second {
		t.Fatalf("reason timeout = %v, want the 5s default", st.Timeout)
	}

	waitFor(t, "aggregate update", func() bool { return f.repo.aggregateCount() == 1 })
	if agg := f.repo.lastAggregates(); agg.Count != 1 {
		t.Fatalf("aggregate count = %d, want 1", agg.Count)
	}

	waitFor(t, "latency sample", func() bool { return len(f.log.analyticsEvents()) == 1 })
	sample := f.log.analyticsEvents()[0]
	if sample.eventType != "latency" || sample.payload["operation"] != "turn" {
		t.Fatalf("analytics sample = %+v", sample)
	}
}

func TestSessionAdoptsPersistedTurnIndex(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.reason.fn = func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
		index := state.TurnIndex
		if index < 0 {
			// Pretend prior history already occupied slots 0 through 6.
			index = 7
		}
		return &models.ReasoningResult{Reply: "ok", TurnIndex: index, LatencyMs: 5}, nil
	}
	sess, tr := f.startSession(t)

	tr.emit(utterance("first")...)
	waitFor(t, "first reply", func() bool { return f.sink.playedCount() >= 1 })
	waitState(t, sess, models.StateListening)

	tr.emit(utterance("second")...)
	waitFor(t, "second reason call", func() bool { return len(f.reason.callStates()) == 2 })
	waitState(t, sess, models.StateListening)

	states := f.reason.callStates()
	if states[0].TurnIndex != -1 {
		t.Fatalf("first call index = %d, want -1", states[0].TurnIndex)
	}
	if states[1].TurnIndex != 8 {
		t.Fatalf("second call index = %d, want 8 after adopting the persisted 7", states[1].TurnIndex)
	}
}

func TestSessionEmptyFinalReturnsToListening(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	waitState(t, sess, models.StateTranscribing)

	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceEnd, ""))
	tr.emit(models.NewTranscriptEvent(models.TranscriptFinal, "   "))
	waitState(t, sess, models.StateListening)

	if calls := len(f.reason.callStates()); calls != 0 {
		t.Fatalf("reason calls = %d, want 0 for silence", calls)
	}
	if f.sink.playedCount() != 0 {
		t.Fatalf("played = %d, want 0", f.sink.playedCount())
	}
}

func TestSessionBargeInDuringSpeaking(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.synth.chunks = 5
	f.synth.hold = make(chan struct{})
	sess, tr := f.startSession(t)

	tr.emit(utterance("tell me a story")...)
	waitFor(t, "first chunk", func() bool { return f.sink.playedCount() == 1 })
	waitState(t, sess, models.StateSpeaking)

	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	waitState(t, sess, models.StateTranscribing)

	if f.sink.flushCount() != 1 {
		t.Fatalf("flushes = %d, want 1", f.sink.flushCount())
	}
	ev, ok := f.log.findConversationEvent(protocol.EventBargeIn)
	if !ok {
		t.Fatal("no barge_in event on the conversation stream")
	}
	if ev.key != sess.ID {
		t.Fatalf("barge_in keyed by %q, want %q", ev.key, sess.ID)
	}
	if idx, _ := ev.payload["turn_index"].(float64); idx != 0 {
		t.Fatalf("barge_in turn_index = %v, want 0", ev.payload["turn_index"])
	}

	// The interrupting utterance opens the next turn as usual.
	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceEnd, ""))
	tr.emit(models.NewTranscriptEvent(models.TranscriptFinal, "actually, stop"))
	waitFor(t, "next turn", func() bool { return len(f.reason.callStates()) == 2 })

	states := f.reason.callStates()
	if states[1].TurnIndex != 1 {
		t.Fatalf("post-barge turn index = %d, want 1", states[1].TurnIndex)
	}
}

func TestSessionBargeInDuringReasoning(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.reason.fn = func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sess, tr := f.startSession(t)

	tr.emit(utterance("something hard")...)
	waitState(t, sess, models.StateReasoning)

	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	waitState(t, sess, models.StateTranscribing)

	if _, ok := f.log.findConversationEvent(protocol.EventBargeIn); !ok {
		t.Fatal("no barge_in event on the conversation stream")
	}
	if f.sink.flushCount() != 0 {
		t.Fatalf("flushes = %d, want 0 when nothing was playing", f.sink.flushCount())
	}
	if got := len(f.synth.requestedTexts()); got != 0 {
		t.Fatalf("synthesize calls = %d, want 0 for an abandoned turn", got)
	}
	if f.sink.playedCount() != 0 {
		t.Fatalf("played = %d, want 0", f.sink.playedCount())
	}
}

func TestSessionTurnWatchdogAborts(t *testing.T) {
	f := newSessionFixture(Timeouts{Turn: 80 * time.Millisecond})
	f.reason.fn = func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sess, tr := f.startSession(t)

	tr.emit(utterance("are you there")...)
	waitState(t, sess, models.StateReasoning)
	waitState(t, sess, models.StateListening)

	ev, ok := f.log.findConversationEvent(protocol.EventTurnTimeout)
	if !ok {
		t.Fatal("no turn_timeout event on the conversation stream")
	}
	if ms, _ := ev.payload["elapsed_ms"].(float64); ms < 80 {
		t.Fatalf("elapsed_ms = %v, want >= 80", ev.payload["elapsed_ms"])
	}
	if f.sink.playedCount() != 0 {
		t.Fatalf("played = %d, want 0 after an aborted turn", f.sink.playedCount())
	}

	// The session keeps serving turns afterwards.
	f.reason.setFn(nil)
	tr.emit(utterance("still with me?")...)
	waitFor(t, "recovery reply", func() bool { return f.sink.playedCount() == 1 })
	waitState(t, sess, models.StateListening)
}

func TestSessionBusBrainPath(t *testing.T) {
	f := newBusFixture(Timeouts{})
	f.bus.requestFn = func(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
		payload, err := protocol.PayloadOf(protocol.BrainReply{
			UserID:    "user-1",
			Text:      "bus reply",
			LatencyMs: 12,
		})
		if err != nil {
			return nil, err
		}
		return protocol.Wrap("brain-worker", payload, protocol.WithTraceID(env.TraceID)), nil
	}
	sess, tr := f.startSession(t)

	tr.emit(utterance("ping")...)
	waitFor(t, "bus reply played", func() bool { return f.sink.playedCount() >= 1 })
	waitState(t, sess, models.StateListening)

	if texts := f.synth.requestedTexts(); len(texts) != 1 || texts[0] != "bus reply" {
		t.Fatalf("synthesized texts = %v", texts)
	}

	reqs := f.bus.requestedMsgs()
	if len(reqs) != 1 {
		t.Fatalf("bus requests = %d, want 1", len(reqs))
	}
	if reqs[0].subject != protocol.SubjectBrainRequest {
		t.Fatalf("request subject = %q, want %q", reqs[0].subject, protocol.SubjectBrainRequest)
	}
	req, err := protocol.DecodePayload[protocol.BrainRequest](reqs[0].env.Payload)
	if err != nil {
		t.Fatalf("decode brain request: %v", err)
	}
	if req.RequestID == "" {
		t.Fatal("brain request has no request_id")
	}
	if req.UserID != "user-1" || req.SessionID != sess.ID || req.UserUtterance != "ping" {
		t.Fatalf("brain request = %+v", req)
	}
	if req.TurnIndex != -1 {
		t.Fatalf("brain request turn_index = %d, want -1", req.TurnIndex)
	}
	if req.Constraints.TimeoutMs != 5000 {
		t.Fatalf("brain request timeout_ms = %d, want 5000", req.Constraints.TimeoutMs)
	}
}

func TestSessionBusBrainUnavailableSpeaksFallback(t *testing.T) {
	f := newBusFixture(Timeouts{})
	sess, tr := f.startSession(t)

	// The mock bus rejects requests unless a handler is installed.
	tr.emit(utterance("hello")...)
	waitFor(t, "fallback played", func() bool { return f.sink.playedCount() >= 1 })
	waitState(t, sess, models.StateListening)

	if texts := f.synth.requestedTexts(); len(texts) != 1 || texts[0] != fallbackReply {
		t.Fatalf("synthesized texts = %v, want the fallback line", texts)
	}
}

func TestSessionReasonFailureSpeaksFallback(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.reason.fn = func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
		return nil, errors.New("model exploded")
	}
	sess, tr := f.startSession(t)

	tr.emit(utterance("hello")...)
	waitFor(t, "fallback played", func() bool { return f.sink.playedCount() >= 1 })
	waitState(t, sess, models.StateListening)

	if texts := f.synth.requestedTexts(); len(texts) != 1 || texts[0] != fallbackReply {
		t.Fatalf("synthesized texts = %v, want the fallback line", texts)
	}

	// The spoken fallback is sampled for latency but no reasoning pass
	// completed, so the turn count stays at zero.
	waitFor(t, "aggregate update", func() bool { return f.repo.aggregateCount() == 1 })
	if agg := f.repo.lastAggregates(); agg.Count != 0 {
		t.Fatalf("aggregate count = %d, want 0 after a fallback line", agg.Count)
	}

	sess.Leave("participant left")
	waitDone(t, sess)

	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 || finalized[0].TotalTurns != 0 {
		t.Fatalf("finalized total turns = %+v, want one row with 0", finalized)
	}
}

func TestSessionConsecutiveSTTFailuresClose(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	for i := 0; i < maxConsecutiveSTTFailures; i++ {
		tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
		tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceEnd, ""))
		tr.emit(failedFinal())
	}

	waitDone(t, sess)
	if sess.State() != models.StateClosed {
		t.Fatalf("state = %s, want closed", sess.State())
	}

	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 {
		t.Fatalf("finalized rows = %d, want 1", len(finalized))
	}
	if finalized[0].Status != models.SessionStatusError {
		t.Fatalf("finalized status = %s, want error", finalized[0].Status)
	}

	ev, ok := f.log.findConversationEvent(protocol.EventSessionEnded)
	if !ok {
		t.Fatal("no session_ended event on the conversation stream")
	}
	if ev.payload["status"] != "error" {
		t.Fatalf("session_ended status = %v, want error", ev.payload["status"])
	}
}

func TestSessionSTTFailureStreakResetsOnSuccess(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	tr.emit(failedFinal())
	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	tr.emit(failedFinal())
	// A clean result, even an empty one, breaks the streak.
	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	tr.emit(models.NewTranscriptEvent(models.TranscriptFinal, ""))
	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	tr.emit(failedFinal())
	tr.emit(models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))
	tr.emit(failedFinal())

	// The session is still alive and takes the next turn.
	tr.emit(utterance("still here")...)
	waitFor(t, "turn after failures", func() bool { return len(f.reason.callStates()) == 1 })
	waitState(t, sess, models.StateListening)
}

func TestSessionRecognizerStreamClosedEndsWithError(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	tr.Close()

	waitDone(t, sess)
	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 || finalized[0].Status != models.SessionStatusError {
		t.Fatalf("finalized = %+v, want one row with error status", finalized)
	}
}

func TestSessionLeaveFinalizesRecord(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	tr.emit(utterance("hello")...)
	waitFor(t, "reply played", func() bool { return f.sink.playedCount() == 1 })
	waitState(t, sess, models.StateListening)

	sess.Leave("participant left")
	waitDone(t, sess)

	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 {
		t.Fatalf("finalized rows = %d, want 1", len(finalized))
	}
	rec := finalized[0]
	if rec.Status != models.SessionStatusEnded {
		t.Fatalf("status = %s, want ended", rec.Status)
	}
	if rec.TotalTurns != 1 {
		t.Fatalf("total turns = %d, want 1", rec.TotalTurns)
	}
	if rec.ConnectionQuality != models.QualityExcellent {
		t.Fatalf("connection quality = %q, want excellent", rec.ConnectionQuality)
	}
	if rec.EndedAt == nil || rec.DurationS == nil {
		t.Fatal("finalized row is missing ended_at or duration_s")
	}

	ev, ok := f.log.findConversationEvent(protocol.EventSessionEnded)
	if !ok {
		t.Fatal("no session_ended event on the conversation stream")
	}
	if ev.payload["status"] != "ended" {
		t.Fatalf("session_ended status = %v, want ended", ev.payload["status"])
	}
	if turns, _ := ev.payload["total_turns"].(float64); turns != 1 {
		t.Fatalf("session_ended total_turns = %v, want 1", ev.payload["total_turns"])
	}
	if ev.payload["connection_quality"] != models.QualityExcellent {
		t.Fatalf("session_ended quality = %v, want excellent", ev.payload["connection_quality"])
	}

	audits := f.log.auditEvents()
	if len(audits) != 1 || audits[0].eventType != "session_ended" {
		t.Fatalf("audit events = %+v, want one session_ended", audits)
	}
	if audits[0].payload["resource"] != "session/"+sess.ID {
		t.Fatalf("audit resource = %v", audits[0].payload["resource"])
	}
}

func TestSessionFramesReachRecognizer(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, tr := f.startSession(t)

	for i := 0; i < 5; i++ {
		sess.PushFrame(taggedFrame(i))
	}
	waitFor(t, "frames fed", func() bool { return tr.fedCount() == 5 })

	if sess.FramesDropped() != 0 {
		t.Fatalf("FramesDropped() = %d, want 0", sess.FramesDropped())
	}
}

func TestSessionFrameDropCounting(t *testing.T) {
	deps := Deps{Logger: slog.Default(), Timeouts: DefaultTimeouts()}
	record := models.NewSession("ses_queue", "user-1", "aria")
	sess := newSession(record, &mockSink{}, newMockTranscriber(), deps)

	// Nothing drains the queue; pushing past capacity evicts the oldest.
	for i := 0; i < frameQueueCapacity+2; i++ {
		sess.PushFrame(taggedFrame(i))
	}

	if got := sess.FramesDropped(); got != 2 {
		t.Fatalf("FramesDropped() = %d, want 2", got)
	}
	if sess.frames.Len() != frameQueueCapacity {
		t.Fatalf("queue length = %d, want %d", sess.frames.Len(), frameQueueCapacity)
	}
	first := <-sess.frames.C()
	if first.PCM[0] != 2 {
		t.Fatalf("oldest surviving frame = %d, want 2", first.PCM[0])
	}
}
