// Package voice runs the per-participant conversation loop: a bounded frame
// queue feeds the recognizer, transcript events drive a strict state machine
// (idle, listening, transcribing, reasoning, speaking, closing, closed), and
// each turn flows through the brain and the synthesizer under per-stage
// deadlines with barge-in cancellation at chunk boundaries.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/shared/id"
	"github.com/ariavoice/aria/shared/protocol"
)

// Timeouts are the per-stage deadlines of the turn loop.
type Timeouts struct {
	// Turn bounds a whole turn, final transcript to first audio chunk.
	Turn time.Duration
	// Reason bounds one brain call.
	Reason time.Duration
	// STT bounds one final transcription; enforced inside the recognizer.
	STT time.Duration
	// TTSFirstChunk bounds synthesis start to the first audio chunk.
	TTSFirstChunk time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Turn:          7 * time.Second,
		Reason:        5 * time.Second,
		STT:           3 * time.Second,
		TTSFirstChunk: time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Turn <= 0 {
		t.Turn = d.Turn
	}
	if t.Reason <= 0 {
		t.Reason = d.Reason
	}
	if t.STT <= 0 {
		t.STT = d.STT
	}
	if t.TTSFirstChunk <= 0 {
		t.TTSFirstChunk = d.TTSFirstChunk
	}
	return t
}

// Deps are the shared adapter handles every session gets. Reason may be nil;
// sessions then resolve replies over the bus so external brain workers can
// serve them.
type Deps struct {
	Sessions ports.SessionRepository
	Log      ports.DurableLog
	Bus      ports.EphemeralBus
	Reason   ports.ReasonUseCase
	Streams  ports.TranscriberFactory
	Synth    ports.Synthesizer

	Service string
	AgentID string

	Timeouts Timeouts
	Logger   *slog.Logger
}

// StartParams identify one participant joining a room. The sink is the
// transport's playback side; the session never learns what is behind it.
type StartParams struct {
	UserID        string
	RoomID        string
	ParticipantID string
	Sink          ports.AudioSink
}

// Manager owns the live sessions, one per participant.
type Manager struct {
	deps  Deps
	turns atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(deps Deps) *Manager {
	deps.Timeouts = deps.Timeouts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "voice")
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// StartSession creates and launches the session for a participant. Calling
// it again while that participant's session is live returns the existing
// one.
func (m *Manager) StartSession(ctx context.Context, params StartParams) (*Session, error) {
	if params.UserID == "" || params.ParticipantID == "" {
		return nil, fmt.Errorf("%w: user and participant are required", domain.ErrInvalidInput)
	}
	if params.Sink == nil {
		return nil, fmt.Errorf("%w: audio sink is required", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: manager is shut down", domain.ErrSessionClosed)
	}
	if existing, ok := m.sessions[params.ParticipantID]; ok {
		return existing, nil
	}

	sess, err := m.createSession(ctx, params)
	if err != nil {
		return nil, err
	}
	m.sessions[params.ParticipantID] = sess
	go m.reap(params.ParticipantID, sess)

	return sess, nil
}

func (m *Manager) createSession(ctx context.Context, params StartParams) (*Session, error) {
	sessionID := id.NewSession()

	record := models.NewSession(sessionID, params.UserID, m.deps.AgentID)
	record.RoomID = params.RoomID
	record.ParticipantID = params.ParticipantID

	if err := m.deps.Sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create session row: %w", err)
	}

	transcriber, err := m.deps.Streams.OpenStream(ctx, sessionID)
	if err != nil {
		m.abandonRecord(record)
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}

	sess := newSession(record, params.Sink, transcriber, m.deps)
	sess.turnsTotal = &m.turns
	m.publishSessionStarted(ctx, sess)
	go sess.run()

	m.deps.Logger.Info("session started",
		"session_id", sessionID,
		"user_id", params.UserID,
		"room_id", params.RoomID,
		"participant_id", params.ParticipantID)
	return sess, nil
}

// abandonRecord closes a row whose session never launched, so it does not
// linger as active forever.
func (m *Manager) abandonRecord(record *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	record.Finalize(models.SessionStatusError, models.LatencyAggregates{}, 0)
	if err := m.deps.Sessions.Finalize(ctx, record); err != nil {
		m.deps.Logger.Warn("abandoned session row finalize failed",
			"session_id", record.ID, "error", err)
	}
}

// publishSessionStarted announces the session on the control bus. Delivery
// is best effort; a frontend that misses it discovers the session through
// its media track.
func (m *Manager) publishSessionStarted(ctx context.Context, sess *Session) {
	payload, err := protocol.PayloadOf(protocol.SessionStarted{
		UserID:        sess.UserID,
		SessionID:     sess.ID,
		RoomID:        sess.RoomID,
		ParticipantID: sess.ParticipantID,
		AgentID:       sess.AgentID,
	})
	if err == nil {
		err = m.deps.Bus.Publish(ctx, protocol.SubjectSessionStarted, protocol.Wrap(m.deps.Service, payload))
	}
	if err != nil {
		metrics.WarningsTotal.WithLabelValues("publish").Inc()
		m.deps.Logger.Warn("session_started publish failed",
			"session_id", sess.ID, "error", err)
	}
}

// reap removes the map entry once the session has fully closed.
func (m *Manager) reap(participantID string, sess *Session) {
	<-sess.Done()

	m.mu.Lock()
	if m.sessions[participantID] == sess {
		delete(m.sessions, participantID)
	}
	m.mu.Unlock()
}

// EndSession asks a participant's session to wind down. The map entry goes
// away once the session finishes closing.
func (m *Manager) EndSession(participantID string) {
	m.mu.RLock()
	sess, ok := m.sessions[participantID]
	m.mu.RUnlock()

	if ok {
		sess.Leave("participant left")
	}
}

// Lookup returns the live session for a participant.
func (m *Manager) Lookup(participantID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[participantID]
	return sess, ok
}

// ActiveSessions reports how many sessions are currently live.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TurnsTotal reports how many turns completed across all sessions, live and
// closed, since the manager started.
func (m *Manager) TurnsTotal() int64 {
	return m.turns.Load()
}

// Close ends every session and waits for them to finish closing, bounded by
// ctx. New sessions are refused from the first moment.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		live = append(live, sess)
	}
	m.mu.Unlock()

	for _, sess := range live {
		sess.Leave("shutting down")
	}
	for _, sess := range live {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
