package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/shared/protocol"
)

func TestTimeoutsWithDefaults(t *testing.T) {
	got := Timeouts{Turn: time.Second}.withDefaults()
	if got.Turn != time.Second {
		t.Fatalf("Turn = %v, want the configured 1s", got.Turn)
	}
	if got.Reason != 5*time.Second || got.STT != 3*time.Second || got.TTSFirstChunk != time.Second {
		t.Fatalf("unfilled fields did not default: %+v", got)
	}
}

func TestManagerStartSessionIdempotent(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, _ := f.startSession(t)

	again, err := f.manager.StartSession(context.Background(), testParams("participant-1", f.sink))
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if again != sess {
		t.Fatal("second StartSession returned a different session")
	}
	if f.repo.createdCount() != 1 {
		t.Fatalf("created rows = %d, want 1", f.repo.createdCount())
	}
	if f.manager.ActiveSessions() != 1 {
		t.Fatalf("active sessions = %d, want 1", f.manager.ActiveSessions())
	}

	started := f.bus.publishedTo(protocol.SubjectSessionStarted)
	if len(started) != 1 {
		t.Fatalf("session.started publishes = %d, want 1", len(started))
	}
	ann, err := protocol.DecodePayload[protocol.SessionStarted](started[0].env.Payload)
	if err != nil {
		t.Fatalf("decode session.started: %v", err)
	}
	if ann.SessionID != sess.ID || ann.UserID != "user-1" || ann.AgentID != "aria" {
		t.Fatalf("session.started payload = %+v", ann)
	}
}

func TestManagerStartSessionValidation(t *testing.T) {
	f := newSessionFixture(Timeouts{})

	_, err := f.manager.StartSession(context.Background(), StartParams{
		RoomID: "room-1", ParticipantID: "participant-1", Sink: f.sink,
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("missing user error = %v, want ErrInvalidInput", err)
	}

	_, err = f.manager.StartSession(context.Background(), StartParams{
		UserID: "user-1", ParticipantID: "participant-1",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("missing sink error = %v, want ErrInvalidInput", err)
	}

	if f.repo.createdCount() != 0 {
		t.Fatalf("created rows = %d, want 0", f.repo.createdCount())
	}
}

func TestManagerStartSessionRepoFailure(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.repo.createFunc = func(ctx context.Context, session *models.Session) error {
		return domain.ErrNotConnected
	}

	_, err := f.manager.StartSession(context.Background(), testParams("participant-1", f.sink))
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if f.manager.ActiveSessions() != 0 {
		t.Fatalf("active sessions = %d, want 0", f.manager.ActiveSessions())
	}
	if got := len(f.bus.publishedTo(protocol.SubjectSessionStarted)); got != 0 {
		t.Fatalf("session.started publishes = %d, want 0", got)
	}
}

func TestManagerOpenStreamFailureFinalizesRow(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	f.factory.openErr = errors.New("recognition engine down")

	_, err := f.manager.StartSession(context.Background(), testParams("participant-1", f.sink))
	if err == nil {
		t.Fatal("StartSession succeeded with no recognition stream")
	}
	if f.manager.ActiveSessions() != 0 {
		t.Fatalf("active sessions = %d, want 0", f.manager.ActiveSessions())
	}

	// The already-created row must not linger as active.
	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 {
		t.Fatalf("finalized rows = %d, want 1", len(finalized))
	}
	if finalized[0].Status != models.SessionStatusError {
		t.Fatalf("finalized status = %s, want error", finalized[0].Status)
	}
}

func TestManagerEndSessionReapsEntry(t *testing.T) {
	f := newSessionFixture(Timeouts{})
	sess, _ := f.startSession(t)

	if _, ok := f.manager.Lookup("participant-1"); !ok {
		t.Fatal("Lookup did not find the live session")
	}

	f.manager.EndSession("participant-1")
	waitDone(t, sess)
	waitFor(t, "session reaped", func() bool { return f.manager.ActiveSessions() == 0 })

	if _, ok := f.manager.Lookup("participant-1"); ok {
		t.Fatal("Lookup still finds the closed session")
	}
	finalized := f.repo.finalizedSessions()
	if len(finalized) != 1 || finalized[0].Status != models.SessionStatusEnded {
		t.Fatalf("finalized = %+v, want one row with ended status", finalized)
	}
}

func TestManagerCloseEndsAllSessions(t *testing.T) {
	f := newSessionFixture(Timeouts{})

	first, err := f.manager.StartSession(context.Background(), testParams("participant-1", f.sink))
	if err != nil {
		t.Fatalf("StartSession participant-1: %v", err)
	}
	second, err := f.manager.StartSession(context.Background(), testParams("participant-2", &mockSink{}))
	if err != nil {
		t.Fatalf("StartSession participant-2: %v", err)
	}
	if f.manager.ActiveSessions() != 2 {
		t.Fatalf("active sessions = %d, want 2", f.manager.ActiveSessions())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.manager.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	waitDone(t, first)
	waitDone(t, second)
	waitFor(t, "sessions reaped", func() bool { return f.manager.ActiveSessions() == 0 })

	if _, err := f.manager.StartSession(context.Background(), testParams("participant-3", &mockSink{})); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("post-close StartSession error = %v, want ErrSessionClosed", err)
	}
	if got := len(f.repo.finalizedSessions()); got != 2 {
		t.Fatalf("finalized rows = %d, want 2", got)
	}
}
