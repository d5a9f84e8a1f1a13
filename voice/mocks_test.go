package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/shared/protocol"
)

type mockSessionRepo struct {
	mu         sync.Mutex
	created    []*models.Session
	aggregates []models.LatencyAggregates
	finalized  []*models.Session
	createFunc func(ctx context.Context, session *models.Session) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, session); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.created = append(m.created, &copied)
	return nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.created {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) UpdateAggregates(ctx context.Context, id string, agg models.LatencyAggregates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates = append(m.aggregates, agg)
	return nil
}

func (m *mockSessionRepo) Finalize(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.finalized = append(m.finalized, &copied)
	return nil
}

func (m *mockSessionRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) CountActive(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created) - len(m.finalized), nil
}

func (m *mockSessionRepo) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockSessionRepo) aggregateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aggregates)
}

func (m *mockSessionRepo) lastAggregates() models.LatencyAggregates {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.aggregates) == 0 {
		return models.LatencyAggregates{}
	}
	return m.aggregates[len(m.aggregates)-1]
}

func (m *mockSessionRepo) finalizedSessions() []*models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Session(nil), m.finalized...)
}

type producedEvent struct {
	key       string
	eventType string
	payload   map[string]any
}

type mockDurableLog struct {
	mu           sync.Mutex
	conversation []producedEvent
	analytics    []producedEvent
	audits       []producedEvent
}

func (m *mockDurableLog) Produce(ctx context.Context, topic, key string, env *protocol.Envelope) error {
	return nil
}

func (m *mockDurableLog) Consume(topic, subscription string, handler ports.LogHandler) (ports.LogConsumer, error) {
	return mockLogConsumer{}, nil
}

func (m *mockDurableLog) ProduceConversationEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversation = append(m.conversation, producedEvent{key: sessionID, eventType: eventType, payload: payload})
	return nil
}

func (m *mockDurableLog) ProduceAnalytics(ctx context.Context, metric string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics = append(m.analytics, producedEvent{eventType: metric, payload: payload})
	return nil
}

func (m *mockDurableLog) ProduceAudit(ctx context.Context, userID, action, resource string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := map[string]any{"user_id": userID, "action": action, "resource": resource}
	for k, v := range detail {
		payload[k] = v
	}
	m.audits = append(m.audits, producedEvent{key: userID, eventType: action, payload: payload})
	return nil
}

func (m *mockDurableLog) Connected() bool { return true }
func (m *mockDurableLog) Close()          {}

func (m *mockDurableLog) conversationEvents() []producedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]producedEvent(nil), m.conversation...)
}

func (m *mockDurableLog) findConversationEvent(eventType string) (producedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.conversation {
		if ev.eventType == eventType {
			return ev, true
		}
	}
	return producedEvent{}, false
}

func (m *mockDurableLog) analyticsEvents() []producedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]producedEvent(nil), m.analytics...)
}

func (m *mockDurableLog) auditEvents() []producedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]producedEvent(nil), m.audits...)
}

type mockLogConsumer struct{}

func (mockLogConsumer) Close() {}

type publishedMsg struct {
	subject string
	env     *protocol.Envelope
}

type mockBus struct {
	mu        sync.Mutex
	published []publishedMsg
	requests  []publishedMsg
	requestFn func(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error)
}

func (m *mockBus) Publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{subject: subject, env: env})
	return nil
}

func (m *mockBus) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	m.mu.Lock()
	m.requests = append(m.requests, publishedMsg{subject: subject, env: env})
	fn := m.requestFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, subject, env, timeout)
	}
	return nil, domain.ErrNotConnected
}

func (m *mockBus) Subscribe(subject, queue string, handler ports.BusHandler) (ports.Subscription, error) {
	return mockSubscription{}, nil
}

func (m *mockBus) PublishHeartbeat(ctx context.Context, status string, metricsPayload map[string]any) error {
	return nil
}

func (m *mockBus) Connected() bool { return true }

func (m *mockBus) Close(ctx context.Context) error { return nil }

func (m *mockBus) publishedTo(subject string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, msg := range m.published {
		if msg.subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockBus) requestedMsgs() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMsg(nil), m.requests...)
}

type mockSubscription struct{}

func (mockSubscription) Unsubscribe() error { return nil }

type mockReason struct {
	mu    sync.Mutex
	calls []*models.ReasoningState
	fn    func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error)
}

func (m *mockReason) Execute(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
	m.mu.Lock()
	copied := *state
	m.calls = append(m.calls, &copied)
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, state)
	}
	index := state.TurnIndex
	if index < 0 {
		index = 0
	}
	return &models.ReasoningResult{
		Reply:     "the sky is blue because of Rayleigh scattering",
		TurnIndex: index,
		LatencyMs: 42,
	}, nil
}

func (m *mockReason) setFn(fn func(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *mockReason) callStates() []*models.ReasoningState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ReasoningState(nil), m.calls...)
}

type mockTranscriber struct {
	mu     sync.Mutex
	fed    []models.AudioFrame
	events chan models.TranscriptEvent
	closed bool
	once   sync.Once
}

func newMockTranscriber() *mockTranscriber {
	return &mockTranscriber{events: make(chan models.TranscriptEvent, 32)}
}

func (m *mockTranscriber) Feed(frame models.AudioFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStreamClosed
	}
	m.fed = append(m.fed, frame)
	return nil
}

func (m *mockTranscriber) Events() <-chan models.TranscriptEvent { return m.events }

func (m *mockTranscriber) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.events)
	})
	return nil
}

func (m *mockTranscriber) fedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fed)
}

// emit pushes recognizer events into the session as the real stream would.
func (m *mockTranscriber) emit(events ...models.TranscriptEvent) {
	for _, ev := range events {
		m.events <- ev
	}
}

type mockTranscriberFactory struct {
	mu      sync.Mutex
	streams []*mockTranscriber
	openErr error
}

func (m *mockTranscriberFactory) OpenStream(ctx context.Context, sessionID string) (ports.Transcriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	tr := newMockTranscriber()
	m.streams = append(m.streams, tr)
	return tr, nil
}

func (m *mockTranscriberFactory) Health(ctx context.Context) error { return nil }

func (m *mockTranscriberFactory) lastStream(t *testing.T) *mockTranscriber {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		t.Fatal("no recognition stream was opened")
	}
	return m.streams[len(m.streams)-1]
}

type mockSynthesizer struct {
	mu       sync.Mutex
	texts    []string
	chunks   int
	hold     chan struct{}
	synthErr error
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) (<-chan models.SynthesisChunk, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	synthErr := m.synthErr
	hold := m.hold
	n := m.chunks
	m.mu.Unlock()

	if synthErr != nil {
		return nil, synthErr
	}
	if n <= 0 {
		n = 1
	}

	out := make(chan models.SynthesisChunk)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			chunk := models.SynthesisChunk{
				PCM:        make([]int16, models.DefaultSampleRate),
				SampleRate: models.DefaultSampleRate,
				Seq:        i,
				Final:      i == n-1,
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if i == 0 && hold != nil {
				select {
				case <-hold:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *mockSynthesizer) SynthesizeWAV(ctx context.Context, text string) ([]byte, *models.SynthesisResult, error) {
	return nil, nil, domain.ErrTTSFailed
}

func (m *mockSynthesizer) Loaded() bool { return true }

func (m *mockSynthesizer) requestedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockSink struct {
	mu      sync.Mutex
	played  []models.SynthesisChunk
	flushes int
}

func (m *mockSink) Play(ctx context.Context, chunk models.SynthesisChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, chunk)
	return nil
}

func (m *mockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *mockSink) playedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

func (m *mockSink) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
