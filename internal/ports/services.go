package ports

import (
	"context"
	"time"

	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/shared/protocol"
)

// BusHandler processes one inbound envelope. A non-nil returned envelope is
// sent back on the reply subject when the message carries one.
type BusHandler func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error)

// Subscription is a live bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// EphemeralBus is the at-most-once control-plane bus. Delivery is fire and
// forget; anything that must survive a restart goes through DurableLog.
type EphemeralBus interface {
	// Publish sends an envelope to a subject. The subject must pass
	// protocol.ValidateSubject.
	Publish(ctx context.Context, subject string, env *protocol.Envelope) error

	// Request sends an envelope and waits for a single reply. The timeout
	// is mandatory; a missed deadline yields domain.ErrTimeout. A reply
	// carrying an error envelope yields domain.ErrRemoteError.
	Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error)

	// Subscribe registers a handler. A non-empty queue joins a queue group
	// so that replicas split the subject's traffic.
	Subscribe(subject, queue string, handler BusHandler) (Subscription, error)

	// PublishHeartbeat emits a liveness beacon on the health subject.
	PublishHeartbeat(ctx context.Context, status string, metrics map[string]any) error

	Connected() bool

	// Close drains in-flight messages before disconnecting, bounded by the
	// context deadline.
	Close(ctx context.Context) error
}

// LogHandler processes one consumed envelope. A returned error nacks the
// message for redelivery; exhausted redeliveries route to the DLQ.
type LogHandler func(ctx context.Context, env *protocol.Envelope) error

// LogConsumer is a live durable subscription.
type LogConsumer interface {
	Close()
}

// DurableLog is the at-least-once event log for conversation events,
// analytics and audit records.
type DurableLog interface {
	// Produce appends an envelope to a topic. A non-empty key gives all
	// messages sharing it a total order.
	Produce(ctx context.Context, topic, key string, env *protocol.Envelope) error

	// Consume attaches a shared subscription to a topic.
	Consume(topic, subscription string, handler LogHandler) (LogConsumer, error)

	// ProduceConversationEvent appends a session-keyed event to the
	// conversation stream.
	ProduceConversationEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) error

	// ProduceAnalytics appends an unkeyed measurement to the metric's
	// analytics topic.
	ProduceAnalytics(ctx context.Context, metric string, payload map[string]any) error

	// ProduceAudit appends a user-keyed audit record.
	ProduceAudit(ctx context.Context, userID, action, resource string, detail map[string]any) error

	Connected() bool

	Close()
}

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions bound a single completion call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
}

// LLMResponse represents a response from the LLM
type LLMResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// LLMService defines the interface for reply generation.
type LLMService interface {
	Generate(ctx context.Context, system string, messages []LLMMessage, opts GenerateOptions) (*LLMResponse, error)
}

// EmbeddingService defines the interface for generating embeddings
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetDimensions() int
}

// Transcriber is one session's recognition stream. Frames go in, transcript
// events come out; the stream applies its own voice activity gating.
type Transcriber interface {
	// Feed offers one audio frame. It must not block the capture path.
	Feed(frame models.AudioFrame) error

	// Events yields voice_start, interim, voice_end and final events in
	// order. The channel closes when the stream closes.
	Events() <-chan models.TranscriptEvent

	Close() error
}

// TranscriberFactory opens recognition streams, one per session.
type TranscriberFactory interface {
	OpenStream(ctx context.Context, sessionID string) (Transcriber, error)
	Health(ctx context.Context) error
}

// VoiceDetector classifies a frame as speech or silence.
type VoiceDetector interface {
	IsSpeech(frame models.AudioFrame) (bool, error)
	Reset()
	Close() error
}

// Synthesizer renders text to speech in chunks of roughly one second so
// playback can start early and barge-in cancels at chunk granularity.
type Synthesizer interface {
	// Synthesize starts rendering and returns the chunk stream. It fails
	// with domain.ErrTTSBusy when no synthesis slot frees up in time and
	// domain.ErrModelNotLoaded before the engine is ready. Cancelling ctx
	// abandons the remaining chunks.
	Synthesize(ctx context.Context, text string) (<-chan models.SynthesisChunk, error)

	// SynthesizeWAV renders the full clip into a WAV container.
	SynthesizeWAV(ctx context.Context, text string) ([]byte, *models.SynthesisResult, error)

	Loaded() bool
}

// AudioSink receives synthesized chunks for playback. The transport behind
// it is opaque to the session.
type AudioSink interface {
	// Play delivers one chunk downstream.
	Play(ctx context.Context, chunk models.SynthesisChunk) error

	// Flush discards queued audio immediately on barge-in.
	Flush(ctx context.Context) error
}
