package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
	"github.com/ariavoice/aria/pkg/otel"
)

const (
	// DefaultSTTTimeout bounds one utterance transcription.
	DefaultSTTTimeout = 3 * time.Second

	// hangoverDuration is how much stream-time silence closes an
	// utterance. Pauses shorter than this stay inside the same turn.
	hangoverDuration = 400 * time.Millisecond

	// interimDeadline bounds a partial transcription. Partials are
	// advisory; a slow one is worthless by the time it lands.
	interimDeadline = 800 * time.Millisecond

	frameQueueSize = 256
	eventQueueSize = 32
)

type transcriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration float32                `json:"duration,omitempty"`
	Segments []transcriptionSegment `json:"segments,omitempty"`
}

type transcriptionSegment struct {
	Text         string  `json:"text"`
	NoSpeechProb float32 `json:"no_speech_prob,omitempty"`
}

// confidence mirrors the engine's verbose segments: the mean probability
// that each segment is actually speech.
func (t *transcriptionResponse) confidence() float32 {
	if len(t.Segments) == 0 {
		return 0
	}
	var total float32
	for _, seg := range t.Segments {
		total += 1.0 - seg.NoSpeechProb
	}
	return total / float32(len(t.Segments))
}

// RecognizerFactory opens one recognition stream per voice session.
type RecognizerFactory struct {
	client       *Client
	model        string
	vadModelPath string
	timeout      time.Duration
	logger       *slog.Logger

	// Interim enables periodic partial transcripts at the given stream
	// time interval. Zero disables them.
	Interim time.Duration
}

func NewRecognizerFactory(client *Client, model, vadModelPath string, timeout time.Duration, logger *slog.Logger) *RecognizerFactory {
	if timeout <= 0 {
		timeout = DefaultSTTTimeout
	}
	return &RecognizerFactory{
		client:       client,
		model:        model,
		vadModelPath: vadModelPath,
		timeout:      timeout,
		logger:       logger.With("component", "stt"),
	}
}

// OpenStream starts a recognition stream. The stream's lifetime is the
// session's, not the opening request's.
func (f *RecognizerFactory) OpenStream(ctx context.Context, sessionID string) (ports.Transcriber, error) {
	detector, err := NewDetector(f.vadModelPath)
	if err != nil {
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}
	return newRecognizer(f.client, f.model, sessionID, detector, f.timeout, f.Interim,
		f.logger.With("session_id", sessionID)), nil
}

// Health reports whether the engine can transcribe right now.
func (f *RecognizerFactory) Health(ctx context.Context) error {
	var health engineHealth
	if err := f.client.GetJSON(ctx, healthPath, &health); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSTTUnavailable, err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("%w: engine status %q", domain.ErrSTTUnavailable, health.Status)
	}
	return nil
}

type recognizerPhase int

const (
	phaseIdle recognizerPhase = iota
	phaseSpeaking
	phaseHangover
)

// Recognizer turns a frame stream into transcript events. Voice gating runs
// on stream time, the sum of fed frame durations, so behavior does not
// depend on delivery jitter.
type Recognizer struct {
	client    *Client
	model     string
	sessionID string
	detector  ports.VoiceDetector
	timeout   time.Duration
	interim   time.Duration
	logger    *slog.Logger

	frames chan models.AudioFrame
	events chan models.TranscriptEvent
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	// state below is owned by the run goroutine
	phase       recognizerPhase
	utterance   []int16
	sampleRate  int
	speechDur   time.Duration
	silenceDur  time.Duration
	streamPos   time.Duration
	lastInterim time.Duration
}

func newRecognizer(client *Client, model, sessionID string, detector ports.VoiceDetector, timeout, interim time.Duration, logger *slog.Logger) *Recognizer {
	runCtx, cancel := context.WithCancel(context.Background())
	r := &Recognizer{
		client:    client,
		model:     model,
		sessionID: sessionID,
		detector:  detector,
		timeout:   timeout,
		interim:   interim,
		logger:    logger,
		frames:    make(chan models.AudioFrame, frameQueueSize),
		events:    make(chan models.TranscriptEvent, eventQueueSize),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	go r.run(runCtx)
	return r
}

// Feed offers one frame without blocking. A full queue rejects the frame so
// the capture path can count the drop and move on.
func (r *Recognizer) Feed(frame models.AudioFrame) error {
	select {
	case <-r.done:
		return domain.ErrStreamClosed
	default:
	}

	select {
	case r.frames <- frame:
		return nil
	case <-r.done:
		return domain.ErrStreamClosed
	default:
		return fmt.Errorf("%w: frame queue full", domain.ErrSTTFailed)
	}
}

func (r *Recognizer) Events() <-chan models.TranscriptEvent {
	return r.events
}

// Close stops the stream. Buffered audio is discarded without a final
// transcript.
func (r *Recognizer) Close() error {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}

func (r *Recognizer) run(ctx context.Context) {
	defer func() {
		if err := r.detector.Close(); err != nil {
			r.logger.Warn("detector close failed", "error", err)
		}
		close(r.events)
		close(r.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-r.frames:
			r.process(ctx, frame)
		}
	}
}

func (r *Recognizer) process(ctx context.Context, frame models.AudioFrame) {
	isSpeech, err := r.detector.IsSpeech(frame)
	if err != nil {
		r.logger.WarnContext(ctx, "vad failed, treating frame as silence", "error", err)
		isSpeech = false
	}
	r.streamPos += frame.Duration()

	switch r.phase {
	case phaseIdle:
		if !isSpeech {
			return
		}
		r.phase = phaseSpeaking
		r.sampleRate = frame.SampleRate
		r.utterance = append(r.utterance[:0], frame.PCM...)
		r.speechDur = frame.Duration()
		r.silenceDur = 0
		r.lastInterim = r.streamPos
		r.emit(ctx, models.NewTranscriptEvent(models.TranscriptVoiceStart, ""))

	case phaseSpeaking:
		r.utterance = append(r.utterance, frame.PCM...)
		if isSpeech {
			r.speechDur += frame.Duration()
			r.maybeInterim(ctx)
			return
		}
		r.phase = phaseHangover
		r.silenceDur = frame.Duration()
		ev := models.NewTranscriptEvent(models.TranscriptVoiceEnd, "")
		ev.SpeechMs = r.speechDur.Milliseconds()
		r.emit(ctx, ev)

	case phaseHangover:
		r.utterance = append(r.utterance, frame.PCM...)
		if isSpeech {
			// the pause was a breath, not the end of the turn
			r.phase = phaseSpeaking
			r.speechDur += frame.Duration()
			r.silenceDur = 0
			return
		}
		r.silenceDur += frame.Duration()
		if r.silenceDur >= hangoverDuration {
			r.finalize(ctx)
		}
	}
}

// finalize closes the utterance and emits the final transcript. A failed
// engine call still emits a final event, with Err set, so the session can
// account for the lost turn.
func (r *Recognizer) finalize(ctx context.Context) {
	pcm := r.utterance
	speechMs := r.speechDur.Milliseconds()

	r.phase = phaseIdle
	r.utterance = nil
	r.speechDur = 0
	r.silenceDur = 0
	r.detector.Reset()

	started := time.Now()
	text, confidence, err := r.transcribe(ctx, pcm, r.timeout, false)
	metrics.STTLatency.Observe(time.Since(started).Seconds())

	ev := models.NewTranscriptEvent(models.TranscriptFinal, text)
	ev.SpeechMs = speechMs
	ev.Confidence = confidence
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("stt_error").Inc()
		ev.Err = err
		r.logger.WarnContext(ctx, "transcription failed", "error", err, "speech_ms", speechMs)
	}
	r.emit(ctx, ev)
}

func (r *Recognizer) maybeInterim(ctx context.Context) {
	if r.interim <= 0 || r.streamPos-r.lastInterim < r.interim {
		return
	}
	r.lastInterim = r.streamPos

	text, confidence, err := r.transcribe(ctx, r.utterance, interimDeadline, true)
	if err != nil || text == "" {
		return
	}
	ev := models.NewTranscriptEvent(models.TranscriptInterim, text)
	ev.Confidence = confidence
	r.emit(ctx, ev)
}

func (r *Recognizer) transcribe(ctx context.Context, pcm []int16, timeout time.Duration, interim bool) (string, float32, error) {
	if len(pcm) == 0 {
		return "", 0, nil
	}

	operation := "stt"
	if interim {
		operation = "stt_interim"
	}
	metrics.RequestsTotal.WithLabelValues(operation).Inc()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := otel.Tracer(tracerName).Start(ctx, operation,
		trace.WithAttributes(otel.STTModel(r.model), otel.SessionID(r.sessionID)))

	fields := map[string]string{
		"model":           r.model,
		"response_format": "verbose_json",
	}

	var resp transcriptionResponse
	err := r.client.PostMultipart(ctx, transcriptionsPath, fields,
		"file", "utterance.wav", pcmToWAV(pcm, r.sampleRate), &resp)
	otel.EndSpan(span, err)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrSTTFailed, err)
	}
	return strings.TrimSpace(resp.Text), resp.confidence(), nil
}

func (r *Recognizer) emit(ctx context.Context, ev models.TranscriptEvent) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}
