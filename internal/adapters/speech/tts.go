package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ariavoice/aria/internal/adapters/metrics"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/pkg/otel"
	"github.com/ariavoice/aria/shared/backoff"
)

const (
	tracerName = "speech"

	// DefaultMaxConcurrent bounds parallel synthesis calls so a burst of
	// sessions cannot starve the engine.
	DefaultMaxConcurrent = 4

	// slotAcquireTimeout is how long a synthesis request waits for a free
	// slot before giving up with ErrTTSBusy.
	slotAcquireTimeout = 500 * time.Millisecond

	headerAudioDuration = "X-Audio-Duration"
	headerSampleRate    = "X-Sample-Rate"
)

type synthesisRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float32 `json:"speed,omitempty"`
}

type engineHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Synthesizer renders text to speech through the engine's /audio/speech
// endpoint. A fixed pool of slots bounds concurrent engine calls; a slot is
// held only for the HTTP round trip, not while chunks drain.
type Synthesizer struct {
	client *Client
	model  string
	voice  string
	slots  chan struct{}
	loaded atomic.Bool
	logger *slog.Logger
}

func NewSynthesizer(client *Client, model, voice string, maxConcurrent int, logger *slog.Logger) *Synthesizer {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Synthesizer{
		client: client,
		model:  model,
		voice:  voice,
		slots:  make(chan struct{}, maxConcurrent),
		logger: logger.With("component", "tts"),
	}
}

// Start polls the engine's health endpoint until the model reports loaded.
// It fails once the poll budget is exhausted; a voice agent without a voice
// should not come up.
func (s *Synthesizer) Start(ctx context.Context) error {
	err := backoff.Retry(ctx, backoff.Standard, func(ctx context.Context, attempt int) error {
		var health engineHealth
		if err := s.client.GetJSON(ctx, healthPath, &health); err != nil {
			return fmt.Errorf("engine health check: %w", err)
		}
		if !health.ModelLoaded {
			return fmt.Errorf("%w: engine status %q", domain.ErrModelNotLoaded, health.Status)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("synthesis engine not ready: %w", err)
	}

	s.loaded.Store(true)
	s.logger.Info("synthesis engine ready", "model", s.model, "voice", s.voice)
	return nil
}

// Loaded reports whether the warmup check has seen the model loaded.
func (s *Synthesizer) Loaded() bool {
	return s.loaded.Load()
}

// Synthesize renders text and streams it back in roughly one-second chunks.
// The engine call happens before the channel is returned, so every failure
// mode surfaces as an error here; the stream itself only ends early when ctx
// is cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan models.SynthesisChunk, error) {
	if err := s.checkInput(text); err != nil {
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues("tts").Inc()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tts",
		trace.WithAttributes(otel.TTSModel(s.model), otel.TTSVoice(s.voice)))

	started := time.Now()
	wav, _, err := s.render(ctx, text)
	if err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	samples, rate, err := parseWAV(wav)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrTTSFailed, err)
		s.recordFailure(span, err)
		return nil, err
	}
	if len(samples) == 0 {
		err = fmt.Errorf("%w: engine returned no audio", domain.ErrTTSFailed)
		s.recordFailure(span, err)
		return nil, err
	}
	metrics.StageLatency.WithLabelValues("tts").Observe(float64(time.Since(started).Milliseconds()))
	span.SetAttributes(otel.TTSDurationMs(int64(len(samples)) * 1000 / int64(rate)))

	chunkSize := rate // one second of samples
	total := (len(samples) + chunkSize - 1) / chunkSize

	out := make(chan models.SynthesisChunk, 2)
	go func() {
		defer close(out)
		defer span.End()

		for seq := 0; seq < total; seq++ {
			lo := seq * chunkSize
			hi := lo + chunkSize
			if hi > len(samples) {
				hi = len(samples)
			}
			chunk := models.SynthesisChunk{
				PCM:        samples[lo:hi],
				SampleRate: rate,
				Seq:        seq,
				Final:      seq == total-1,
			}

			select {
			case out <- chunk:
				if seq == 0 {
					metrics.TTSFirstChunkLatency.Observe(time.Since(started).Seconds())
				}
			case <-ctx.Done():
				s.logger.DebugContext(ctx, "synthesis stream abandoned",
					"sent_chunks", seq, "total_chunks", total)
				return
			}
		}
	}()

	return out, nil
}

// SynthesizeWAV renders the full clip into a WAV container, together with
// the duration and sample rate the engine reports.
func (s *Synthesizer) SynthesizeWAV(ctx context.Context, text string) ([]byte, *models.SynthesisResult, error) {
	if err := s.checkInput(text); err != nil {
		return nil, nil, err
	}

	metrics.RequestsTotal.WithLabelValues("tts").Inc()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tts_wav",
		trace.WithAttributes(otel.TTSModel(s.model), otel.TTSVoice(s.voice)))
	defer span.End()

	started := time.Now()
	wav, header, err := s.render(ctx, text)
	if err != nil {
		s.recordFailure(span, err)
		return nil, nil, err
	}
	metrics.StageLatency.WithLabelValues("tts").Observe(float64(time.Since(started).Milliseconds()))

	durationMs, rate := clipInfo(wav, header)
	span.SetAttributes(otel.TTSDurationMs(durationMs))

	chunks := 0
	if rate > 0 {
		chunks = int((durationMs + 999) / 1000)
	}
	return wav, &models.SynthesisResult{
		Chunks:     chunks,
		DurationMs: durationMs,
		SampleRate: rate,
		FirstChunk: time.Since(started),
	}, nil
}

func (s *Synthesizer) checkInput(text string) error {
	if !s.loaded.Load() {
		return domain.ErrModelNotLoaded
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty synthesis text", domain.ErrInvalidInput)
	}
	return nil
}

// render performs one engine round trip under a synthesis slot.
func (s *Synthesizer) render(ctx context.Context, text string) ([]byte, http.Header, error) {
	if err := s.acquireSlot(ctx); err != nil {
		return nil, nil, err
	}
	defer s.releaseSlot()

	body, header, err := s.client.PostJSONRaw(ctx, speechPath, synthesisRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "wav",
		Speed:          1.0,
	})
	if err != nil {
		var engineErr *EngineError
		if errors.As(err, &engineErr) && engineErr.Status == http.StatusServiceUnavailable {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrModelNotLoaded, engineErr.Body)
		}
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTTSFailed, err)
	}
	return body, header, nil
}

func (s *Synthesizer) acquireSlot(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(slotAcquireTimeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
		return nil
	case <-timer.C:
		metrics.TTSBusyTotal.Inc()
		metrics.ErrorsTotal.WithLabelValues("tts_busy").Inc()
		return domain.ErrTTSBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synthesizer) releaseSlot() {
	<-s.slots
}

func (s *Synthesizer) recordFailure(span trace.Span, err error) {
	otel.EndSpan(span, err)
	switch {
	case errors.Is(err, domain.ErrTTSBusy):
		// counted at the slot
	case errors.Is(err, domain.ErrModelNotLoaded):
		metrics.ErrorsTotal.WithLabelValues("tts_not_loaded").Inc()
	default:
		metrics.ErrorsTotal.WithLabelValues("tts_error").Inc()
	}
}

// clipInfo extracts duration and sample rate, preferring the engine's
// response headers over re-parsing the container.
func clipInfo(wav []byte, header http.Header) (int64, int) {
	var durationMs int64
	var rate int

	if v := header.Get(headerAudioDuration); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			durationMs = int64(seconds * 1000)
		}
	}
	if v := header.Get(headerSampleRate); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			rate = parsed
		}
	}

	if durationMs == 0 || rate == 0 {
		if samples, parsedRate, err := parseWAV(wav); err == nil && parsedRate > 0 {
			if rate == 0 {
				rate = parsedRate
			}
			if durationMs == 0 {
				durationMs = int64(len(samples)) * 1000 / int64(parsedRate)
			}
		}
	}
	return durationMs, rate
}
