package handlers

import (
	"context"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
)

type stubReason struct {
	lastState *models.ReasoningState
	result    *models.ReasoningResult
	err       error
}

func (s *stubReason) Execute(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error) {
	s.lastState = state
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubSynth struct {
	loaded   bool
	wav      []byte
	result   *models.SynthesisResult
	err      error
	lastText string
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) (<-chan models.SynthesisChunk, error) {
	ch := make(chan models.SynthesisChunk)
	close(ch)
	return ch, nil
}

func (s *stubSynth) SynthesizeWAV(ctx context.Context, text string) ([]byte, *models.SynthesisResult, error) {
	s.lastText = text
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.wav, s.result, nil
}

func (s *stubSynth) Loaded() bool { return s.loaded }

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

type stubConn struct {
	up bool
}

func (s *stubConn) Connected() bool { return s.up }

type stubStreams struct {
	healthErr error
}

func (s *stubStreams) OpenStream(ctx context.Context, sessionID string) (ports.Transcriber, error) {
	return nil, domain.ErrSTTUnavailable
}

func (s *stubStreams) Health(ctx context.Context) error { return s.healthErr }
