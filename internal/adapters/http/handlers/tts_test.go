package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
)

func postTTS(t *testing.T, h *TTSHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/tts", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.Synthesize(rr, req)
	return rr
}

func TestTTSHandler_Synthesize_Success(t *testing.T) {
	synth := &stubSynth{
		loaded: true,
		wav:    []byte("RIFF-mock-audio"),
		result: &models.SynthesisResult{DurationMs: 1500, SampleRate: 16000, Chunks: 2},
	}
	handler := NewTTSHandler(synth)

	rr := postTTS(t, handler, `{"text": "hello world"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/wav" {
		t.Errorf("expected Content-Type audio/wav, got %q", got)
	}
	if got := rr.Header().Get("X-Audio-Duration"); got != "1.50" {
		t.Errorf("expected X-Audio-Duration 1.50, got %q", got)
	}
	if got := rr.Header().Get("X-Sample-Rate"); got != "16000" {
		t.Errorf("expected X-Sample-Rate 16000, got %q", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), synth.wav) {
		t.Error("response body does not match synthesized audio")
	}
	if synth.lastText != "hello world" {
		t.Errorf("expected synthesizer to receive 'hello world', got %q", synth.lastText)
	}
}

func TestTTSHandler_Synthesize_EmptyText(t *testing.T) {
	handler := NewTTSHandler(&stubSynth{loaded: true})

	for _, body := range []string{`{"text": ""}`, `{"text": "   "}`, `{}`} {
		rr := postTTS(t, handler, body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestTTSHandler_Synthesize_InvalidJSON(t *testing.T) {
	handler := NewTTSHandler(&stubSynth{loaded: true})

	rr := postTTS(t, handler, `not json`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rr.Code)
	}
}

func TestTTSHandler_Synthesize_ModelNotLoaded(t *testing.T) {
	synth := &stubSynth{loaded: false}
	handler := NewTTSHandler(synth)

	rr := postTTS(t, handler, `{"text": "hello"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when model is not loaded, got %d", rr.Code)
	}
	if synth.lastText != "" {
		t.Error("synthesis should not run when model is not loaded")
	}
}

func TestTTSHandler_Synthesize_Busy(t *testing.T) {
	synth := &stubSynth{loaded: true, err: domain.ErrTTSBusy}
	handler := NewTTSHandler(synth)

	rr := postTTS(t, handler, `{"text": "hello"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when all slots are busy, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
}

func TestTTSHandler_Synthesize_ModelUnloadedMidFlight(t *testing.T) {
	synth := &stubSynth{loaded: true, err: domain.ErrModelNotLoaded}
	handler := NewTTSHandler(synth)

	rr := postTTS(t, handler, `{"text": "hello"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the engine reports no model, got %d", rr.Code)
	}
}

func TestTTSHandler_Synthesize_EngineFailure(t *testing.T) {
	synth := &stubSynth{loaded: true, err: errors.New("phonemizer crashed")}
	handler := NewTTSHandler(synth)

	rr := postTTS(t, handler, `{"text": "hello"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on engine failure, got %d", rr.Code)
	}
}

func TestTTSHandler_Synthesize_OversizedBody(t *testing.T) {
	handler := NewTTSHandler(&stubSynth{loaded: true})

	large := make([]byte, 2<<20)
	for i := range large {
		large[i] = 'a'
	}
	body := `{"text": "` + string(large) + `"}`

	rr := postTTS(t, handler, body)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", rr.Code)
	}
}
