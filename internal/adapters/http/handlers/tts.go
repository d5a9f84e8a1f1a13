package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/ports"
)

// TTSHandler exposes the synthesizer directly, for smoke tests and clients
// that want audio without a voice session.
type TTSHandler struct {
	synth ports.Synthesizer
}

func NewTTSHandler(synth ports.Synthesizer) *TTSHandler {
	return &TTSHandler{synth: synth}
}

type TTSRequest struct {
	Text string `json:"text"`
}

// Synthesize serves POST /tts: the whole reply as one WAV body, with the
// engine's measured duration and sample rate surfaced as headers.
func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[TTSRequest](r, w)
	if !ok {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, "text is required", http.StatusBadRequest)
		return
	}
	if !h.synth.Loaded() {
		respondError(w, "speech model not loaded", http.StatusServiceUnavailable)
		return
	}

	wav, result, err := h.synth.SynthesizeWAV(r.Context(), text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTTSBusy):
			w.Header().Set("Retry-After", "1")
			respondError(w, "synthesis slots exhausted", http.StatusServiceUnavailable)
		case errors.Is(err, domain.ErrModelNotLoaded):
			respondError(w, "speech model not loaded", http.StatusServiceUnavailable)
		default:
			respondError(w, "synthesis failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Audio-Duration", fmt.Sprintf("%.2f", float64(result.DurationMs)/1000))
	w.Header().Set("X-Sample-Rate", strconv.Itoa(result.SampleRate))
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}
