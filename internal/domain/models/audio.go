package models

import (
	"time"
)

// DefaultSampleRate is the PCM sample rate the session pipeline operates at.
const DefaultSampleRate = 16000

// AudioFrame is one frame of 16-bit mono PCM as it arrives from the
// transport. Frames are value types; the session queue copies the header,
// not the samples.
type AudioFrame struct {
	PCM        []int16
	SampleRate int
	ReceivedAt time.Time
}

func NewAudioFrame(pcm []int16, sampleRate int) AudioFrame {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return AudioFrame{
		PCM:        pcm,
		SampleRate: sampleRate,
		ReceivedAt: time.Now().UTC(),
	}
}

// Duration reports the frame's play time.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}

type TranscriptEventType string

const (
	TranscriptVoiceStart TranscriptEventType = "voice_start"
	TranscriptInterim    TranscriptEventType = "interim"
	TranscriptFinal      TranscriptEventType = "final"
	TranscriptVoiceEnd   TranscriptEventType = "voice_end"
)

// TranscriptEvent is emitted by the transcriber as speech is detected and
// recognized. Text is empty for the voice_start and voice_end markers. Err is
// set on final events whose transcription failed; the utterance is lost but
// the stream stays usable.
type TranscriptEvent struct {
	Type       TranscriptEventType `json:"type"`
	Text       string              `json:"text,omitempty"`
	Confidence float32             `json:"confidence,omitempty"`
	SpeechMs   int64               `json:"speech_ms,omitempty"`
	At         time.Time           `json:"at"`
	Err        error               `json:"-"`
}

func NewTranscriptEvent(t TranscriptEventType, text string) TranscriptEvent {
	return TranscriptEvent{Type: t, Text: text, At: time.Now().UTC()}
}

// IsFinal reports whether the event closes an utterance.
func (e TranscriptEvent) IsFinal() bool {
	return e.Type == TranscriptFinal
}

// SynthesisChunk is roughly one second of synthesized PCM. Chunked output
// lets playback start before the full reply is rendered and keeps barge-in
// cancellation latency at one chunk.
type SynthesisChunk struct {
	PCM        []int16
	SampleRate int
	Seq        int
	Final      bool
}

// Duration reports the chunk's play time.
func (c SynthesisChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(c.SampleRate)
}

// SynthesisResult summarizes one completed synthesis call.
type SynthesisResult struct {
	Chunks     int
	DurationMs int64
	SampleRate int
	FirstChunk time.Duration
}
