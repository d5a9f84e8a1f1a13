package speech

import (
	"fmt"
	"math"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/ariavoice/aria/internal/ports"
)

const (
	vadSampleRate    = 16000
	vadThreshold     = 0.5
	vadWindowSamples = 512 // silero inference window at 16kHz
	vadSpeechPadMs   = 100

	// vadMinSilenceMs is deliberately short. End-of-utterance hangover is
	// the recognizer's job; the detector only has to flip promptly.
	vadMinSilenceMs = 100

	defaultEnergyThreshold = 0.015
)

// NewDetector builds the voice activity detector for a recognition stream.
// With a model path it runs silero ONNX inference, otherwise it falls back
// to a plain energy gate so development setups work without the model file.
func NewDetector(modelPath string) (ports.VoiceDetector, error) {
	if modelPath == "" {
		return NewEnergyDetector(0), nil
	}
	return NewSileroDetector(modelPath)
}

// SileroDetector runs the silero model over fixed 512-sample windows and
// tracks whether the stream is currently inside a speech segment.
type SileroDetector struct {
	mu       sync.Mutex
	detector *speech.Detector
	buf      []float32
	active   bool
}

func NewSileroDetector(modelPath string) (*SileroDetector, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           vadSampleRate,
		Threshold:            vadThreshold,
		MinSilenceDurationMs: vadMinSilenceMs,
		SpeechPadMs:          vadSpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("create vad detector: %w", err)
	}

	return &SileroDetector{
		detector: detector,
		buf:      make([]float32, 0, vadWindowSamples*4),
	}, nil
}

func (d *SileroDetector) IsSpeech(frame models.AudioFrame) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	samples := floatSamples(frame.PCM)
	if frame.SampleRate > vadSampleRate && frame.SampleRate%vadSampleRate == 0 {
		samples = decimate(samples, frame.SampleRate/vadSampleRate)
	}
	d.buf = append(d.buf, samples...)

	for len(d.buf) >= vadWindowSamples {
		window := d.buf[:vadWindowSamples]
		d.buf = d.buf[vadWindowSamples:]

		segments, err := d.detector.Detect(window)
		if err != nil {
			return d.active, fmt.Errorf("vad detect: %w", err)
		}
		for _, seg := range segments {
			if seg.SpeechStartAt >= 0 {
				d.active = true
			}
			if seg.SpeechEndAt > 0 {
				d.active = false
			}
		}
	}
	return d.active, nil
}

func (d *SileroDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.detector.Reset()
	d.buf = d.buf[:0]
	d.active = false
}

func (d *SileroDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detector == nil {
		return nil
	}
	err := d.detector.Destroy()
	d.detector = nil
	return err
}

// EnergyDetector gates on per-frame RMS energy. It is stateless: a frame is
// speech when its energy clears the threshold.
type EnergyDetector struct {
	threshold float64
}

func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = defaultEnergyThreshold
	}
	return &EnergyDetector{threshold: threshold}
}

func (d *EnergyDetector) IsSpeech(frame models.AudioFrame) (bool, error) {
	if len(frame.PCM) == 0 {
		return false, nil
	}

	var sum float64
	for _, s := range frame.PCM {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame.PCM)))
	return rms >= d.threshold, nil
}

func (d *EnergyDetector) Reset() {}

func (d *EnergyDetector) Close() error { return nil }

func floatSamples(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// decimate downsamples by an integer ratio with block averaging, good enough
// for the 48k to 16k hop the voice transport needs.
func decimate(samples []float32, ratio int) []float32 {
	if ratio <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/ratio)
	for i := range out {
		var sum float32
		for j := 0; j < ratio; j++ {
			sum += samples[i*ratio+j]
		}
		out[i] = sum / float32(ratio)
	}
	return out
}
