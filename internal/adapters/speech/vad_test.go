package speech

import (
	"math"
	"testing"

	"github.com/ariavoice/aria/internal/domain/models"
)

func sineFrame(amplitude float64, samples, rate int) models.AudioFrame {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return models.NewAudioFrame(pcm, rate)
}

func TestEnergyDetectorGatesOnRMS(t *testing.T) {
	d := NewEnergyDetector(0)

	speech, err := d.IsSpeech(sineFrame(5000, 480, 16000))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if !speech {
		t.Error("loud sine classified as silence")
	}

	speech, err = d.IsSpeech(sineFrame(50, 480, 16000))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if speech {
		t.Error("near-silence classified as speech")
	}

	speech, err = d.IsSpeech(models.NewAudioFrame(nil, 16000))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if speech {
		t.Error("empty frame classified as speech")
	}
}

func TestEnergyDetectorCustomThreshold(t *testing.T) {
	strict := NewEnergyDetector(0.5)

	speech, err := strict.IsSpeech(sineFrame(5000, 480, 16000))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if speech {
		t.Error("threshold 0.5 should reject a 5000-amplitude sine")
	}
}

func TestNewDetectorWithoutModelFallsBack(t *testing.T) {
	d, err := NewDetector("")
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	defer d.Close()

	if _, ok := d.(*EnergyDetector); !ok {
		t.Fatalf("detector = %T, want *EnergyDetector", d)
	}
}

func TestFloatSamples(t *testing.T) {
	out := floatSamples([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1.0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestDecimateAverages(t *testing.T) {
	in := []float32{3, 6, 9, 30, 60, 90}
	out := decimate(in, 3)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0] != 6 || out[1] != 60 {
		t.Errorf("out = %v, want [6 60]", out)
	}

	same := decimate(in, 1)
	if len(same) != len(in) {
		t.Errorf("ratio 1 changed length: %d", len(same))
	}
}
