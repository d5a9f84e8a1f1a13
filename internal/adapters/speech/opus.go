package speech

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/ariavoice/aria/internal/domain/models"
)

const (
	transportSampleRate = 48000

	// maxOpusFrameSamples is 120ms at 48kHz, the longest frame libopus
	// will produce.
	maxOpusFrameSamples = 5760
)

// OpusDecoder converts transport opus packets into pipeline-rate mono PCM
// frames. Voice transports ship 48kHz audio; recognition runs at 16kHz, so
// stereo is downmixed and the rate decimated 3:1.
type OpusDecoder struct {
	decoder    *opus.Decoder
	sampleRate int
	channels   int
	pcm        []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if sampleRate <= 0 {
		sampleRate = transportSampleRate
	}
	if channels <= 0 {
		channels = 1
	}

	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:    decoder,
		sampleRate: sampleRate,
		channels:   channels,
		pcm:        make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

// DecodeFrame decodes one packet into a frame at the pipeline sample rate.
// The returned frame owns its samples; the decode buffer is reused.
func (d *OpusDecoder) DecodeFrame(packet []byte) (models.AudioFrame, error) {
	n, err := d.decoder.Decode(packet, d.pcm)
	if err != nil {
		return models.AudioFrame{}, fmt.Errorf("opus decode: %w", err)
	}

	samples := d.pcm[:n*d.channels]
	if d.channels == 2 {
		samples = downmixMono(samples)
	}

	rate := d.sampleRate
	if rate > models.DefaultSampleRate && rate%models.DefaultSampleRate == 0 {
		samples = decimatePCM(samples, rate/models.DefaultSampleRate)
		rate = models.DefaultSampleRate
	} else if len(samples) > 0 && &samples[0] == &d.pcm[0] {
		samples = append([]int16(nil), samples...)
	}

	return models.NewAudioFrame(samples, rate), nil
}

func downmixMono(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return mono
}

func decimatePCM(samples []int16, ratio int) []int16 {
	if ratio <= 1 {
		return append([]int16(nil), samples...)
	}
	out := make([]int16, len(samples)/ratio)
	for i := range out {
		var sum int32
		for j := 0; j < ratio; j++ {
			sum += int32(samples[i*ratio+j])
		}
		out[i] = int16(sum / int32(ratio))
	}
	return out
}
