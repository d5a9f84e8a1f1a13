package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the canonical PCM header length this package writes.
const wavHeaderSize = 44

var errNotWAV = errors.New("not a RIFF/WAVE payload")

// pcmToWAV wraps 16-bit mono samples in a RIFF container, the shape the
// transcription endpoint expects for uploaded utterances.
func pcmToWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// parseWAV extracts 16-bit mono PCM and the sample rate from a RIFF
// container. Chunks other than fmt and data are skipped, stereo payloads are
// downmixed.
func parseWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errNotWAV
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short", errNotWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// chunk bodies are word-aligned
		offset = body + chunkSize + chunkSize%2
	}

	if sampleRate == 0 || pcm == nil {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", errNotWAV)
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d, want 16", bits)
	}
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: zero channels", errNotWAV)
	}

	frames := len(pcm) / 2 / channels
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[(i*channels+ch)*2:])))
		}
		samples[i] = int16(sum / int32(channels))
	}
	return samples, sampleRate, nil
}
