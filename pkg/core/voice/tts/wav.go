package tts

import (
	"encoding/binary"
	"fmt"
)

// PCM returns the synthesis payload as raw 16-bit little-endian PCM and
// its sample rate, unwrapping a WAV container when needed.
func (s *Synthesis) PCM() ([]byte, int, error) {
	switch normalizeFormat(s.Format) {
	case "pcm":
		return s.Audio, s.SampleRate, nil
	default:
		return pcmFromWAV(s.Audio)
	}
}

// pcmFromWAV extracts the sample data and sample rate from a RIFF/WAVE
// payload. Only PCM encoding is supported.
func pcmFromWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}

	sampleRate := 0
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
				return nil, 0, fmt.Errorf("wav fmt chunk too short")
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav encoding %d", format)
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			if sampleRate == 0 {
				return nil, 0, fmt.Errorf("wav data chunk before fmt chunk")
			}
			return data[body : body+chunkSize], sampleRate, nil
		}

		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	return nil, 0, fmt.Errorf("wav data chunk not found")
}
