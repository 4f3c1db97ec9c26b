package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavFormat is the subset of a WAV fmt chunk needed for playback
type wavFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// decodeWAV walks the RIFF chunks and returns the PCM format and data
func decodeWAV(wav []byte) (wavFormat, []byte, error) {
	if len(wav) < 12 {
		return wavFormat{}, nil, errors.New("wav data too short")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavFormat{}, nil, errors.New("not a valid WAV file")
	}

	var (
		format  wavFormat
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		start := pos + 8

		switch chunkID {
		case "fmt ":
			if start+16 > len(wav) {
				return wavFormat{}, nil, errors.New("truncated fmt chunk")
			}
			if code := binary.LittleEndian.Uint16(wav[start : start+2]); code != 1 {
				return wavFormat{}, nil, fmt.Errorf("unsupported WAV encoding %d", code)
			}
			format = wavFormat{
				Channels:      int(binary.LittleEndian.Uint16(wav[start+2 : start+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(wav[start+4 : start+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(wav[start+14 : start+16])),
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return wavFormat{}, nil, errors.New("data chunk before fmt chunk")
			}
			// Streamed WAVs may carry a placeholder size.
			end := start + chunkSize
			if chunkSize < 0 || end > len(wav) || end < start {
				end = len(wav)
			}
			return format, wav[start:end], nil
		}

		pos = start + chunkSize
		if chunkSize%2 != 0 {
			pos++
		}
		if pos < start {
			break
		}
	}

	return wavFormat{}, nil, errors.New("data chunk not found in WAV")
}
