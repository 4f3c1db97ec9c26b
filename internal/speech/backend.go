// Package speech contains the speech backends the playback scheduler drives:
// an on-device synthesizer run through a local command and a remote
// Speechify-compatible HTTP API whose audio is played through oto.
package speech

import (
	"context"
)

// Params describes how an utterance should sound. Backends ignore the fields
// that do not apply to them.
type Params struct {
	VoiceID   string  // remote voice identifier
	VoiceName string  // local voice name, matched exactly against the catalog
	Volume    float64 // 0..1
	Rate      float64 // 1 is normal speed
	Pitch     float64 // 1 is normal pitch
}

// Backend synthesizes text and plays it to completion. Implementations map
// every internal failure to a returned error so callers can fall back.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, text string, p Params) error
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
