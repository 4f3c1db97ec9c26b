package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// voicePollInterval is how often an empty voice catalog is re-queried
const voicePollInterval = 200 * time.Millisecond

// Local speaks through an on-device Engine. Only one local utterance plays
// at a time: starting a new one cancels the previous one.
type Local struct {
	engine Engine
	poll   time.Duration

	mu     sync.Mutex
	voices []string
	cancel context.CancelFunc
	seq    uint64
}

// NewLocal wraps engine
func NewLocal(engine Engine) *Local {
	return &Local{engine: engine, poll: voicePollInterval}
}

// Name identifies the backend in logs and status output
func (l *Local) Name() string { return "local" }

// WaitForVoices polls the engine until it reports at least one voice or ctx
// is done. The catalog can be empty right after startup. ErrNoEngine is
// returned at once since polling cannot fix a missing command.
func (l *Local) WaitForVoices(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		voices, err := l.engine.Voices(ctx)
		if err == nil && len(voices) > 0 {
			l.mu.Lock()
			l.voices = voices
			l.mu.Unlock()
			log.Printf("Loaded %d local voices", len(voices))
			return nil
		}
		if errors.Is(err, ErrNoEngine) {
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Voices returns the loaded voice catalog
func (l *Local) Voices() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.voices))
	copy(out, l.voices)
	return out
}

// MatchVoice returns name when it is in the catalog, otherwise "" (engine default)
func (l *Local) MatchVoice(name string) string {
	if name == "" {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.voices {
		if v == name {
			return v
		}
	}
	return ""
}

// Synthesize speaks text, cancelling any local utterance still in flight
func (l *Local) Synthesize(ctx context.Context, text string, p Params) error {
	voice := l.MatchVoice(p.VoiceName)

	uctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.seq++
	id := l.seq
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.seq == id {
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel()
	}()

	if err := l.engine.Speak(uctx, text, voice, p); err != nil {
		return fmt.Errorf("local speech: %w", err)
	}
	return nil
}
