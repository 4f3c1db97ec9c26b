package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player plays an encoded audio asset to completion
type Player interface {
	Play(ctx context.Context, audio []byte, volume float64) error
}

// OtoPlayer plays 16-bit PCM WAV audio on the system output via oto.
// oto allows a single context per process, so the context is created on the
// first Play and later audio must share its sample rate and channel count.
type OtoPlayer struct {
	mu     sync.Mutex
	ctx    *oto.Context
	format wavFormat
}

// NewOtoPlayer creates a player; the audio device is opened lazily
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

func (p *OtoPlayer) context(format wavFormat) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		if format.SampleRate != p.format.SampleRate || format.Channels != p.format.Channels {
			return nil, fmt.Errorf("audio format %dHz/%dch does not match open device %dHz/%dch",
				format.SampleRate, format.Channels, p.format.SampleRate, p.format.Channels)
		}
		return p.ctx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	log.Printf("Audio device opened (rate=%d, channels=%d)", format.SampleRate, format.Channels)
	p.ctx = ctx
	p.format = format
	return ctx, nil
}

// Play blocks until the audio finishes or ctx is cancelled
func (p *OtoPlayer) Play(ctx context.Context, audio []byte, volume float64) error {
	format, pcm, err := decodeWAV(audio)
	if err != nil {
		return err
	}
	if format.BitsPerSample != 16 {
		return fmt.Errorf("unsupported sample size %d bits", format.BitsPerSample)
	}

	octx, err := p.context(format)
	if err != nil {
		return err
	}

	player := octx.NewPlayer(bytes.NewReader(pcm))
	player.SetVolume(volume)
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			player.Pause()
			player.Close()
			return ctx.Err()
		}
	}

	return player.Close()
}
