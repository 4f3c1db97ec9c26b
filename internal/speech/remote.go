package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultRemoteBase is the Speechify API host
const DefaultRemoteBase = "https://api.sws.speechify.com"

// ErrMissingCredentials is returned when no API key or voice id is configured
var ErrMissingCredentials = errors.New("speechify api key or voice id missing")

// RemoteVoice is one entry of the remote voice list
type RemoteVoice struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
}

// Remote synthesizes through the Speechify HTTP API and plays the returned
// audio through a Player
type Remote struct {
	baseURL     string
	audioFormat string
	client      *http.Client
	player      Player

	mu     sync.RWMutex
	apiKey string
}

// NewRemote creates a remote backend. audioFormat must be something player can decode.
func NewRemote(baseURL, apiKey, audioFormat string, player Player) *Remote {
	if baseURL == "" {
		baseURL = DefaultRemoteBase
	}
	if audioFormat == "" {
		audioFormat = "wav"
	}
	return &Remote{
		baseURL:     baseURL,
		audioFormat: audioFormat,
		client:      &http.Client{Timeout: 30 * time.Second},
		player:      player,
		apiKey:      apiKey,
	}
}

// Name identifies the backend in logs and status output
func (r *Remote) Name() string { return "remote" }

// SetAPIKey replaces the API key used for later calls
func (r *Remote) SetAPIKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiKey = key
}

// HasAPIKey reports whether a key is configured
func (r *Remote) HasAPIKey() bool {
	return r.key() != ""
}

func (r *Remote) key() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apiKey
}

type speechRequest struct {
	VoiceID     string `json:"voice_id"`
	Text        string `json:"text"`
	AudioFormat string `json:"audio_format"`
}

// Synthesize requests audio for text and blocks until it has played
func (r *Remote) Synthesize(ctx context.Context, text string, p Params) error {
	key := r.key()
	if key == "" || p.VoiceID == "" {
		return ErrMissingCredentials
	}

	body, err := json.Marshal(speechRequest{VoiceID: p.VoiceID, Text: text, AudioFormat: r.audioFormat})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("speechify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("speechify returned status %d: %s", resp.StatusCode, string(b))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return errors.New("speechify returned no audio")
	}

	if err := r.player.Play(ctx, audio, clamp(p.Volume, 0, 1)); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}

// ListVoices returns the voices available to the configured key. It is used
// to populate configuration only.
func (r *Remote) ListVoices(ctx context.Context) ([]RemoteVoice, error) {
	key := r.key()
	if key == "" {
		return nil, ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speechify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to load voices, status %d", resp.StatusCode)
	}

	var voices []RemoteVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return voices, nil
}
