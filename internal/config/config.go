package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Kick     KickConfig     `yaml:"kick"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Playback PlaybackConfig `yaml:"playback"`
	Speech   SpeechConfig   `yaml:"speech"`
	Filter   FilterConfig   `yaml:"filter"`
	Timers   []TimerConfig  `yaml:"timers"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// HTTPConfig holds the control API listener configuration
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Channel      string `yaml:"channel"`
	ChatroomID   int    `yaml:"chatroom_id"` // skips the channel lookup when set
	APIBase      string `yaml:"api_base"`
	WebSocketURL string `yaml:"websocket_url"`
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Channel      string `yaml:"channel"`
	OAuth        string `yaml:"oauth"`
	WebSocketURL string `yaml:"websocket_url"`
}

// PlaybackConfig holds the initial playback settings
type PlaybackConfig struct {
	Playing      *bool        `yaml:"playing"`       // default true
	AudioEnabled bool         `yaml:"audio_enabled"` // unlocked at runtime through the API
	ReadUsername *bool        `yaml:"read_username"` // default true
	Engine       string       `yaml:"engine"`        // local or remote
	Volume       float64      `yaml:"volume"`
	Rate         float64      `yaml:"rate"`
	Pitch        float64      `yaml:"pitch"`
	Voices       VoicesConfig `yaml:"voices"`
	TickMillis   int          `yaml:"tick_ms"`
}

// VoicesConfig holds the local voice name per platform
type VoicesConfig struct {
	Kick   string `yaml:"kick"`
	Twitch string `yaml:"twitch"`
	Timer  string `yaml:"timer"`
}

// SpeechConfig holds speech backend configuration
type SpeechConfig struct {
	LocalCommand string       `yaml:"local_command"` // empty means auto-detect
	Remote       RemoteConfig `yaml:"remote"`
}

// RemoteConfig holds the remote synthesis service configuration
type RemoteConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	VoiceID     string `yaml:"voice_id"`
	AudioFormat string `yaml:"audio_format"`
}

// FilterConfig holds the keyword filter configuration
type FilterConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one initial keyword rule
type KeywordConfig struct {
	Text          string `yaml:"text"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// TimerConfig is one initial timer rule
type TimerConfig struct {
	Message         string `yaml:"message"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Enabled         *bool  `yaml:"enabled"` // default true
}

// OverlayConfig holds overlay configuration
type OverlayConfig struct {
	MaxMessages int      `yaml:"max_messages"`
	Store       string   `yaml:"store"` // memory or s3
	S3          S3Config `yaml:"s3"`
}

// S3Config holds the S3 overlay config store configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id"`     // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // Legacy: static credentials
	Endpoint        string `yaml:"endpoint"`          // For S3-compatible services
}

// PipelineConfig holds message pipeline tuning
type PipelineConfig struct {
	BufferSize      int `yaml:"buffer_size"`
	TimerTickMillis int `yaml:"timer_tick_ms"`
}

// Load loads configuration from a file. A .env file in the working directory
// is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Read YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and
// defaults, and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if oauth := os.Getenv("TWITCH_OAUTH"); oauth != "" {
		c.Twitch.OAuth = oauth
	}
	if key := os.Getenv("SPEECHIFY_API_KEY"); key != "" {
		c.Speech.Remote.APIKey = key
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		c.Overlay.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		c.Overlay.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		c.Overlay.S3.SecretAccessKey = secretKey
	}
	if addr := os.Getenv("HTTP_ADDRESS"); addr != "" {
		c.HTTP.Address = addr
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}

	p := &c.Playback
	if p.Playing == nil {
		p.Playing = boolPtr(true)
	}
	if p.ReadUsername == nil {
		p.ReadUsername = boolPtr(true)
	}
	if p.Engine == "" {
		p.Engine = "local"
	}
	if p.Volume == 0 {
		p.Volume = 1
	}
	if p.Rate == 0 {
		p.Rate = 1
	}
	if p.Pitch == 0 {
		p.Pitch = 1
	}
	if p.TickMillis == 0 {
		p.TickMillis = 100
	}

	if c.Speech.Remote.AudioFormat == "" {
		c.Speech.Remote.AudioFormat = "wav"
	}

	for i := range c.Timers {
		if c.Timers[i].Enabled == nil {
			c.Timers[i].Enabled = boolPtr(true)
		}
	}

	if c.Overlay.MaxMessages == 0 {
		c.Overlay.MaxMessages = 15
	}
	if c.Overlay.Store == "" {
		c.Overlay.Store = "memory"
	}
	if c.Overlay.S3.Prefix == "" {
		c.Overlay.S3.Prefix = "overlays/"
	}

	if c.Pipeline.BufferSize == 0 {
		c.Pipeline.BufferSize = 100
	}
	if c.Pipeline.TimerTickMillis == 0 {
		c.Pipeline.TimerTickMillis = 500
	}
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Kick.Enabled && c.Kick.Channel == "" && c.Kick.ChatroomID == 0 {
		return fmt.Errorf("kick.channel or kick.chatroom_id is required when kick is enabled")
	}
	if c.Twitch.Enabled {
		if c.Twitch.Channel == "" {
			return fmt.Errorf("twitch.channel is required when twitch is enabled")
		}
		if c.Twitch.OAuth == "" {
			return fmt.Errorf("twitch.oauth is required when twitch is enabled (or set TWITCH_OAUTH env var)")
		}
	}

	p := c.Playback
	switch p.Engine {
	case "local", "remote":
	default:
		return fmt.Errorf("playback.engine must be local or remote, got %q", p.Engine)
	}
	if p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("playback.volume must be between 0 and 1")
	}
	if p.Rate < 0.1 || p.Rate > 10 {
		return fmt.Errorf("playback.rate must be between 0.1 and 10")
	}
	if p.Pitch < 0 || p.Pitch > 2 {
		return fmt.Errorf("playback.pitch must be between 0 and 2")
	}

	for i, kw := range c.Filter.Keywords {
		if strings.TrimSpace(kw.Text) == "" {
			return fmt.Errorf("filter.keywords[%d].text is required", i)
		}
	}
	for i, t := range c.Timers {
		if strings.TrimSpace(t.Message) == "" {
			return fmt.Errorf("timers[%d].message is required", i)
		}
		if t.IntervalSeconds <= 0 {
			return fmt.Errorf("timers[%d].interval_seconds must be positive", i)
		}
	}

	if c.Overlay.MaxMessages < 0 {
		return fmt.Errorf("overlay.max_messages must be positive")
	}
	switch c.Overlay.Store {
	case "memory":
	case "s3":
		s3 := c.Overlay.S3
		if s3.Bucket == "" {
			return fmt.Errorf("overlay.s3.bucket is required")
		}
		if s3.Region == "" {
			return fmt.Errorf("overlay.s3.region is required")
		}
		// Either OIDC role or static credentials required
		if s3.RoleARN == "" && s3.AccessKeyID == "" {
			return fmt.Errorf("either overlay.s3.role_arn (OIDC) or overlay.s3.access_key_id (legacy) is required")
		}
		// If using static credentials, both key and secret are required
		if s3.AccessKeyID != "" && s3.SecretAccessKey == "" {
			return fmt.Errorf("overlay.s3.secret_access_key is required when using access_key_id")
		}
	default:
		return fmt.Errorf("overlay.store must be memory or s3, got %q", c.Overlay.Store)
	}

	return nil
}

func boolPtr(v bool) *bool { return &v }
