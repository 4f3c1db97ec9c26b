// Package overlay serves a browser-source chat overlay backed by its own
// Kick and Twitch connections.
package overlay

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults for a viewer that sets no parameters
const (
	DefaultMaxMessages = 15
	DefaultFontSize    = 18
	DefaultBgOpacity   = 0.6
)

// Saved overlays start from a slightly smaller font on a darker background
const (
	SavedFontSize  = 16
	SavedBgOpacity = 0.7
)

var (
	ErrNoSources   = errors.New("overlay needs a kick channel, a kick chatroom id or a twitch channel with token")
	ErrInvalidConf = errors.New("invalid overlay config")
)

// Config describes one overlay: where its messages come from and how they
// are drawn
type Config struct {
	ID              string    `json:"id,omitempty"`
	KickChannel     string    `json:"kickChannel"`
	KickChatroomID  string    `json:"kickChatroomId"`
	TwitchChannel   string    `json:"twitchChannel"`
	TwitchToken     string    `json:"twitchToken"`
	MaxMessages     int       `json:"maxMessages"`
	MessageDuration int       `json:"messageDuration"` // seconds, 0 = forever
	ShowBadges      bool      `json:"showBadges"`
	FontSize        int       `json:"fontSize"`
	BgOpacity       float64   `json:"bgOpacity"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// DefaultConfig returns a config with every display default applied
func DefaultConfig() Config {
	return Config{
		MaxMessages: DefaultMaxMessages,
		ShowBadges:  true,
		FontSize:    DefaultFontSize,
		BgOpacity:   DefaultBgOpacity,
	}
}

// DefaultSavedConfig returns the starting point for a stored overlay. Fields
// missing from a saved document keep these values.
func DefaultSavedConfig() Config {
	cfg := DefaultConfig()
	cfg.FontSize = SavedFontSize
	cfg.BgOpacity = SavedBgOpacity
	return cfg
}

// FromQuery reads overlay parameters from a URL query. Unparseable or zero
// numbers fall back to their defaults; badges are hidden only by "false" or "0".
func FromQuery(q url.Values) Config {
	cfg := DefaultConfig()
	cfg.KickChannel = strings.TrimSpace(q.Get("kick"))
	cfg.KickChatroomID = strings.TrimSpace(q.Get("chatroomId"))
	cfg.TwitchChannel = strings.TrimSpace(q.Get("twitch"))
	cfg.TwitchToken = strings.TrimSpace(q.Get("token"))

	if n, err := strconv.Atoi(q.Get("max")); err == nil && n > 0 {
		cfg.MaxMessages = n
	}
	if b := q.Get("badges"); b == "false" || b == "0" {
		cfg.ShowBadges = false
	}
	if n, err := strconv.Atoi(q.Get("size")); err == nil && n > 0 {
		cfg.FontSize = n
	}
	if f, err := strconv.ParseFloat(q.Get("bg"), 64); err == nil && f > 0 && f <= 1 {
		cfg.BgOpacity = f
	}
	if n, err := strconv.Atoi(q.Get("dur")); err == nil && n > 0 {
		cfg.MessageDuration = n
	}
	return cfg
}

// Query encodes the config back into overlay URL parameters
func (c Config) Query() url.Values {
	q := url.Values{}
	if c.KickChannel != "" {
		q.Set("kick", c.KickChannel)
	}
	if c.KickChatroomID != "" {
		q.Set("chatroomId", c.KickChatroomID)
	}
	if c.TwitchChannel != "" {
		q.Set("twitch", c.TwitchChannel)
	}
	if c.TwitchToken != "" {
		q.Set("token", c.TwitchToken)
	}
	q.Set("max", strconv.Itoa(c.MaxMessages))
	q.Set("size", strconv.Itoa(c.FontSize))
	q.Set("bg", strconv.FormatFloat(c.BgOpacity, 'f', -1, 64))
	if !c.ShowBadges {
		q.Set("badges", "false")
	}
	if c.MessageDuration > 0 {
		q.Set("dur", strconv.Itoa(c.MessageDuration))
	}
	return q
}

// Validate checks the display ranges and the chatroom id format
func (c Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("%w: maxMessages must be positive", ErrInvalidConf)
	}
	if c.FontSize <= 0 {
		return fmt.Errorf("%w: fontSize must be positive", ErrInvalidConf)
	}
	if c.BgOpacity < 0 || c.BgOpacity > 1 {
		return fmt.Errorf("%w: bgOpacity must be between 0 and 1", ErrInvalidConf)
	}
	if c.MessageDuration < 0 {
		return fmt.Errorf("%w: messageDuration must not be negative", ErrInvalidConf)
	}
	if _, err := c.chatroomID(); err != nil {
		return err
	}
	return nil
}

func (c Config) chatroomID() (int, error) {
	if c.KickChatroomID == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(c.KickChatroomID)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: kickChatroomId must be a positive number", ErrInvalidConf)
	}
	return id, nil
}

func (c Config) hasKick() bool {
	return c.KickChannel != "" || c.KickChatroomID != ""
}

func (c Config) hasTwitch() bool {
	return c.TwitchChannel != "" && c.TwitchToken != ""
}

// SourceKey identifies the connections an overlay needs. Viewers with the
// same key share one instance.
func (c Config) SourceKey() string {
	kick := strings.ToLower(c.KickChannel)
	if c.KickChatroomID != "" {
		kick = "#" + c.KickChatroomID
	}
	twitch := ""
	if c.hasTwitch() {
		twitch = strings.ToLower(strings.TrimPrefix(c.TwitchChannel, "#")) + "|" + c.TwitchToken
	}
	return "kick=" + kick + ";twitch=" + twitch
}
