package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies where a chat message came from
type Platform string

const (
	PlatformKick   Platform = "kick"
	PlatformTwitch Platform = "twitch"
	PlatformTimer  Platform = "timer"
)

// DefaultUsername is used when a platform frame carries no sender
const DefaultUsername = "Unknown"

// Message represents a normalized chat message from any platform (Twitch, Kick, timers).
// A Message is never modified after it has been created.
type Message struct {
	ID         string    `json:"id"`          // Unique within the session: "<platform>-<id>"
	Platform   Platform  `json:"platform"`    // Platform name: "kick", "twitch", "timer"
	Username   string    `json:"username"`    // Sender display name
	Message    string    `json:"message"`     // Chat message content
	ReceivedAt time.Time `json:"received_at"` // Local receive time (UTC)
}

// New normalizes raw fields into a Message. An empty upstreamID gets a random
// UUID so that IDs stay unique even when the platform supplies none.
func New(platform Platform, upstreamID, username, text string, receivedAt time.Time) Message {
	if strings.TrimSpace(username) == "" {
		username = DefaultUsername
	}
	if upstreamID == "" {
		upstreamID = uuid.NewString()
	}
	return Message{
		ID:         string(platform) + "-" + upstreamID,
		Platform:   platform,
		Username:   username,
		Message:    text,
		ReceivedAt: receivedAt.UTC(),
	}
}

// Spoken returns the text handed to a speech backend.
func (m Message) Spoken(readUsername bool) string {
	if readUsername {
		return m.Username + " says: " + m.Message
	}
	return m.Message
}

// Display returns the "now speaking" line shown on the dashboard.
func (m Message) Display() string {
	return m.Username + ": " + m.Message
}
