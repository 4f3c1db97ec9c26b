package twitch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"github.com/gorilla/websocket"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/source"
)

// DefaultWebSocketURL is Twitch's IRC-over-websocket endpoint
const DefaultWebSocketURL = "wss://irc-ws.chat.twitch.tv:443"

const pongLine = "PONG :tmi.twitch.tv"

// DefaultReadTimeout drops a silent connection. Twitch sends PING about every
// five minutes.
const DefaultReadTimeout = 6 * time.Minute

// Options configures a Twitch connector
type Options struct {
	Channel      string
	OAuth        string        // with or without the "oauth:" prefix
	WebSocketURL string        // defaults to DefaultWebSocketURL
	ReadTimeout  time.Duration // defaults to DefaultReadTimeout
	Backoff      source.Backoff
}

// Connector manages a Twitch chat connection
type Connector struct {
	opts   Options
	dialer *websocket.Dialer
	status *source.Status
	now    func() time.Time
}

// New creates a new Twitch connector
func New(opts Options) *Connector {
	if opts.WebSocketURL == "" {
		opts.WebSocketURL = DefaultWebSocketURL
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Backoff == (source.Backoff{}) {
		opts.Backoff = source.DefaultBackoff
	}
	opts.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.Channel), "#"))
	return &Connector{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		status: source.NewStatus(),
		now:    time.Now,
	}
}

// Status returns the live connection status
func (c *Connector) Status() *source.Status {
	return c.status
}

// Start begins listening to Twitch chat. It blocks until ctx is cancelled,
// reconnecting with backoff whenever the connection drops.
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	log.Printf("Monitoring Twitch channel: %s", c.opts.Channel)
	return source.Supervise(ctx, "Twitch IRC", c.status, c.opts.Backoff, func(ctx context.Context) error {
		return c.connect(ctx, messageChan)
	})
}

// oauthToken adds the "oauth:" prefix the IRC PASS command expects
func oauthToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func (c *Connector) connect(ctx context.Context, messageChan chan<- message.Message) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial Twitch IRC: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	handshake := []string{
		"PASS " + oauthToken(c.opts.OAuth),
		"NICK " + c.opts.Channel,
		"JOIN #" + c.opts.Channel,
	}
	for _, line := range handshake {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("send handshake: %w", err)
		}
	}
	c.status.Set(source.Subscribed)
	log.Printf("Joined Twitch channel: %s", c.opts.Channel)

	for {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read Twitch frame: %w", err)
		}

		// One frame may carry several CRLF-terminated IRC lines.
		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "PING") {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(pongLine)); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}
				continue
			}

			msg, reconnect, ok := c.parseLine(line)
			if reconnect {
				log.Println("Twitch requested reconnect")
				return nil
			}
			if !ok {
				continue
			}
			select {
			case messageChan <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseLine converts a PRIVMSG into a Message. Every other line is ignored,
// except RECONNECT which asks the caller to drop the connection.
func (c *Connector) parseLine(line string) (msg message.Message, reconnect bool, ok bool) {
	switch parsed := twitch.ParseMessage(line).(type) {
	case *twitch.PrivateMessage:
		username := parsed.User.DisplayName
		if username == "" {
			username = parsed.User.Name
		}
		return message.New(message.PlatformTwitch, parsed.ID, username, strings.TrimSpace(parsed.Message), c.now()), false, true
	case *twitch.ReconnectMessage:
		return message.Message{}, true, false
	case *twitch.NoticeMessage:
		log.Printf("Twitch notice: %s", parsed.Message)
	}
	return message.Message{}, false, false
}
