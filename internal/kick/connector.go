package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/source"
)

// DefaultWebSocketURL is the pusher relay Kick chat is published on
const DefaultWebSocketURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0-rc2&flash=false"

// DefaultReadTimeout drops a silent connection. Pusher pings after 120s of
// inactivity, so a healthy relay always sends something sooner.
const DefaultReadTimeout = 150 * time.Second

const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventChatMessage           = `App\Events\ChatMessageEvent`
)

// Options configures a Kick connector
type Options struct {
	Channel      string        // channel slug, resolved on every connect unless ChatroomID is set
	ChatroomID   int           // 0 means not pre-configured, needs resolution
	APIBase      string        // defaults to DefaultAPIBase
	WebSocketURL string        // defaults to DefaultWebSocketURL
	HTTPClient   *http.Client  // used for the channel lookup
	ReadTimeout  time.Duration // defaults to DefaultReadTimeout
	Backoff      source.Backoff
}

// Connector manages a Kick chat connection
type Connector struct {
	opts     Options
	resolver *Resolver
	dialer   *websocket.Dialer
	status   *source.Status
	now      func() time.Time
}

// pusherFrame is the envelope of every relay frame. Data is either a JSON
// object or a string holding encoded JSON.
type pusherFrame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type chatPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  *struct {
		Username string `json:"username"`
	} `json:"sender"`
}

// New creates a new Kick connector
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
	return &Connector{
		opts:     opts,
		resolver: NewResolver(opts.APIBase, opts.HTTPClient),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		status:   source.NewStatus(),
		now:      time.Now,
	}
}

// Status returns the live connection status
func (c *Connector) Status() *source.Status {
	return c.status
}

// Start begins listening to Kick chat. It blocks until ctx is cancelled,
// reconnecting with backoff whenever the connection drops.
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	log.Printf("Monitoring Kick channel: %s", c.label())
	return source.Supervise(ctx, "Kick", c.status, c.opts.Backoff, func(ctx context.Context) error {
		return c.connect(ctx, messageChan)
	})
}

func (c *Connector) label() string {
	if c.opts.Channel != "" {
		return c.opts.Channel
	}
	return fmt.Sprintf("chatroom %d", c.opts.ChatroomID)
}

// connect runs one resolve, dial, subscribe and read cycle
func (c *Connector) connect(ctx context.Context, messageChan chan<- message.Message) error {
	chatroomID := c.opts.ChatroomID
	if chatroomID <= 0 {
		id, slug, err := c.resolver.Resolve(ctx, c.opts.Channel)
		if err != nil {
			return source.Bootstrap(fmt.Errorf("resolve Kick channel %q: %w", c.opts.Channel, err))
		}
		chatroomID = id
		log.Printf("Resolved Kick channel: %s -> ID %d", slug, chatroomID)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial Kick relay: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the adapter is disabled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subscribed := false
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
			return fmt.Errorf("read Kick frame: %w", err)
		}

		var frame pusherFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case eventConnectionEstablished:
			sub := outboundFrame{
				Event: eventSubscribe,
				Data:  map[string]string{"channel": fmt.Sprintf("chatrooms.%d.v2", chatroomID)},
			}
			if err := conn.WriteJSON(sub); err != nil {
				return fmt.Errorf("send subscribe: %w", err)
			}
			subscribed = true
			c.status.Set(source.Subscribed)
			log.Printf("Joined Kick chatroom %d", chatroomID)

		case eventPing:
			if err := conn.WriteJSON(outboundFrame{Event: eventPong, Data: map[string]string{}}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		case eventChatMessage:
			if !subscribed {
				continue
			}
			msg, ok := parseChatMessage(frame.Data, c.now())
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

// parseChatMessage decodes the inner chat payload. Missing fields fall back
// to defaults; undecodable payloads are dropped.
func parseChatMessage(raw json.RawMessage, receivedAt time.Time) (message.Message, bool) {
	if len(raw) == 0 {
		return message.Message{}, false
	}

	inner := []byte(raw)
	if strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return message.Message{}, false
		}
		inner = []byte(encoded)
	}

	var payload chatPayload
	if err := json.Unmarshal(inner, &payload); err != nil {
		return message.Message{}, false
	}

	username := ""
	if payload.Sender != nil {
		username = payload.Sender.Username
	}
	return message.New(message.PlatformKick, payload.ID, username, payload.Content, receivedAt), true
}
