// Package pipeline wires sources, the keyword filter, the speech queue and
// the playback scheduler into one session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/john/chatvoice/internal/chatlog"
	"github.com/john/chatvoice/internal/filter"
	"github.com/john/chatvoice/internal/kick"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/playback"
	"github.com/john/chatvoice/internal/queue"
	"github.com/john/chatvoice/internal/source"
	"github.com/john/chatvoice/internal/speech"
	"github.com/john/chatvoice/internal/timer"
	"github.com/john/chatvoice/internal/twitch"
)

const (
	// TestMessage is spoken by the "test TTS" control
	TestMessage = "This is a chatvoice TTS test."
	// RemoteTestMessage is spoken by the remote voice check
	RemoteTestMessage = "This is a Speechify test from chatvoice."
	// AudioEnabledAnnouncement is spoken once audio is unlocked
	AudioEnabledAnnouncement = "Audio enabled."
	// SystemUsername is the author of messages the session creates itself
	SystemUsername = "System"

	sourceKick   = "kick"
	sourceTwitch = "twitch"
)

var (
	ErrAudioDisabled   = errors.New("audio is not enabled")
	ErrInvalidSettings = errors.New("invalid playback settings")
	ErrTwitchChannel   = errors.New("please enter a Twitch channel")
	ErrTwitchToken     = errors.New("please enter your OAuth token")
	ErrKickChannel     = errors.New("please enter a Kick channel or chatroom id")
)

// Engine selects the primary speech backend
type Engine string

const (
	EngineLocal  Engine = "local"
	EngineRemote Engine = "remote"
)

// Settings are the user-editable playback and voice settings
type Settings struct {
	Playing       bool    `json:"playing"`
	Muted         bool    `json:"muted"`
	AudioEnabled  bool    `json:"audioEnabled"`
	ReadUsername  bool    `json:"readUsername"`
	Engine        Engine  `json:"engine"`
	Volume        float64 `json:"volume"`
	Rate          float64 `json:"rate"`
	Pitch         float64 `json:"pitch"`
	KickVoice     string  `json:"kickVoice"`
	TwitchVoice   string  `json:"twitchVoice"`
	TimerVoice    string  `json:"timerVoice"`
	RemoteVoiceID string  `json:"remoteVoiceId"`
}

// Validate checks engine and value ranges
func (s Settings) Validate() error {
	switch s.Engine {
	case EngineLocal, EngineRemote:
	default:
		return fmt.Errorf("%w: engine must be local or remote", ErrInvalidSettings)
	}
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("%w: volume must be between 0 and 1", ErrInvalidSettings)
	}
	if s.Rate < 0.1 || s.Rate > 10 {
		return fmt.Errorf("%w: rate must be between 0.1 and 10", ErrInvalidSettings)
	}
	if s.Pitch < 0 || s.Pitch > 2 {
		return fmt.Errorf("%w: pitch must be between 0 and 2", ErrInvalidSettings)
	}
	return nil
}

// KickSettings describe the Kick connection
type KickSettings struct {
	Enabled    bool   `json:"enabled"`
	Channel    string `json:"channel"`
	ChatroomID int    `json:"chatroomId,omitempty"`
}

// TwitchSettings describe the Twitch connection
type TwitchSettings struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
	Token   string `json:"-"`
}

// Options configures a session
type Options struct {
	Settings Settings
	Kick     KickSettings
	Twitch   TwitchSettings

	Local  *speech.Local
	Remote *speech.Remote

	BufferSize    int
	SchedulerTick time.Duration
	TimerTick     time.Duration

	// Transport overrides, used by tests and self-hosted relays
	KickAPIBase        string
	KickWebSocketURL   string
	TwitchWebSocketURL string
	Backoff            source.Backoff
}

// Status is a point-in-time view of the session
type Status struct {
	QueueLength   int                        `json:"queueLength"`
	Speaking      bool                       `json:"speaking"`
	NowSpeaking   string                     `json:"nowSpeaking"`
	ChatLogLength int                        `json:"chatLogLength"`
	Connections   map[string]source.Snapshot `json:"connections"`
	Backend       string                     `json:"backend"`
	RemoteKeySet  bool                       `json:"remoteKeySet"`
}

// Session is the single context object the host, the API and the scheduler
// share. Producers hand messages to the session; only the scheduler pops the
// queue.
type Session struct {
	opts Options

	mu       sync.RWMutex
	settings Settings
	kick     KickSettings
	twitch   TwitchSettings
	sources  *source.Group

	messages  chan message.Message
	log       *chatlog.Log
	queue     *queue.Queue
	filter    *filter.RuleSet
	timers    *timer.Emitter
	scheduler *playback.Scheduler
}

// New creates a session. Call Start to run it.
func New(opts Options) (*Session, error) {
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Local == nil {
		return nil, errors.New("local speech backend is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}

	s := &Session{
		opts:     opts,
		settings: opts.Settings,
		kick:     opts.Kick,
		twitch:   opts.Twitch,
		messages: make(chan message.Message, opts.BufferSize),
		log:      chatlog.New(),
		queue:    queue.New(),
		filter:   filter.NewRuleSet(),
		timers:   timer.NewEmitter(opts.TimerTick),
	}
	s.scheduler = playback.NewScheduler(s.queue, s, opts.Local, opts.SchedulerTick)
	s.selectBackend(opts.Settings.Engine)
	return s, nil
}

// Filter returns the keyword rule set
func (s *Session) Filter() *filter.RuleSet { return s.filter }

// Timers returns the timer emitter
func (s *Session) Timers() *timer.Emitter { return s.timers }

// ChatLog returns the chat log
func (s *Session) ChatLog() *chatlog.Log { return s.log }

// Queue returns the speech queue
func (s *Session) Queue() *queue.Queue { return s.queue }

// Scheduler returns the playback scheduler
func (s *Session) Scheduler() *playback.Scheduler { return s.scheduler }

// Local returns the local speech backend
func (s *Session) Local() *speech.Local { return s.opts.Local }

// Remote returns the remote speech backend, which may be nil
func (s *Session) Remote() *speech.Remote { return s.opts.Remote }

// Messages returns the producer side of the pipeline
func (s *Session) Messages() chan<- message.Message { return s.messages }

// Playback implements playback.Settings
func (s *Session) Playback() playback.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.settings
	return playback.Config{
		Playing:       st.Playing,
		Muted:         st.Muted,
		AudioEnabled:  st.AudioEnabled,
		ReadUsername:  st.ReadUsername,
		Volume:        st.Volume,
		Rate:          st.Rate,
		Pitch:         st.Pitch,
		RemoteVoiceID: st.RemoteVoiceID,
		Voices: map[message.Platform]string{
			message.PlatformKick:   st.KickVoice,
			message.PlatformTwitch: st.TwitchVoice,
			message.PlatformTimer:  st.TimerVoice,
		},
	}
}

// Settings returns the current settings
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings applies fn to a copy of the settings and stores the result
// when it validates. An invalid update leaves the settings unchanged.
func (s *Session) UpdateSettings(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	next := s.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return s.Settings(), err
	}
	engineChanged := next.Engine != s.settings.Engine
	s.settings = next
	if engineChanged {
		s.selectBackend(next.Engine)
	}
	s.mu.Unlock()

	if engineChanged {
		log.Printf("Speech engine set to %s", next.Engine)
	}
	return next, nil
}

func (s *Session) selectBackend(engine Engine) {
	if engine == EngineRemote && s.opts.Remote != nil {
		s.scheduler.SetBackend(s.opts.Remote)
		return
	}
	s.scheduler.SetBackend(s.opts.Local)
}

// SetRemoteAPIKey replaces the remote service credential
func (s *Session) SetRemoteAPIKey(key string) {
	if s.opts.Remote != nil {
		s.opts.Remote.SetAPIKey(strings.TrimSpace(key))
	}
}

// EnableAudio unlocks playback and announces it on the local backend
func (s *Session) EnableAudio() {
	s.mu.Lock()
	s.settings.AudioEnabled = true
	s.mu.Unlock()

	if !s.scheduler.Announce(AudioEnabledAnnouncement) {
		log.Println("Audio enabled announcement already pending")
	}
}

// TestSpeech enqueues the System test message
func (s *Session) TestSpeech() (message.Message, error) {
	if !s.Settings().AudioEnabled {
		return message.Message{}, ErrAudioDisabled
	}
	msg := message.New(message.PlatformTimer, "", SystemUsername, TestMessage, time.Now())
	s.Ingest(msg)
	return msg, nil
}

// TestRemoteSpeech speaks RemoteTestMessage on the remote backend only and
// returns its result, so bad credentials or voice ids surface to the caller.
// It waits for the utterance in flight and requires a running session.
func (s *Session) TestRemoteSpeech(ctx context.Context) error {
	if !s.Settings().AudioEnabled {
		return ErrAudioDisabled
	}
	if s.opts.Remote == nil {
		return speech.ErrMissingCredentials
	}
	return s.scheduler.SpeakOn(ctx, s.opts.Remote, RemoteTestMessage)
}

// Ingest records msg in the chat log and, when the keyword filter admits it,
// appends it to the speech queue. It reports whether msg was queued.
func (s *Session) Ingest(msg message.Message) bool {
	s.log.Append(msg)
	if !s.filter.Admits(msg) {
		return false
	}
	return s.queue.Push(msg)
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	st := Status{
		QueueLength:   s.queue.Len(),
		Speaking:      s.scheduler.State().Speaking(),
		NowSpeaking:   s.scheduler.State().NowSpeaking(),
		ChatLogLength: s.log.Len(),
		Connections:   map[string]source.Snapshot{},
	}
	if b := s.scheduler.Backend(); b != nil {
		st.Backend = b.Name()
	}
	if s.opts.Remote != nil {
		st.RemoteKeySet = s.opts.Remote.HasAPIKey()
	}

	s.mu.RLock()
	sources := s.sources
	s.mu.RUnlock()
	if sources != nil {
		st.Connections = sources.Statuses()
	}
	for _, name := range []string{sourceKick, sourceTwitch} {
		if _, ok := st.Connections[name]; !ok {
			st.Connections[name] = source.NewStatus().Snapshot()
		}
	}
	return st
}

// KickSettings returns the Kick connection settings
func (s *Session) KickSettings() KickSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kick
}

// TwitchSettings returns the Twitch connection settings
func (s *Session) TwitchSettings() TwitchSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.twitch
}

// ConfigureKick validates ks and restarts the Kick source with it
func (s *Session) ConfigureKick(ks KickSettings) error {
	ks.Channel = strings.TrimSpace(ks.Channel)
	if ks.Enabled && ks.Channel == "" && ks.ChatroomID == 0 {
		return ErrKickChannel
	}

	s.mu.Lock()
	s.kick = ks
	sources := s.sources
	s.mu.Unlock()

	if sources != nil {
		s.applyKick(sources, ks)
	}
	return nil
}

// ConfigureTwitch validates ts and restarts the Twitch source with it
func (s *Session) ConfigureTwitch(ts TwitchSettings) error {
	ts.Channel = strings.TrimSpace(ts.Channel)
	ts.Token = strings.TrimSpace(ts.Token)
	if ts.Enabled {
		if ts.Channel == "" {
			return ErrTwitchChannel
		}
		if ts.Token == "" {
			return ErrTwitchToken
		}
	}

	s.mu.Lock()
	s.twitch = ts
	sources := s.sources
	s.mu.Unlock()

	if sources != nil {
		s.applyTwitch(sources, ts)
	}
	return nil
}

func (s *Session) applyKick(sources *source.Group, ks KickSettings) {
	if !ks.Enabled {
		sources.Stop(sourceKick)
		return
	}
	sources.Run(sourceKick, kick.New(kick.Options{
		Channel:      ks.Channel,
		ChatroomID:   ks.ChatroomID,
		APIBase:      s.opts.KickAPIBase,
		WebSocketURL: s.opts.KickWebSocketURL,
		Backoff:      s.opts.Backoff,
	}))
}

func (s *Session) applyTwitch(sources *source.Group, ts TwitchSettings) {
	if !ts.Enabled {
		sources.Stop(sourceTwitch)
		return
	}
	sources.Run(sourceTwitch, twitch.New(twitch.Options{
		Channel:      ts.Channel,
		OAuth:        ts.Token,
		WebSocketURL: s.opts.TwitchWebSocketURL,
		Backoff:      s.opts.Backoff,
	}))
}

// Start runs the sources, the timer emitter, the scheduler and the consumer
// until ctx is cancelled
func (s *Session) Start(ctx context.Context) error {
	sources := source.NewGroup(ctx, s.messages)

	s.mu.Lock()
	if s.sources != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.sources = sources
	ks, ts := s.kick, s.twitch
	s.mu.Unlock()

	s.applyKick(sources, ks)
	s.applyTwitch(sources, ts)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.timers.Start(ctx, s.messages); err != nil && err != context.Canceled {
			log.Printf("Timer emitter error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Playback scheduler error: %v", err)
		}
	}()

	log.Println("Pipeline started")
	for {
		select {
		case msg := <-s.messages:
			s.Ingest(msg)

		case <-ctx.Done():
			log.Println("Pipeline shutting down...")
			sources.Wait()
			wg.Wait()
			return ctx.Err()
		}
	}
}
