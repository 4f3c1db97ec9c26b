package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/source"
	"github.com/john/chatvoice/internal/speech"
)

type recordingEngine struct {
	mu     sync.Mutex
	spoken []string
}

func (e *recordingEngine) Voices(context.Context) ([]string, error) {
	return []string{"en-us"}, nil
}

func (e *recordingEngine) Speak(_ context.Context, text, _ string, _ speech.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spoken = append(e.spoken, text)
	return nil
}

func (e *recordingEngine) said() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.spoken))
	copy(out, e.spoken)
	return out
}

func defaultSettings() Settings {
	return Settings{
		Playing:      true,
		AudioEnabled: true,
		ReadUsername: true,
		Engine:       EngineLocal,
		Volume:       1,
		Rate:         1,
		Pitch:        1,
	}
}

func newSession(t *testing.T, mutate func(*Options)) (*Session, *recordingEngine) {
	t.Helper()
	engine := &recordingEngine{}
	opts := Options{
		Settings:      defaultSettings(),
		Local:         speech.NewLocal(engine),
		Remote:        speech.NewRemote("http://127.0.0.1:1", "", "", nil),
		SchedulerTick: time.Millisecond,
		Backoff:       source.Backoff{AfterClose: 10 * time.Millisecond, AfterFailure: 10 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, engine
}

func run(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEndToEndSpeaksChat(t *testing.T) {
	s, engine := newSession(t, nil)
	run(t, s)

	s.Messages() <- message.New(message.PlatformKick, "1", "bob", "hello world", time.Now())

	waitFor(t, "speech", func() bool { return len(engine.said()) == 1 })
	if got := engine.said()[0]; got != "bob says: hello world" {
		t.Fatalf("spoke %q", got)
	}
	if s.ChatLog().Len() != 1 {
		t.Fatalf("chat log length = %d", s.ChatLog().Len())
	}
}

func TestFilteredMessagesAreLoggedNotQueued(t *testing.T) {
	s, _ := newSession(t, func(o *Options) { o.Settings.Playing = false })
	if _, err := s.Filter().Add("!tts", false); err != nil {
		t.Fatal(err)
	}
	s.Filter().SetEnabled(true)

	if s.Ingest(message.New(message.PlatformKick, "1", "amy", "just chatting", time.Now())) {
		t.Fatal("unmatched message was queued")
	}
	if !s.Ingest(message.New(message.PlatformKick, "2", "amy", "!TTS read me", time.Now())) {
		t.Fatal("matched message was not queued")
	}
	if s.Ingest(message.New(message.PlatformKick, "2", "amy", "!TTS read me", time.Now())) {
		t.Fatal("duplicate id was queued twice")
	}

	if s.ChatLog().Len() != 3 || s.Queue().Len() != 1 {
		t.Fatalf("log=%d queue=%d", s.ChatLog().Len(), s.Queue().Len())
	}
}

func TestTestSpeechRequiresAudio(t *testing.T) {
	s, engine := newSession(t, func(o *Options) { o.Settings.AudioEnabled = false })

	if _, err := s.TestSpeech(); !errors.Is(err, ErrAudioDisabled) {
		t.Fatalf("expected ErrAudioDisabled, got %v", err)
	}
	if s.Queue().Len() != 0 {
		t.Fatal("rejected test message was queued")
	}

	run(t, s)
	s.EnableAudio()
	waitFor(t, "announcement", func() bool { return len(engine.said()) >= 1 })
	if got := engine.said()[0]; got != AudioEnabledAnnouncement {
		t.Fatalf("announcement = %q", got)
	}

	msg, err := s.TestSpeech()
	if err != nil {
		t.Fatalf("test speech: %v", err)
	}
	if msg.Username != SystemUsername || msg.Platform != message.PlatformTimer {
		t.Fatalf("unexpected test message %+v", msg)
	}
	waitFor(t, "test message", func() bool { return len(engine.said()) == 2 })
	if got := engine.said()[1]; got != "System says: "+TestMessage {
		t.Fatalf("test message spoken as %q", got)
	}
}

func TestRemoteSpeechFailureDoesNotFallBack(t *testing.T) {
	s, engine := newSession(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.mu.Lock()
	s.settings.AudioEnabled = false
	s.mu.Unlock()
	if err := s.TestRemoteSpeech(ctx); !errors.Is(err, ErrAudioDisabled) {
		t.Fatalf("expected ErrAudioDisabled, got %v", err)
	}

	run(t, s)
	s.mu.Lock()
	s.settings.AudioEnabled = true
	s.mu.Unlock()
	if err := s.TestRemoteSpeech(ctx); !errors.Is(err, speech.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}

	s.SetRemoteAPIKey("key")
	if _, err := s.UpdateSettings(func(st *Settings) { st.RemoteVoiceID = "george" }); err != nil {
		t.Fatal(err)
	}
	if err := s.TestRemoteSpeech(ctx); err == nil {
		t.Fatal("expected the unreachable service to fail")
	}
	if len(engine.said()) != 0 {
		t.Fatalf("remote check fell back to local: %v", engine.said())
	}
}

func TestUpdateSettings(t *testing.T) {
	s, _ := newSession(t, nil)

	if _, err := s.UpdateSettings(func(st *Settings) { st.Volume = 3 }); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if s.Settings().Volume != 1 {
		t.Fatal("invalid update changed settings")
	}

	if _, err := s.UpdateSettings(func(st *Settings) { st.Engine = EngineRemote; st.RemoteVoiceID = "george" }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.Scheduler().Backend().Name(); got != "remote" {
		t.Fatalf("backend = %q", got)
	}
	if cfg := s.Playback(); cfg.RemoteVoiceID != "george" {
		t.Fatalf("playback config not updated: %+v", cfg)
	}

	s.UpdateSettings(func(st *Settings) { st.Engine = EngineLocal })
	if got := s.Scheduler().Backend().Name(); got != "local" {
		t.Fatalf("backend = %q", got)
	}
}

func TestConfigureTwitchValidation(t *testing.T) {
	s, _ := newSession(t, nil)
	if err := s.ConfigureTwitch(TwitchSettings{Enabled: true, Channel: "chan"}); !errors.Is(err, ErrTwitchToken) {
		t.Fatalf("expected ErrTwitchToken, got %v", err)
	}
	if err := s.ConfigureTwitch(TwitchSettings{Enabled: true, Token: "tok"}); !errors.Is(err, ErrTwitchChannel) {
		t.Fatalf("expected ErrTwitchChannel, got %v", err)
	}
	if s.TwitchSettings().Enabled {
		t.Fatal("rejected settings were stored")
	}
	if err := s.ConfigureKick(KickSettings{Enabled: true}); !errors.Is(err, ErrKickChannel) {
		t.Fatalf("expected ErrKickChannel, got %v", err)
	}
}

func TestConfigureTwitchRestartsSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var nicks []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var nick string
		for i := 0; i < 3; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if line := string(data); strings.HasPrefix(line, "NICK ") {
				nick = strings.TrimPrefix(line, "NICK ")
			}
		}
		mu.Lock()
		nicks = append(nicks, nick)
		mu.Unlock()

		line := "@display-name=Bob;id=m-" + nick + " :bob!bob@bob.tmi.twitch.tv PRIVMSG #" + nick + " :hello from " + nick + "\r\n"
		conn.WriteMessage(websocket.TextMessage, []byte(line))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, engine := newSession(t, func(o *Options) {
		o.TwitchWebSocketURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	})
	run(t, s)

	if err := s.ConfigureTwitch(TwitchSettings{Enabled: true, Channel: "First", Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first channel", func() bool { return len(engine.said()) == 1 })

	if err := s.ConfigureTwitch(TwitchSettings{Enabled: true, Channel: "second", Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second channel", func() bool { return len(engine.said()) == 2 })

	said := engine.said()
	if said[0] != "Bob says: hello from first" || said[1] != "Bob says: hello from second" {
		t.Fatalf("unexpected speech %v", said)
	}
	if st := s.Status().Connections["twitch"]; st.State != "Connected" {
		t.Fatalf("twitch status = %+v", st)
	}

	if err := s.ConfigureTwitch(TwitchSettings{}); err != nil {
		t.Fatal(err)
	}
	if st := s.Status().Connections["twitch"]; st.Connected {
		t.Fatalf("disabled twitch still connected: %+v", st)
	}
}

func TestStatusDefaults(t *testing.T) {
	s, _ := newSession(t, nil)
	st := s.Status()
	if st.NowSpeaking != "None" || st.QueueLength != 0 || st.Backend != "local" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Connections["kick"].State != "Disconnected" || st.Connections["twitch"].State != "Disconnected" {
		t.Fatalf("unexpected connections %+v", st.Connections)
	}
}
