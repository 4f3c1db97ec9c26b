package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/source"
)

func TestFromQueryDefaults(t *testing.T) {
	cfg := FromQuery(url.Values{})
	if cfg.MaxMessages != 15 || !cfg.ShowBadges || cfg.FontSize != 18 || cfg.BgOpacity != 0.6 || cfg.MessageDuration != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	q, _ := url.ParseQuery("kick=Streamer&chatroomId=123&twitch=Other&token=abc&max=5&badges=0&size=24&bg=0.3&dur=10")
	cfg = FromQuery(q)
	want := Config{
		KickChannel:     "Streamer",
		KickChatroomID:  "123",
		TwitchChannel:   "Other",
		TwitchToken:     "abc",
		MaxMessages:     5,
		MessageDuration: 10,
		ShowBadges:      false,
		FontSize:        24,
		BgOpacity:       0.3,
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}

	for _, v := range []string{"true", "1", "yes", ""} {
		q := url.Values{"badges": {v}}
		if !FromQuery(q).ShowBadges {
			t.Errorf("badges=%q hid badges", v)
		}
	}

	q, _ = url.ParseQuery("max=abc&size=-2&bg=7")
	cfg = FromQuery(q)
	if cfg.MaxMessages != 15 || cfg.FontSize != 18 || cfg.BgOpacity != 0.6 {
		t.Fatalf("invalid values did not fall back: %+v", cfg)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	cfg := Config{KickChannel: "k", TwitchChannel: "t", TwitchToken: "x", MaxMessages: 7, FontSize: 20, BgOpacity: 0.4, MessageDuration: 3}
	if got := FromQuery(cfg.Query()); got != cfg {
		t.Fatalf("got %+v, want %+v", got, cfg)
	}
}

func TestSourceKey(t *testing.T) {
	a := Config{KickChannel: "Streamer", MaxMessages: 5}
	b := Config{KickChannel: "streamer", MaxMessages: 20, FontSize: 30}
	if a.SourceKey() != b.SourceKey() {
		t.Fatal("display settings changed the source key")
	}
	c := Config{KickChannel: "streamer", TwitchChannel: "other", TwitchToken: "tok"}
	if a.SourceKey() == c.SourceKey() {
		t.Fatal("different sources share a key")
	}
	if strings.Contains(redact(c.SourceKey()), "tok") {
		t.Fatal("redacted key still contains the token")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KickChatroomID = "abc"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConf) {
		t.Fatalf("expected ErrInvalidConf, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.BgOpacity = 2
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConf) {
		t.Fatalf("expected ErrInvalidConf, got %v", err)
	}
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		b.Add(message.New(message.PlatformKick, text, "u", text, time.Now()))
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d", b.Len())
	}
	got := b.Last(0)
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("unexpected contents %v", got)
	}
	if last := b.Last(2); len(last) != 2 || last[0].Message != "d" {
		t.Fatalf("unexpected tail %v", last)
	}
}

func TestBufferGrowKeepsOrder(t *testing.T) {
	b := NewBuffer(3)
	for _, text := range []string{"a", "b", "c", "d"} {
		b.Add(message.New(message.PlatformKick, text, "u", text, time.Now()))
	}
	b.Grow(5)
	b.Grow(2)
	if b.capacity() != 5 {
		t.Fatalf("capacity = %d", b.capacity())
	}
	for _, text := range []string{"e", "f", "g"} {
		b.Add(message.New(message.PlatformKick, text, "u", text, time.Now()))
	}
	got := b.Last(0)
	if len(got) != 5 || got[0].Message != "c" || got[4].Message != "g" {
		t.Fatalf("unexpected contents %v", got)
	}
}

func TestMemoryStoreRegeneratesOnCollision(t *testing.T) {
	s := NewMemoryStore()
	ids := []string{"aaaaaa", "aaaaaa", "bbbbbb"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := s.Create(context.Background(), Config{KickChannel: "one", MaxMessages: 15, FontSize: 18})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(context.Background(), Config{KickChannel: "two", MaxMessages: 15, FontSize: 18})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "aaaaaa" || second.ID != "bbbbbb" {
		t.Fatalf("ids = %q, %q", first.ID, second.ID)
	}

	got, err := s.Get(context.Background(), "bbbbbb")
	if err != nil || got.KickChannel != "two" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := s.Get(context.Background(), "zzzzzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewID(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := NewID()
		if len(id) != 6 || strings.Trim(id, idAlphabet) != "" {
			t.Fatalf("bad id %q", id)
		}
	}
}

// fakeS3 serves just enough of the S3 REST API for the store
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Options{
		Bucket:          "overlays",
		Region:          "us-east-1",
		Prefix:          "configs/",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	cfg := DefaultConfig()
	cfg.KickChatroomID = "42"
	saved, err := store.Create(context.Background(), cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fake.mu.Lock()
	_, written := fake.objects["/overlays/configs/"+saved.ID+".json"]
	fake.mu.Unlock()
	if !written {
		t.Fatalf("object %s not written", saved.ID)
	}

	got, err := store.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != saved.ID || got.KickChatroomID != "42" || !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("got %+v, want %+v", got, saved)
	}

	if _, err := store.Get(context.Background(), "nope00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3StoreFillsDefaults(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"/overlays/old123.json": []byte(`{"id":"old123","kickChannel":"legacy"}`),
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Options{
		Bucket: "overlays", Region: "us-east-1", AccessKeyID: "a", SecretAccessKey: "b", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(context.Background(), "old123")
	if err != nil {
		t.Fatal(err)
	}
	if got.KickChannel != "legacy" || got.MaxMessages != 15 || !got.ShowBadges ||
		got.FontSize != SavedFontSize || got.BgOpacity != SavedBgOpacity {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

// pusherServer accepts every connection, subscribes it and sends one chat
// message per connection
type pusherServer struct {
	mu          sync.Mutex
	connections int
	closed      int
}

func (p *pusherServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.connections++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.closed++
		p.mu.Unlock()
	}()

	conn.WriteJSON(map[string]any{"event": "pusher:connection_established", "data": `{"socket_id":"1.2"}`})
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"id": "m1", "content": "hello overlay", "sender": map[string]string{"username": "amy"}})
	conn.WriteJSON(map[string]any{"event": `App\Events\ChatMessageEvent`, "data": string(payload)})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *pusherServer) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connections, p.closed
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

func TestManagerSharesAndStopsInstances(t *testing.T) {
	pusher := &pusherServer{}
	srv := httptest.NewServer(pusher)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, ManagerOptions{
		KickWebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Backoff:          source.Backoff{AfterClose: time.Hour, AfterFailure: time.Hour},
	})

	cfg := DefaultConfig()
	cfg.KickChatroomID = "42"

	first, err := m.Join(cfg)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	select {
	case msg := <-first.C:
		if msg.Username != "amy" || msg.Message != "hello overlay" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	other := cfg
	other.FontSize = 40
	second, err := m.Join(other)
	if err != nil {
		t.Fatal(err)
	}
	if m.Instances() != 1 || m.Viewers(cfg) != 2 {
		t.Fatalf("instances=%d viewers=%d", m.Instances(), m.Viewers(cfg))
	}
	if len(second.Backlog) != 1 {
		t.Fatalf("late viewer backlog = %v", second.Backlog)
	}
	if conns, _ := pusher.counts(); conns != 1 {
		t.Fatalf("expected one upstream connection, got %d", conns)
	}

	first.Close()
	first.Close()
	if m.Instances() != 1 {
		t.Fatal("instance stopped while a viewer remained")
	}

	second.Close()
	if m.Instances() != 0 {
		t.Fatal("instance still running after last viewer left")
	}
	waitFor(t, "upstream close", func() bool { _, closed := pusher.counts(); return closed == 1 })

	if _, ok := <-second.C; ok {
		t.Fatal("viewer channel not closed")
	}
}

func TestManagerSizesHistoryForLargestViewer(t *testing.T) {
	pusher := &pusherServer{}
	srv := httptest.NewServer(pusher)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, ManagerOptions{
		History:          10,
		KickWebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Backoff:          source.Backoff{AfterClose: time.Hour, AfterFailure: time.Hour},
	})

	cfg := DefaultConfig()
	cfg.KickChatroomID = "42"
	cfg.MaxMessages = 5
	small, err := m.Join(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer small.Close()
	inst := small.instance
	if inst.buffer.capacity() != 10 {
		t.Fatalf("capacity = %d, want the configured history", inst.buffer.capacity())
	}

	cfg.MaxMessages = 50
	large, err := m.Join(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer large.Close()
	if inst.buffer.capacity() != 50 {
		t.Fatalf("capacity = %d, want the largest viewer max", inst.buffer.capacity())
	}

	cfg.MaxMessages = MaxHistory * 10
	huge, err := m.Join(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer huge.Close()
	if inst.buffer.capacity() != MaxHistory {
		t.Fatalf("capacity = %d, want MaxHistory", inst.buffer.capacity())
	}
}

func TestManagerRejectsEmptyConfig(t *testing.T) {
	m := NewManager(context.Background(), ManagerOptions{})
	if _, err := m.Join(DefaultConfig()); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.TwitchChannel = "no-token"
	if _, err := m.Join(cfg); !errors.Is(err, ErrNoSources) {
		t.Fatalf("twitch without token: expected ErrNoSources, got %v", err)
	}
}

func TestRenderPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageDuration = 12
	var buf bytes.Buffer
	if err := RenderPage(&buf, cfg, "/overlay/ws?id=abc123"); err != nil {
		t.Fatal(err)
	}
	page := buf.String()
	for _, want := range []string{`"maxMessages":15`, `"messageDuration":12`, `"showBadges":true`, `"feedUrl":"/overlay/ws?id=abc123"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %s", want)
		}
	}
}
