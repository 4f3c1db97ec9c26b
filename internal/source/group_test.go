package source

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/john/chatvoice/internal/message"
)

type blockingRunner struct {
	status  *Status
	started atomic.Int32
	stopped atomic.Int32
	text    string
}

func newBlockingRunner(text string) *blockingRunner {
	return &blockingRunner{status: NewStatus(), text: text}
}

func (r *blockingRunner) Status() *Status { return r.status }

func (r *blockingRunner) Start(ctx context.Context, out chan<- message.Message) error {
	r.started.Add(1)
	r.status.Set(Subscribed)
	defer r.stopped.Add(1)
	defer r.status.Set(Disconnected)

	select {
	case out <- message.New(message.PlatformKick, "", "bot", r.text, time.Now()):
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestGroupReplaceAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan message.Message, 4)
	g := NewGroup(ctx, out)

	first := newBlockingRunner("first")
	g.Run("kick", first)
	if msg := <-out; msg.Message != "first" {
		t.Fatalf("got %q", msg.Message)
	}

	second := newBlockingRunner("second")
	g.Run("kick", second)
	if first.stopped.Load() != 1 {
		t.Fatal("replaced runner was not stopped before the new one started")
	}
	if msg := <-out; msg.Message != "second" {
		t.Fatalf("got %q", msg.Message)
	}
	if g.Statuses()["kick"].State != "Connected" {
		t.Fatalf("unexpected status %+v", g.Statuses())
	}

	g.Stop("kick")
	if second.stopped.Load() != 1 {
		t.Fatal("stopped source still running")
	}
	if st := g.Statuses()["kick"]; st.Connected {
		t.Fatalf("stopped source still connected: %+v", st)
	}

	// Stopping twice or stopping an unknown name is a no-op.
	g.Stop("kick")
	g.Stop("twitch")
}

func TestGroupStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan message.Message, 4)
	g := NewGroup(ctx, out)

	r := newBlockingRunner("hi")
	g.Run("twitch", r)
	<-out
	cancel()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("group did not stop after cancel")
	}
	if r.stopped.Load() != 1 {
		t.Fatal("runner did not return")
	}
}

func TestGroupStopAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan message.Message, 4)
	g := NewGroup(ctx, out)

	kick, twitch := newBlockingRunner("k"), newBlockingRunner("t")
	g.Run("kick", kick)
	g.Run("twitch", twitch)
	<-out
	<-out

	g.StopAll()
	if kick.stopped.Load() != 1 || twitch.stopped.Load() != 1 {
		t.Fatal("StopAll returned before every source stopped")
	}
	for name, st := range g.Statuses() {
		if st.Connected {
			t.Fatalf("%s still connected after StopAll", name)
		}
	}
}
