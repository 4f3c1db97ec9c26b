package timer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/john/chatvoice/internal/message"
)

func TestTickBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	e := NewEmitter(0)
	r, err := e.Add("follow the stream", 60)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	e.rules[0].LastFiredAt = now.Add(-59999 * time.Millisecond)
	if fired := e.Tick(now); len(fired) != 0 {
		t.Fatal("rule fired one millisecond early")
	}

	e.rules[0].LastFiredAt = now.Add(-60000 * time.Millisecond)
	fired := e.Tick(now)
	if len(fired) != 1 {
		t.Fatalf("expected rule to fire at exactly the interval, got %d", len(fired))
	}
	m := fired[0]
	if m.Platform != message.PlatformTimer || m.Username != "Timer" || m.Message != r.Message {
		t.Fatalf("unexpected timer message %+v", m)
	}
	if got := e.Rules()[0].LastFiredAt; !got.Equal(now) {
		t.Fatalf("LastFiredAt = %v, want %v", got, now)
	}
}

func TestNeverFiredIsDue(t *testing.T) {
	e := NewEmitter(0)
	e.Add("hello", 3600)
	if fired := e.Tick(time.Now()); len(fired) != 1 {
		t.Fatalf("never-fired rule should be due, got %d", len(fired))
	}
}

func TestTickOrderAndDisabled(t *testing.T) {
	now := time.Now()
	e := NewEmitter(0)
	e.Add("one", 10)
	second, _ := e.Add("two", 10)
	e.Add("three", 10)

	if _, err := e.SetEnabled(second.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	fired := e.Tick(now)
	if len(fired) != 2 || fired[0].Message != "one" || fired[1].Message != "three" {
		t.Fatalf("unexpected fire order %+v", fired)
	}
	for _, r := range e.Rules() {
		if r.ID == second.ID && !r.LastFiredAt.IsZero() {
			t.Fatal("disabled rule updated LastFiredAt")
		}
	}
}

func TestAddValidation(t *testing.T) {
	e := NewEmitter(0)
	if _, err := e.Add("  ", 30); !errors.Is(err, ErrEmptyTimerMessage) {
		t.Fatalf("expected ErrEmptyTimerMessage, got %v", err)
	}
	if _, err := e.Add("msg", 0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := e.Add("msg", -5); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	// Large enough to overflow time.Duration if it were accepted
	if _, err := e.Add("msg", 1<<31-1); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := e.Add("msg", MaxIntervalSeconds+1); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if len(e.Rules()) != 0 {
		t.Fatal("rejected adds changed the rule list")
	}
}

func TestLongestIntervalStaysPositive(t *testing.T) {
	e := NewEmitter(0)
	rule, err := e.Add("weekly", MaxIntervalSeconds)
	if err != nil {
		t.Fatal(err)
	}
	if rule.Interval != 7*24*time.Hour {
		t.Fatalf("unexpected interval %v", rule.Interval)
	}

	now := time.Now()
	if got := e.Tick(now); len(got) != 1 {
		t.Fatalf("expected the first tick to fire, got %d", len(got))
	}
	if got := e.Tick(now.Add(500 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("rule fired again after 500ms: %+v", got)
	}
}

func TestRuleCap(t *testing.T) {
	e := NewEmitter(0)
	for i := 0; i < MaxRules; i++ {
		if _, err := e.Add("msg", 30); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := e.Add("one too many", 30); !errors.Is(err, ErrTimerLimit) {
		t.Fatalf("expected ErrTimerLimit, got %v", err)
	}
	if n := len(e.Rules()); n != MaxRules {
		t.Fatalf("expected %d rules, got %d", MaxRules, n)
	}
}

func TestRemoveAndFire(t *testing.T) {
	e := NewEmitter(0)
	r, _ := e.Add("manual", 30)

	m, err := e.Fire(r.ID)
	if err != nil || m.Message != "manual" {
		t.Fatalf("fire: %v %+v", err, m)
	}
	if !e.Rules()[0].LastFiredAt.IsZero() {
		t.Fatal("Fire must not touch the schedule")
	}

	if err := e.Remove(r.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := e.Remove(r.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("expected ErrTimerNotFound, got %v", err)
	}
	if _, err := e.Fire(r.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("expected ErrTimerNotFound, got %v", err)
	}
}

func TestStartEmits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEmitter(5 * time.Millisecond)
	e.Add("tick tock", 3600)

	out := make(chan message.Message, 4)
	go e.Start(ctx, out)

	select {
	case m := <-out:
		if m.Message != "tick tock" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	select {
	case m := <-out:
		t.Fatalf("rule fired twice within its interval: %+v", m)
	case <-time.After(30 * time.Millisecond):
	}
}
