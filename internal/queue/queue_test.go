package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/john/chatvoice/internal/message"
)

func TestFIFOAcrossProducers(t *testing.T) {
	q := New()
	now := time.Now()

	// Interleave three producers; admission order is the push order.
	var want []string
	for i := 0; i < 30; i++ {
		platform := []message.Platform{message.PlatformKick, message.PlatformTwitch, message.PlatformTimer}[i%3]
		m := message.New(platform, fmt.Sprint(i), "u", fmt.Sprint(i), now)
		if !q.Push(m) {
			t.Fatalf("push %d rejected", i)
		}
		want = append(want, m.ID)
	}

	if q.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", q.Len(), len(want))
	}
	for i, id := range want {
		m, ok := q.Pop()
		if !ok || m.ID != id {
			t.Fatalf("pop %d = %q (ok=%v), want %q", i, m.ID, ok, id)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop on empty queue succeeded")
	}
}

func TestPushRejectsDuplicateID(t *testing.T) {
	q := New()
	m := message.New(message.PlatformKick, "same", "u", "x", time.Now())
	q.Push(m)
	q.Pop()
	if q.Push(m) {
		t.Fatal("message admitted twice")
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestConcurrentPushKeepsPerProducerOrder(t *testing.T) {
	q := New()
	now := time.Now()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(message.New(message.PlatformKick, fmt.Sprintf("%d-%d", p, i), fmt.Sprint(p), fmt.Sprint(i), now))
			}
		}(p)
	}
	wg.Wait()

	next := make(map[string]int)
	for _, m := range q.Snapshot() {
		want := fmt.Sprint(next[m.Username])
		if m.Message != want {
			t.Fatalf("producer %s out of order: got %s, want %s", m.Username, m.Message, want)
		}
		next[m.Username]++
	}
	if q.Len() != 400 {
		t.Fatalf("Len = %d, want 400", q.Len())
	}
}
