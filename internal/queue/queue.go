// Package queue holds admitted chat messages waiting to be spoken.
package queue

import (
	"sync"

	"github.com/john/chatvoice/internal/message"
)

// Queue is an unbounded FIFO of messages. Producers only Push; the playback
// scheduler is the only caller of Pop. A message ID enters at most once.
type Queue struct {
	mu    sync.Mutex
	items []message.Message
	seen  map[string]struct{}
}

// New creates an empty queue
func New() *Queue {
	return &Queue{seen: make(map[string]struct{})}
}

// Push appends msg. It returns false when a message with the same ID was
// already admitted during this session.
func (q *Queue) Push(msg message.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[msg.ID]; dup {
		return false
	}
	q.seen[msg.ID] = struct{}{}
	q.items = append(q.items, msg)
	return true
}

// Pop removes and returns the head of the queue
func (q *Queue) Pop() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return message.Message{}, false
	}
	head := q.items[0]
	q.items[0] = message.Message{}
	q.items = q.items[1:]
	return head, true
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued messages, head first
func (q *Queue) Snapshot() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]message.Message, len(q.items))
	copy(out, q.items)
	return out
}
