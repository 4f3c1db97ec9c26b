package overlay

import (
	"sync"

	"github.com/john/chatvoice/internal/message"
)

// Buffer keeps the most recent messages up to a fixed capacity
type Buffer struct {
	mu    sync.Mutex
	items []message.Message
	start int
	size  int
}

// NewBuffer creates a buffer holding at most capacity messages
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultMaxMessages
	}
	return &Buffer{items: make([]message.Message, capacity)}
}

// Add appends msg, evicting the oldest message when full
func (b *Buffer) Add(msg message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = msg
		b.size++
		return
	}
	b.items[b.start] = msg
	b.start = (b.start + 1) % len(b.items)
}

// Grow raises the capacity to at least capacity, keeping the buffered
// messages. It never shrinks.
func (b *Buffer) Grow(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if capacity <= len(b.items) {
		return
	}
	items := make([]message.Message, capacity)
	for i := 0; i < b.size; i++ {
		items[i] = b.items[(b.start+i)%len(b.items)]
	}
	b.items = items
	b.start = 0
}

func (b *Buffer) capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Len returns the number of buffered messages
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Last returns up to n of the newest messages, oldest first. n <= 0 returns
// everything.
func (b *Buffer) Last(n int) []message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]message.Message, n)
	skip := b.size - n
	for i := range out {
		out[i] = b.items[(b.start+skip+i)%len(b.items)]
	}
	return out
}
