// Package chatlog keeps the in-memory record of every message seen this session.
package chatlog

import (
	"sync"

	"github.com/john/chatvoice/internal/message"
)

// Log is an append-only list of messages, regardless of filter outcome
type Log struct {
	mu       sync.RWMutex
	messages []message.Message
}

// New creates an empty log
func New() *Log {
	return &Log{}
}

// Append records msg
func (l *Log) Append(msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

// Len returns the number of recorded messages
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// All returns a copy of every recorded message, oldest first
func (l *Log) All() []message.Message {
	return l.Recent(0)
}

// Recent returns up to n of the newest messages, oldest first. n <= 0 returns all.
func (l *Log) Recent(n int) []message.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if n > 0 && n < len(l.messages) {
		start = len(l.messages) - n
	}
	out := make([]message.Message, len(l.messages)-start)
	copy(out, l.messages[start:])
	return out
}
