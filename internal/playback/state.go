package playback

import (
	"sync"

	"github.com/john/chatvoice/internal/message"
)

// NoneSpeaking is the "now speaking" text while idle
const NoneSpeaking = "None"

// State records the single utterance in flight. Only the scheduler writes it.
type State struct {
	mu       sync.RWMutex
	speaking bool
	current  message.Message
}

func (s *State) begin(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = true
	s.current = msg
}

func (s *State) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.current = message.Message{}
}

// Speaking reports whether an utterance is in flight
func (s *State) Speaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaking
}

// Current returns the message being spoken
func (s *State) Current() (message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.speaking
}

// NowSpeaking returns "username: message", or NoneSpeaking while idle
func (s *State) NowSpeaking() string {
	msg, ok := s.Current()
	if !ok {
		return NoneSpeaking
	}
	return msg.Display()
}
