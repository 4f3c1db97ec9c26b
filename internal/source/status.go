package source

import (
	"sync"
	"time"
)

// State is the lifecycle state of one platform connection
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

// String returns the status text shown on the dashboard
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting..."
	case Subscribed:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Status tracks the connection state of an adapter. Safe for concurrent use.
type Status struct {
	mu        sync.RWMutex
	state     State
	lastError string
	changedAt time.Time
}

// NewStatus creates a status in the Disconnected state
func NewStatus() *Status {
	return &Status{changedAt: time.Now()}
}

// Set moves the adapter to a new state
func (s *Status) Set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == Subscribed {
		s.lastError = ""
	}
	s.state = state
	s.changedAt = time.Now()
}

// SetError records the most recent connection failure
func (s *Status) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// State returns the current state
func (s *Status) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot is a read-only view of a Status
type Snapshot struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Snapshot returns the current status for display
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:     s.state.String(),
		Connected: s.state == Subscribed,
		LastError: s.lastError,
		ChangedAt: s.changedAt,
	}
}
