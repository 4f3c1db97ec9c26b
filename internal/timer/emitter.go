// Package timer emits synthetic chat messages on user-defined intervals.
package timer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/john/chatvoice/internal/message"
)

// MaxRules caps the number of timer rules
const MaxRules = 15

// MaxIntervalSeconds is the longest accepted interval, one week
const MaxIntervalSeconds = 7 * 24 * 60 * 60

// Username is the sender name on every timer message
const Username = "Timer"

// DefaultTick is how often rules are evaluated
const DefaultTick = 500 * time.Millisecond

var (
	ErrTimerLimit        = errors.New("you already have 15 timers, delete one to add another")
	ErrEmptyTimerMessage = errors.New("please enter a timer message")
	ErrInvalidInterval   = errors.New("interval must be between 1 second and 1 week")
	ErrTimerNotFound     = errors.New("timer not found")
)

// Rule is a periodic message. A zero LastFiredAt means it has never fired.
type Rule struct {
	ID          string        `json:"id"`
	Message     string        `json:"message"`
	Interval    time.Duration `json:"interval"`
	Enabled     bool          `json:"enabled"`
	LastFiredAt time.Time     `json:"last_fired_at"`
}

// Due reports whether the rule should fire at now
func (r Rule) Due(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	return r.LastFiredAt.IsZero() || now.Sub(r.LastFiredAt) >= r.Interval
}

// Emitter owns the timer rules and fires them on a fixed tick
type Emitter struct {
	mu    sync.Mutex
	rules []Rule
	tick  time.Duration
	now   func() time.Time
}

// NewEmitter creates an emitter. A non-positive tick uses DefaultTick.
func NewEmitter(tick time.Duration) *Emitter {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Emitter{tick: tick, now: time.Now}
}

// Add creates an enabled rule that fires every seconds seconds
func (e *Emitter) Add(text string, seconds int) (Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rules) >= MaxRules {
		return Rule{}, ErrTimerLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Rule{}, ErrEmptyTimerMessage
	}
	if seconds <= 0 || seconds > MaxIntervalSeconds {
		return Rule{}, ErrInvalidInterval
	}

	rule := Rule{
		ID:       "timer-" + uuid.NewString(),
		Message:  text,
		Interval: time.Duration(seconds) * time.Second,
		Enabled:  true,
	}
	e.rules = append(e.rules, rule)
	return rule, nil
}

// Remove deletes a rule
func (e *Emitter) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return ErrTimerNotFound
}

// SetEnabled pauses or resumes a rule
func (e *Emitter) SetEnabled(id string, enabled bool) (Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return e.rules[i], nil
		}
	}
	return Rule{}, ErrTimerNotFound
}

// Rules returns a copy of the rules in insertion order
func (e *Emitter) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Tick fires every due rule in list order and records the fire time
func (e *Emitter) Tick(now time.Time) []message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []message.Message
	for i := range e.rules {
		if !e.rules[i].Due(now) {
			continue
		}
		e.rules[i].LastFiredAt = now
		fired = append(fired, newTimerMessage(e.rules[i].Message, now))
	}
	return fired
}

// Fire builds a one-off message for a rule without touching its schedule
func (e *Emitter) Fire(id string) (message.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == id {
			return newTimerMessage(r.Message, e.now()), nil
		}
	}
	return message.Message{}, ErrTimerNotFound
}

// Start evaluates rules every tick until ctx is cancelled
func (e *Emitter) Start(ctx context.Context, messageChan chan<- message.Message) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, msg := range e.Tick(e.now()) {
				select {
				case messageChan <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func newTimerMessage(text string, now time.Time) message.Message {
	return message.New(message.PlatformTimer, "", Username, text, now)
}
