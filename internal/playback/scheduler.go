// Package playback drains the speech queue one utterance at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/queue"
	"github.com/john/chatvoice/internal/speech"
)

// DefaultTick is how often the scheduler re-checks whether it can speak
const DefaultTick = 100 * time.Millisecond

// Config is a snapshot of the user-editable playback settings
type Config struct {
	Playing      bool
	Muted        bool
	AudioEnabled bool
	ReadUsername bool

	Volume        float64
	Rate          float64
	Pitch         float64
	RemoteVoiceID string
	Voices        map[message.Platform]string // local voice name per platform
}

// gateOpen reports whether new utterances may start
func (c Config) gateOpen() bool {
	return c.Playing && !c.Muted && c.AudioEnabled
}

// Params builds backend parameters for a message from platform
func (c Config) Params(platform message.Platform) speech.Params {
	return speech.Params{
		VoiceID:   c.RemoteVoiceID,
		VoiceName: c.Voices[platform],
		Volume:    c.Volume,
		Rate:      c.Rate,
		Pitch:     c.Pitch,
	}
}

// Settings supplies the current playback configuration
type Settings interface {
	Playback() Config
}

// Scheduler pops the head of the queue when idle and speaks it through the
// active backend, falling back to the local backend once on failure. Only the
// scheduler pops the queue and sets or clears the speaking state.
type Scheduler struct {
	queue    *queue.Queue
	state    *State
	settings Settings
	fallback speech.Backend
	tick     time.Duration

	mu      sync.RWMutex
	primary speech.Backend

	requests chan request
	inflight sync.WaitGroup
}

// request is a system line for a specific backend, spoken ahead of the queue
type request struct {
	text    string
	backend speech.Backend
	done    chan error // nil when nobody waits for the result
}

func (r request) finish(err error) {
	if r.done != nil {
		r.done <- err
	}
}

// NewScheduler creates a scheduler. fallback is the local backend; it is also
// the initial primary backend.
func NewScheduler(q *queue.Queue, settings Settings, fallback speech.Backend, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		queue:    q,
		state:    &State{},
		settings: settings,
		fallback: fallback,
		primary:  fallback,
		tick:     tick,
		requests: make(chan request, 1),
	}
}

// State returns the observable playback state
func (s *Scheduler) State() *State {
	return s.state
}

// SetBackend selects the backend used for future utterances
func (s *Scheduler) SetBackend(b speech.Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = b
}

// Backend returns the active backend
func (s *Scheduler) Backend() speech.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// Announce asks the scheduler to speak a system line on the local backend at
// its next idle moment. It returns false if a system line is already pending.
func (s *Scheduler) Announce(text string) bool {
	select {
	case s.requests <- request{text: text, backend: s.fallback}:
		return true
	default:
		return false
	}
}

// SpeakOn speaks text on b at the scheduler's next idle moment, with no
// fallback, and returns the backend's result. The scheduler must be running.
func (s *Scheduler) SpeakOn(ctx context.Context, b speech.Backend, text string) error {
	req := request{text: text, backend: b, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the scheduler loop until ctx is cancelled, then waits for the
// utterance in flight to stop.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	log.Printf("Playback scheduler started (tick=%v)", s.tick)

	// A system line waits here while an utterance is in flight.
	var pending *request
	for {
		incoming := s.requests
		if pending != nil {
			incoming = nil
		}

		select {
		case <-ticker.C:
			if pending != nil {
				if s.startRequest(ctx, *pending) {
					pending = nil
				}
				continue
			}
			s.Tick(ctx)

		case req := <-incoming:
			if !s.startRequest(ctx, req) {
				pending = &req
			}

		case <-ctx.Done():
			log.Println("Playback scheduler shutting down...")
			if pending != nil {
				pending.finish(ctx.Err())
			}
			s.inflight.Wait()
			return ctx.Err()
		}
	}
}

// Tick starts the next utterance when every guard passes. It reports whether
// a message was popped.
func (s *Scheduler) Tick(ctx context.Context) bool {
	cfg := s.settings.Playback()
	if !cfg.gateOpen() || s.state.Speaking() {
		return false
	}

	msg, ok := s.queue.Pop()
	if !ok {
		return false
	}

	// The message is gone from the queue for good; it is never requeued.
	s.state.begin(msg)
	s.inflight.Add(1)
	go s.dispatch(ctx, msg, cfg)
	return true
}

// startRequest speaks a system line unless an utterance is in flight. It
// reports whether the request was consumed.
func (s *Scheduler) startRequest(ctx context.Context, req request) bool {
	if s.state.Speaking() {
		return false
	}
	if req.backend == nil {
		req.finish(errors.New("no speech backend configured"))
		return true
	}
	cfg := s.settings.Playback()
	msg := message.New(message.PlatformTimer, "", "System", req.text, time.Now())

	s.state.begin(msg)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.state.end()
		err := s.speak(ctx, req.backend, req.text, cfg.Params(msg.Platform))
		if err != nil {
			log.Printf("%s system line failed: %v", req.backend.Name(), err)
		}
		req.finish(err)
	}()
	return true
}

// dispatch speaks msg and always returns the state to idle, even when the
// fallback fails too.
func (s *Scheduler) dispatch(ctx context.Context, msg message.Message, cfg Config) {
	defer s.inflight.Done()
	defer s.state.end()

	text := msg.Spoken(cfg.ReadUsername)
	params := cfg.Params(msg.Platform)
	primary := s.Backend()
	if primary == nil {
		primary = s.fallback
	}
	if primary == nil {
		return
	}

	err := s.speak(ctx, primary, text, params)
	if err == nil {
		return
	}
	log.Printf("%s speech failed for %s: %v", primary.Name(), msg.ID, err)

	if s.fallback == nil || primary == s.fallback || ctx.Err() != nil {
		return
	}
	if latest := s.settings.Playback(); !latest.gateOpen() {
		log.Printf("Skipping fallback for %s: playback paused or muted", msg.ID)
		return
	}

	if err := s.speak(ctx, s.fallback, text, params); err != nil {
		log.Printf("%s fallback failed for %s: %v", s.fallback.Name(), msg.ID, err)
	}
}

// speak converts backend panics into errors
func (s *Scheduler) speak(ctx context.Context, b speech.Backend, text string, p speech.Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s backend panic: %v", b.Name(), r)
		}
	}()
	return b.Synthesize(ctx, text, p)
}
