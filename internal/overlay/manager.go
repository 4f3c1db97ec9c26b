package overlay

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/john/chatvoice/internal/kick"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/source"
	"github.com/john/chatvoice/internal/twitch"
)

const viewerBuffer = 32

// MaxHistory caps how many messages an instance keeps, whatever its viewers ask for
const MaxHistory = 1000

// ManagerOptions configures the connections overlay instances open
type ManagerOptions struct {
	History            int // minimum messages kept per instance
	KickAPIBase        string
	KickWebSocketURL   string
	TwitchWebSocketURL string
	Backoff            source.Backoff
}

// Manager owns the running overlay instances, one per distinct set of
// sources, and stops each one when its last viewer leaves.
type Manager struct {
	ctx  context.Context
	opts ManagerOptions

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewManager creates a manager whose instances stop when ctx is cancelled
func NewManager(ctx context.Context, opts ManagerOptions) *Manager {
	if opts.History <= 0 {
		opts.History = DefaultMaxMessages
	}
	return &Manager{ctx: ctx, opts: opts, instances: make(map[string]*Instance)}
}

// Instance is an independent pipeline feeding one or more overlay viewers
type Instance struct {
	key      string
	buffer   *Buffer
	group    *source.Group
	messages chan message.Message
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	refs    int
	nextID  int
	viewers map[int]chan message.Message
}

// Viewer is one connected overlay page
type Viewer struct {
	// Backlog holds the buffered messages at join time, oldest first
	Backlog []message.Message
	// C delivers new messages. It is closed when the instance stops.
	C <-chan message.Message

	manager  *Manager
	instance *Instance
	id       int
	once     sync.Once
}

// Join attaches a viewer to the instance for cfg's sources, starting the
// instance if needed
func (m *Manager) Join(cfg Config) (*Viewer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.hasKick() && !cfg.hasTwitch() {
		return nil, ErrNoSources
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[cfg.SourceKey()]
	if !ok {
		inst = m.start(cfg)
		m.instances[inst.key] = inst
	} else {
		inst.buffer.Grow(m.history(cfg))
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.refs++
	inst.nextID++
	ch := make(chan message.Message, viewerBuffer)
	inst.viewers[inst.nextID] = ch

	return &Viewer{
		Backlog:  inst.buffer.Last(cfg.MaxMessages),
		C:        ch,
		manager:  m,
		instance: inst,
		id:       inst.nextID,
	}, nil
}

// Close detaches the viewer. The last viewer to leave stops the instance.
func (v *Viewer) Close() {
	v.once.Do(func() { v.manager.leave(v) })
}

func (m *Manager) leave(v *Viewer) {
	m.mu.Lock()
	inst := v.instance

	inst.mu.Lock()
	if ch, ok := inst.viewers[v.id]; ok {
		delete(inst.viewers, v.id)
		close(ch)
	}
	inst.refs--
	last := inst.refs == 0
	inst.mu.Unlock()

	if last && m.instances[inst.key] == inst {
		delete(m.instances, inst.key)
	}
	m.mu.Unlock()

	if last {
		inst.stop()
		log.Printf("Overlay instance stopped: %s", redact(inst.key))
	}
}

// Instances returns the number of running instances
func (m *Manager) Instances() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// Viewers returns the number of viewers attached to cfg's instance
func (m *Manager) Viewers(cfg Config) int {
	m.mu.Lock()
	inst := m.instances[cfg.SourceKey()]
	m.mu.Unlock()
	if inst == nil {
		return 0
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.refs
}

// Statuses returns the connection statuses of cfg's instance
func (m *Manager) Statuses(cfg Config) map[string]source.Snapshot {
	m.mu.Lock()
	inst := m.instances[cfg.SourceKey()]
	m.mu.Unlock()
	if inst == nil {
		return nil
	}
	return inst.group.Statuses()
}

// history sizes an instance buffer so the viewer asking for the most
// messages gets a full backlog
func (m *Manager) history(cfg Config) int {
	n := m.opts.History
	if cfg.MaxMessages > n {
		n = cfg.MaxMessages
	}
	if n > MaxHistory {
		n = MaxHistory
	}
	return n
}

func (m *Manager) start(cfg Config) *Instance {
	ctx, cancel := context.WithCancel(m.ctx)
	inst := &Instance{
		key:      cfg.SourceKey(),
		buffer:   NewBuffer(m.history(cfg)),
		messages: make(chan message.Message, viewerBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		viewers:  make(map[int]chan message.Message),
	}
	inst.group = source.NewGroup(ctx, inst.messages)

	if cfg.hasKick() {
		chatroomID, _ := cfg.chatroomID()
		inst.group.Run("kick", kick.New(kick.Options{
			Channel:      cfg.KickChannel,
			ChatroomID:   chatroomID,
			APIBase:      m.opts.KickAPIBase,
			WebSocketURL: m.opts.KickWebSocketURL,
			Backoff:      m.opts.Backoff,
		}))
	}
	if cfg.hasTwitch() {
		inst.group.Run("twitch", twitch.New(twitch.Options{
			Channel:      cfg.TwitchChannel,
			OAuth:        cfg.TwitchToken,
			WebSocketURL: m.opts.TwitchWebSocketURL,
			Backoff:      m.opts.Backoff,
		}))
	}

	go inst.run(ctx)
	log.Printf("Overlay instance started: %s", redact(inst.key))
	return inst
}

// run buffers incoming messages and fans them out until ctx is cancelled
func (i *Instance) run(ctx context.Context) {
	defer close(i.done)
	for {
		select {
		case msg := <-i.messages:
			i.buffer.Add(msg)
			i.broadcast(msg)
		case <-ctx.Done():
			i.group.Wait()
			i.closeViewers()
			return
		}
	}
}

// broadcast never blocks; a viewer that falls behind misses messages
func (i *Instance) broadcast(msg message.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, ch := range i.viewers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (i *Instance) closeViewers() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, ch := range i.viewers {
		delete(i.viewers, id)
		close(ch)
	}
}

func (i *Instance) stop() {
	i.group.StopAll()
	i.cancel()
	<-i.done
}

// redact hides the twitch token in log lines
func redact(key string) string {
	if idx := strings.LastIndexByte(key, '|'); idx >= 0 {
		return key[:idx] + "|***"
	}
	return key
}
