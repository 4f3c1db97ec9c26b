package source

import (
	"context"
	"log"
	"sync"

	"github.com/john/chatvoice/internal/message"
)

// Runner is a platform connector
type Runner interface {
	Start(ctx context.Context, messageChan chan<- message.Message) error
	Status() *Status
}

type task struct {
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// Group supervises a set of named connectors that share one output channel.
// Reconfiguring a source cancels its task and starts a fresh one.
type Group struct {
	ctx context.Context
	out chan<- message.Message

	ops   sync.Mutex // serializes Run and Stop
	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

// NewGroup creates a group whose tasks stop when ctx is cancelled
func NewGroup(ctx context.Context, out chan<- message.Message) *Group {
	return &Group{ctx: ctx, out: out, tasks: make(map[string]*task)}
}

// Run starts r under name, replacing any source already running under it
func (g *Group) Run(name string, r Runner) {
	g.ops.Lock()
	defer g.ops.Unlock()
	g.stop(name)

	ctx, cancel := context.WithCancel(g.ctx)
	t := &task{runner: r, cancel: cancel, done: make(chan struct{})}

	g.mu.Lock()
	g.tasks[name] = t
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(t.done)
		if err := r.Start(ctx, g.out); err != nil && err != context.Canceled {
			log.Printf("%s connector error: %v", name, err)
		}
	}()
}

// Stop cancels the named source and waits for its transport to close. The
// last status stays visible as Disconnected.
func (g *Group) Stop(name string) {
	g.ops.Lock()
	defer g.ops.Unlock()
	g.stop(name)
}

func (g *Group) stop(name string) {
	g.mu.Lock()
	t := g.tasks[name]
	var cancel context.CancelFunc
	if t != nil {
		cancel, t.cancel = t.cancel, nil
	}
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-t.done
}

// StopAll cancels every source and waits for all of them
func (g *Group) StopAll() {
	g.ops.Lock()
	defer g.ops.Unlock()

	g.mu.Lock()
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	g.mu.Unlock()

	for _, name := range names {
		g.stop(name)
	}
}

// Statuses returns the connection status of every known source
func (g *Group) Statuses() map[string]Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]Snapshot, len(g.tasks))
	for name, t := range g.tasks {
		out[name] = t.runner.Status().Snapshot()
	}
	return out
}

// Wait blocks until every source task has returned
func (g *Group) Wait() {
	g.wg.Wait()
}
