package scheduler

import (
	"context"
	"sync"

	"leadflow_backend/platform/logger"
)

// Loop is a background polling loop. Run blocks until the context is
// cancelled.
type Loop interface {
	Run(ctx context.Context)
}

type loopEntry struct {
	loop   Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry supervises named background loops. Start and Stop are
// idempotent per name, so a supervisor restart never doubles a loop.
type Registry struct {
	mu      sync.Mutex
	loops   map[string]Loop
	running map[string]*loopEntry
	log     *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		loops:   map[string]Loop{},
		running: map[string]*loopEntry{},
		log:     log,
	}
}

// Register adds a loop under a unique name. Registering an existing name
// replaces the loop definition but not a running instance.
func (r *Registry) Register(name string, loop Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loops[name] = loop
}

// Start launches the named loop. A loop that is already running is left
// alone.
func (r *Registry) Start(ctx context.Context, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.running[name]; running {
		return false
	}
	loop, ok := r.loops[name]
	if !ok {
		r.log.Warn("unknown loop", "name", name)
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	entry := &loopEntry{loop: loop, cancel: cancel, done: make(chan struct{})}
	r.running[name] = entry

	go func() {
		defer close(entry.done)
		loop.Run(loopCtx)

		r.mu.Lock()
		if r.running[name] == entry {
			delete(r.running, name)
		}
		r.mu.Unlock()
	}()

	r.log.Info("loop started", "name", name)
	return true
}

// StartAll launches every registered loop.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.loops))
	for name := range r.loops {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Start(ctx, name)
	}
}

// Stop cancels the named loop and waits for it to return. Stopping a loop
// that is not running is a no-op.
func (r *Registry) Stop(name string) {
	r.mu.Lock()
	entry, ok := r.running[name]
	if ok {
		delete(r.running, name)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.cancel()
	<-entry.done
	r.log.Info("loop stopped", "name", name)
}

// StopAll stops every running loop and waits for them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make(map[string]*loopEntry, len(r.running))
	for name, e := range r.running {
		entries[name] = e
	}
	r.running = map[string]*loopEntry{}
	r.mu.Unlock()

	for name, entry := range entries {
		entry.cancel()
		<-entry.done
		r.log.Info("loop stopped", "name", name)
	}
}
