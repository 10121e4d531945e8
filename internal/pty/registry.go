package pty

import (
	"fmt"
	"sync"
	"time"

	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Registry tracks all live PTY instances keyed by session ID and reaps dead
// ones in the background.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance

	reapInterval time.Duration
	stopReaper   chan struct{}
	reaperDone   chan struct{}
	closeOnce    sync.Once
}

// NewRegistry creates a registry and starts its background reaper.
func NewRegistry(reapInterval time.Duration) *Registry {
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}
	r := &Registry{
		instances:    make(map[string]*Instance),
		reapInterval: reapInterval,
		stopReaper:   make(chan struct{}),
		reaperDone:   make(chan struct{}),
	}
	recovery.SafeGoWithCleanup("pty-reaper", r.reapLoop, func() {
		close(r.reaperDone)
	})
	return r
}

// Create spawns a new PTY for the session. A session ID that already has a
// live instance is rejected.
func (r *Registry) Create(sessionID string, cfg Config) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.instances[sessionID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", models.ErrAlreadyExists, sessionID)
	}
	// Reserve the slot before the (slow) spawn so concurrent creates for the
	// same session cannot both proceed.
	inst := NewInstance(sessionID, cfg)
	r.instances[sessionID] = inst
	r.mu.Unlock()

	if err := inst.Start(); err != nil {
		r.mu.Lock()
		delete(r.instances, sessionID)
		r.mu.Unlock()
		return nil, err
	}
	return inst, nil
}

// Get returns the instance for a session.
func (r *Registry) Get(sessionID string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return inst, nil
}

// Write forwards input to the session's shell.
func (r *Registry) Write(sessionID, input string) error {
	inst, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	return inst.Write(input)
}

// Resize applies new dimensions to the session's shell.
func (r *Registry) Resize(sessionID string, size models.TerminalSize) error {
	inst, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	return inst.Resize(size)
}

// Destroy stops the session's PTY and removes it from the registry. Destroying
// an unknown session is a no-op so teardown paths can be retried safely.
func (r *Registry) Destroy(sessionID string, force bool) error {
	r.mu.Lock()
	inst, ok := r.instances[sessionID]
	if ok {
		delete(r.instances, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return inst.Stop(force)
}

// SessionIDs lists the tracked session IDs.
func (r *Registry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of tracked instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// AllStats returns a stats snapshot for every tracked instance.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	snapshot := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		snapshot = append(snapshot, inst)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(snapshot))
	for _, inst := range snapshot {
		out[inst.SessionID] = inst.GetStats()
	}
	return out
}

// reapLoop periodically removes instances whose process has died on its own,
// so crashed shells do not accumulate in the registry.
func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopReaper:
			return
		case <-ticker.C:
			r.reapDead()
		}
	}
}

func (r *Registry) reapDead() {
	r.mu.Lock()
	var dead []*Instance
	for id, inst := range r.instances {
		if !inst.IsAlive() {
			dead = append(dead, inst)
			delete(r.instances, id)
		}
	}
	r.mu.Unlock()

	for _, inst := range dead {
		logger.Infof("reaping dead pty session %s", inst.SessionID)
		_ = inst.Stop(true)
	}
}

// Shutdown stops the reaper and force destroys every tracked instance.
func (r *Registry) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.stopReaper)
		<-r.reaperDone
	})

	r.mu.Lock()
	all := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		all = append(all, inst)
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, inst := range all {
		_ = inst.Stop(true)
	}
}
