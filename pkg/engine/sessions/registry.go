// Package sessions tracks the live session machines in this process so
// request handlers can route follow-up operations and shutdown can drain
// them.
package sessions

import (
	"context"
	"sync"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/session"
)

type entry struct {
	machine *session.Machine
	userID  string
	once    sync.Once
}

// Registry is a concurrency-safe index of running machines by session ID.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a machine and returns its unregister func. Unregister is
// idempotent; callers defer it for the machine's lifetime.
func (r *Registry) Register(m *session.Machine) (unregister func()) {
	if r == nil {
		return func() {}
	}
	s := m.Session()
	e := &entry{machine: m, userID: s.UserID}

	r.mu.Lock()
	old := r.entries[s.ID]
	r.entries[s.ID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(s.ID, old)
	}
	return func() { r.unregister(s.ID, e) }
}

func (r *Registry) unregister(id string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Get returns the live machine for id, enforcing ownership: a session is
// only visible to its owner. Misses and ownership mismatches are both
// NOT_FOUND so session IDs can't be probed.
func (r *Registry) Get(id, userID string) (*session.Machine, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok || e.userID != userID {
		return nil, core.Newf(core.CodeNotFound, "no active session %s", id)
	}
	return e.machine, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// AbortAll aborts every live machine, for shutdown after the drain grace
// period. Already-terminal machines are skipped.
func (r *Registry) AbortAll(ctx context.Context) (aborted int) {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	machines := make([]*session.Machine, 0, len(r.entries))
	for _, e := range r.entries {
		machines = append(machines, e.machine)
	}
	r.mu.Unlock()

	for _, m := range machines {
		if m.State().Terminal() {
			continue
		}
		if err := m.Abort(ctx); err == nil {
			aborted++
		}
	}
	return aborted
}

// Wait blocks until every registered machine has unregistered or ctx ends.
// Returns false on timeout.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
