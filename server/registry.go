package main

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/demonid/chatline/model"
)

// Registry is the set of active sessions keyed by name. It is the only
// shared mutable state on the server.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds session under name. The uniqueness check and the insert
// happen under one lock, so two logins racing for a name cannot both win.
func (r *Registry) Register(name string, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[name]; exists {
		return fmt.Errorf("register %q: %w", name, model.ErrNameCollision)
	}
	r.sessions[name] = session
	r.logger.Info("session registered", "name", name, "session", session.ID(), "total", len(r.sessions))
	return nil
}

// Unregister removes name. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(name)
}

// Remove unregisters session only if it still owns its name. A late
// cleanup of an old session never evicts a newer one that reused the name.
func (r *Registry) Remove(session *Session) bool {
	name := session.Name()
	if name == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[name] != session {
		return false
	}
	r.deleteLocked(name)
	return true
}

func (r *Registry) deleteLocked(name string) {
	if _, ok := r.sessions[name]; !ok {
		return
	}
	delete(r.sessions, name)
	r.logger.Info("session unregistered", "name", name, "total", len(r.sessions))
}

func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[name]
	return session, ok
}

// Snapshot returns the sessions registered at one instant, ordered by name.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	sessions := make([]*Session, len(names))
	for i, name := range names {
		sessions[i] = r.sessions[name]
	}
	r.mu.RUnlock()
	return sessions
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
