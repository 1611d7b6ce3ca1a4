package session

import (
	"sync"

	"github.com/cbtsim/cbtsim/internal/content"
)

// Manager tracks live sessions so multiple candidates can sit concurrently.
// Sessions live in memory for their duration; the result sink is the only
// durable output.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create starts a new session on the given exam index and registers it.
func (m *Manager) Create(idx *content.Index, cfg Config) *Session {
	s := New(idx, cfg)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get returns a registered session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove unregisters a session and stops its countdown.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
