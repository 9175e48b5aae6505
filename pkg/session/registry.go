package session

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/metrics"
)

var (
	// ErrSessionNotFound is returned when a call ID is absent from the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession is returned when registering a call ID that is
	// already present.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrRegistryFull is returned when the configured session capacity has
	// been reached.
	ErrRegistryFull = errors.New("registry at capacity")
)

// Registry is the concurrency-safe store of all known call sessions, keyed
// by call ID. Every accessor returns clones so callers never observe an
// entry mutating mid-iteration.
type Registry struct {
	logger   *logrus.Logger
	capacity int

	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates an empty registry. capacity <= 0 means unlimited.
func NewRegistry(logger *logrus.Logger, capacity int) *Registry {
	return &Registry{
		logger:   logger,
		capacity: capacity,
		sessions: make(map[string]*CallSession),
	}
}

// Register inserts a new session. The registry takes ownership of the value;
// callers must not mutate it afterwards.
func (r *Registry) Register(s *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.CallID]; exists {
		return ErrDuplicateSession
	}
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		return ErrRegistryFull
	}

	r.sessions[s.CallID] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))

	r.logger.WithFields(logrus.Fields{
		"call_id":    s.CallID,
		"agent_dnis": s.AgentDNIS,
	}).Info("Registered call session")
	return nil
}

// Get returns a snapshot of the session for the given call ID.
func (r *Registry) Get(callID string) (*CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[callID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Update applies an atomic read-modify-write to the session and returns a
// snapshot of the result.
func (r *Registry) Update(callID string, mutate func(*CallSession)) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[callID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	mutate(s)
	return s.Clone(), nil
}

// Remove deletes the session if present and reports whether it was there.
// Removing an absent call ID is a no-op.
func (r *Registry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[callID]; !exists {
		return false
	}
	delete(r.sessions, callID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return true
}

// ListAll returns a point-in-time snapshot of every session.
func (r *Registry) ListAll() map[string]*CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CallSession, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s.Clone()
	}
	return out
}

// ListByAgent returns a snapshot of the sessions routed to one agent.
func (r *Registry) ListByAgent(agentDNIS string) map[string]*CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CallSession)
	for id, s := range r.sessions {
		if s.AgentDNIS == agentDNIS {
			out[id] = s.Clone()
		}
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
