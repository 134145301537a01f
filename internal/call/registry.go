package call

import (
	"fmt"
	"sync"
)

// Registry is the process-wide map of active calls. At most one session per
// call ID; insertion only on session start, removal only on terminal state.
// It is the sole state shared across calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers a session. A duplicate call ID is rejected: the provider
// assigns call IDs, so a duplicate means a stray reconnect, not a new call.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallID()]; exists {
		return fmt.Errorf("call %s already registered", s.CallID())
	}
	r.sessions[s.CallID()] = s
	return nil
}

// Remove deregisters a call. Removing an absent ID is a no-op so terminal
// cleanup is idempotent.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Lookup returns the session for a call, or nil.
func (r *Registry) Lookup(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Snapshots returns point-in-time views of every active call. Sessions are
// snapshotted outside any registry iteration lock held across adapter calls.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	return snapshots
}

// Len reports the number of active calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
