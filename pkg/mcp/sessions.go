package mcp

import "sync"

// SessionRegistry maps run IDs to MCP session IDs.
// Populated when a session starts a run, so terminal notifications reach the
// caller that owns the run.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // runID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a run ID with a session ID.
// If the run already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(runID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[runID] = sessionID
}

// SessionFor returns the session ID for the given run, if connected.
func (r *SessionRegistry) SessionFor(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[runID]
	return sid, ok
}

// Remove deletes all run mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, rid)
		}
	}
}
