package mcp

import "sync"

// SessionRegistry maps user IDs to the MCP session that last acted for them.
// Populated when a client calls shopsync.interact.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // userID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a user with a session, replacing any previous one.
func (r *SessionRegistry) Register(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = sessionID
}

// SessionFor returns the session for the given user, if any.
func (r *SessionRegistry) SessionFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[userID]
	return sid, ok
}

// Remove deletes every user mapping for the given session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, uid)
		}
	}
}
