package relay

import (
	"time"
)

// EditSession is one in-flight snippet-editing conversation between a
// browser connection and a desktop connection. Connection identities are
// weak references; the hub re-validates them against the registry before
// every forward.
type EditSession struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	SnippetID     string    `json:"snippetId"`
	BrowserConnID string    `json:"browserConnectionId"`
	DesktopConnID string    `json:"desktopConnectionId"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

// SessionTable maps session identifiers to edit sessions. Plain data
// structure; the hub serializes all access.
type SessionTable struct {
	sessions map[string]*EditSession
}

// NewSessionTable creates an empty edit session table
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*EditSession)}
}

// Open stores a session entry. Reusing a session identifier overwrites the
// previous binding; there is never a second entry for the same id.
func (t *SessionTable) Open(s *EditSession) {
	t.sessions[s.ID] = s
}

// Get returns the session for an identifier
func (t *SessionTable) Get(sessionID string) (*EditSession, bool) {
	s, ok := t.sessions[sessionID]
	return s, ok
}

// Touch refreshes a session's lastActivity timestamp
func (t *SessionTable) Touch(sessionID string, now time.Time) {
	if s, ok := t.sessions[sessionID]; ok {
		s.LastActivity = now
	}
}

// Close removes a single session
func (t *SessionTable) Close(sessionID string) {
	delete(t.sessions, sessionID)
}

// CloseFor removes every session bound to connID on either side and returns
// the removed session ids. Called from the hub's eviction path.
func (t *SessionTable) CloseFor(connID string) []string {
	var closed []string
	for id, s := range t.sessions {
		if s.BrowserConnID == connID || s.DesktopConnID == connID {
			delete(t.sessions, id)
			closed = append(closed, id)
		}
	}
	return closed
}

// SweepExpired removes every session idle past maxAge and returns the
// removed session ids. A session missing its timestamp counts as expired
// rather than crashing the sweep.
func (t *SessionTable) SweepExpired(maxAge time.Duration, now time.Time) []string {
	var expired []string
	cutoff := now.Add(-maxAge)
	for id, s := range t.sessions {
		if s.LastActivity.IsZero() || s.LastActivity.Before(cutoff) {
			delete(t.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Count returns the number of active sessions
func (t *SessionTable) Count() int {
	return len(t.sessions)
}

// Snapshot lists every session entry
func (t *SessionTable) Snapshot() []EditSession {
	out := make([]EditSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}
