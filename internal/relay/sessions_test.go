package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, browserID, desktopID string, lastActivity time.Time) *EditSession {
	return &EditSession{
		ID:            id,
		UserID:        "u1",
		SnippetID:     "snippet-" + id,
		BrowserConnID: browserID,
		DesktopConnID: desktopID,
		CreatedAt:     lastActivity,
		LastActivity:  lastActivity,
	}
}

func TestSessionTableOpenOverwrites(t *testing.T) {
	table := NewSessionTable()
	now := time.Now()

	table.Open(newSession("s1", "b1", "d1", now))
	first, ok := table.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "snippet-s1", first.SnippetID)

	rebound := newSession("s1", "b2", "d1", now)
	rebound.SnippetID = "other"
	table.Open(rebound)

	assert.Equal(t, 1, table.Count())
	current, ok := table.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "other", current.SnippetID)
	assert.Equal(t, "b2", current.BrowserConnID)
}

func TestSessionTableCloseFor(t *testing.T) {
	table := NewSessionTable()
	now := time.Now()

	table.Open(newSession("s1", "b1", "d1", now))
	table.Open(newSession("s2", "b2", "d1", now))
	table.Open(newSession("s3", "b1", "d2", now))

	closed := table.CloseFor("d1")
	assert.ElementsMatch(t, []string{"s1", "s2"}, closed)
	assert.Equal(t, 1, table.Count())

	// Browser side triggers the same cascade.
	closed = table.CloseFor("b1")
	assert.Equal(t, []string{"s3"}, closed)
	assert.Equal(t, 0, table.Count())

	assert.Empty(t, table.CloseFor("b1"))
}

func TestSessionTableSweepExpired(t *testing.T) {
	table := NewSessionTable()
	now := time.Now()

	table.Open(newSession("old", "b1", "d1", now.Add(-2*time.Hour)))
	table.Open(newSession("young", "b1", "d1", now.Add(-time.Minute)))

	expired := table.SweepExpired(30*time.Minute, now)
	assert.Equal(t, []string{"old"}, expired)

	_, ok := table.Get("young")
	assert.True(t, ok)
	_, ok = table.Get("old")
	assert.False(t, ok)
}

func TestSessionTableSweepTreatsMissingTimestampAsExpired(t *testing.T) {
	table := NewSessionTable()
	malformed := newSession("broken", "b1", "d1", time.Time{})
	table.Open(malformed)

	var expired []string
	assert.NotPanics(t, func() {
		expired = table.SweepExpired(30*time.Minute, time.Now())
	})
	assert.Equal(t, []string{"broken"}, expired)
	assert.Equal(t, 0, table.Count())
}

func TestSessionTableTouch(t *testing.T) {
	table := NewSessionTable()
	start := time.Now().Add(-10 * time.Minute)
	table.Open(newSession("s1", "b1", "d1", start))

	later := time.Now()
	table.Touch("s1", later)

	s, ok := table.Get("s1")
	require.True(t, ok)
	assert.Equal(t, later, s.LastActivity)

	// Touching an unknown session is a no-op.
	table.Touch("missing", later)
}
