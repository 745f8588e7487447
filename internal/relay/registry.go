package relay

import (
	"time"

	"github.com/codefionn/snipbridge/internal/protocol"
)

// Connection roles
const (
	RoleUnauthenticated = "unauthenticated"
	RoleBrowser         = "browser"
	RoleDesktop         = "desktop"
)

// Sender delivers outbound frames to one peer. Implementations must never
// block; Send reports false when the frame was dropped. Close tears down the
// underlying socket and eventually leads back to Hub.Disconnect.
type Sender interface {
	Send(msg *protocol.Message) bool
	Close()
}

// Conn is one live connection entry. Owned exclusively by the hub; every
// other structure refers to it by ID only and re-validates existence at
// point of use.
type Conn struct {
	ID           string
	Role         string
	UserID       string
	RemoteAddr   string
	ConnectedAt  time.Time
	LastActivity time.Time

	sender    Sender
	authTimer *time.Timer
}

func (c *Conn) touch(now time.Time) {
	c.LastActivity = now
}

// cancelAuthTimer stops the unauthenticated-timeout timer, if still armed
func (c *Conn) cancelAuthTimer() {
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

// ConnInfo is the debug-snapshot view of a connection
type ConnInfo struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	UserID       string    `json:"userId,omitempty"`
	RemoteAddr   string    `json:"remoteAddr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}
