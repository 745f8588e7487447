package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/snipbridge/internal/config"
	"github.com/codefionn/snipbridge/internal/logger"
	"github.com/codefionn/snipbridge/internal/protocol"
	"github.com/codefionn/snipbridge/internal/ratelimit"
)

// Admission failures
var (
	ErrServerFull  = errors.New("connection limit reached")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Hub owns the connection registry, the user session directory, and the
// edit session table. One mutex guards all three, so no interleaving of
// mutations can leave a dangling reference between them. Outbound delivery
// is a non-blocking enqueue onto the target connection's sender, never a
// write under the lock, so a stalled peer cannot stall anyone else.
type Hub struct {
	cfg     *config.Config
	log     *logger.Logger
	limiter *ratelimit.Limiter
	metrics *Metrics

	mu        sync.Mutex
	conns     map[string]*Conn
	directory *Directory
	sessions  *SessionTable
	closed    bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub for the given configuration
func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		cfg:       cfg,
		log:       logger.Global().WithPrefix("hub"),
		limiter:   ratelimit.New(time.Duration(cfg.RateLimitWindowMs)*time.Millisecond, cfg.RateLimitMaxRequests),
		metrics:   NewMetrics(),
		conns:     make(map[string]*Conn),
		directory: NewDirectory(),
		sessions:  NewSessionTable(),
		quit:      make(chan struct{}),
	}
}

// Start launches the cleanup scheduler
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.runCleanup()
}

// Stop stops the cleanup scheduler and closes every live connection
func (h *Hub) Stop() {
	close(h.quit)
	h.wg.Wait()

	h.mu.Lock()
	h.closed = true
	senders := make([]Sender, 0, len(h.conns))
	for _, c := range h.conns {
		c.cancelAuthTimer()
		senders = append(senders, c.sender)
	}
	h.conns = make(map[string]*Conn)
	h.directory = NewDirectory()
	h.sessions = NewSessionTable()
	h.mu.Unlock()

	for _, s := range senders {
		s.Close()
	}
	h.log.Info("Hub stopped")
}

// Metrics returns the hub's metrics holder
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Accept admits a new socket, subject to the rate limiter and the
// connection ceiling. On success it registers the connection as
// unauthenticated, arms its timeout timer, and sends the connection_init
// handshake carrying the server-assigned identity.
func (h *Hub) Accept(remoteAddr string, sender Sender) (string, error) {
	now := time.Now()
	if !h.limiter.Allow(remoteAddr, now) {
		h.metrics.IncError()
		return "", ErrRateLimited
	}

	h.mu.Lock()
	if h.closed || len(h.conns) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		h.metrics.IncError()
		return "", ErrServerFull
	}

	conn := &Conn{
		ID:           uuid.NewString(),
		Role:         RoleUnauthenticated,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActivity: now,
		sender:       sender,
	}
	timeout := time.Duration(h.cfg.ConnectionTimeoutMs) * time.Millisecond
	conn.authTimer = time.AfterFunc(timeout, func() {
		h.evictUnauthenticated(conn.ID)
	})
	h.conns[conn.ID] = conn
	h.metrics.totalConnections.Add(1)
	h.mu.Unlock()

	sender.Send(protocol.NewConnectionInit(conn.ID))
	h.log.Debug("Connection %s admitted from %s", conn.ID, remoteAddr)
	return conn.ID, nil
}

// Disconnect evicts a connection and cascades cleanup into the user
// directory and the session table. Safe to call for an already-evicted id.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	conn.cancelAuthTimer()

	switch conn.Role {
	case RoleBrowser:
		h.metrics.browserConnections.Add(-1)
	case RoleDesktop:
		h.metrics.desktopConnections.Add(-1)
	}

	// The empty string is a legal user identity, so reconciliation is gated
	// on the declared role, never on the userId value.
	var desktopCleared bool
	if conn.Role != RoleUnauthenticated {
		desktopCleared = h.directory.Remove(conn.UserID, connID)
	}

	closed := h.sessions.CloseFor(connID)
	if desktopCleared {
		h.notifyBrowsersLocked(conn.UserID, protocol.NewStatusUpdate("desktop_disconnected"))
	}
	h.mu.Unlock()

	if len(closed) > 0 {
		h.log.Debug("Connection %s closed %d edit session(s)", connID, len(closed))
	}
	conn.sender.Close()
	h.log.Debug("Connection %s evicted", connID)
}

// evictUnauthenticated force-closes a connection that never declared a role
// within the configured timeout.
func (h *Hub) evictUnauthenticated(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok || conn.Role != RoleUnauthenticated {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.log.Info("Connection %s timed out before declaring a role", connID)
	h.Disconnect(connID)
}

// HandleFrame runs the command pipeline for one inbound frame: validate,
// authorize against the directories, apply effects, report errors. An
// unexpected panic in a handler is caught here, answered with an error
// frame, and counted; it never crashes the process.
func (h *Hub) HandleFrame(connID string, raw []byte) {
	h.metrics.IncMessages()

	cmd, verr := protocol.Validate(connID, raw)
	if verr != nil {
		h.metrics.IncError()
		h.send(connID, protocol.NewError(verr.Message))
		if verr.Fatal {
			h.Disconnect(connID)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.metrics.IncError()
			h.log.Error("Handler panic for %s from %s: %v", cmd.CommandType(), connID, r)
			h.send(connID, protocol.NewError("Internal error handling "+cmd.CommandType()))
		}
	}()

	h.dispatch(connID, cmd)
}

func (h *Hub) dispatch(connID string, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.BrowserConnect:
		h.declareRole(connID, c.UserID, RoleBrowser)
	case protocol.DesktopConnect:
		h.declareRole(connID, c.UserID, RoleDesktop)
	case protocol.EditRequest:
		h.openSession(connID, c)
	case protocol.CodeUpdate:
		h.applyUpdate(connID, c)
	case protocol.Info:
		h.log.Info("Info from %s (session=%s snippet=%s): %s", connID, c.SessionID, c.SnippetID, c.Message)
		h.touch(connID)
	case protocol.Ping:
		// Liveness works for any connection, declared role or not.
		h.touch(connID)
		h.send(connID, protocol.NewPong(c.Payload))
	case protocol.GetStatus:
		h.touch(connID)
		h.send(connID, protocol.NewStatus(h.statusData()))
	case protocol.Hello:
		h.touch(connID)
	}
}

// declareRole classifies a connection and records it in the user directory
func (h *Hub) declareRole(connID, userID, role string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}

	// Re-declaration moves the connection: drop the old membership first so
	// no identity ever appears under two roles, and close any sessions still
	// bound to it — their binding named the old role and user, and a session
	// must never forward across identities.
	if conn.Role != RoleUnauthenticated {
		h.directory.Remove(conn.UserID, connID)
		switch conn.Role {
		case RoleBrowser:
			h.metrics.browserConnections.Add(-1)
		case RoleDesktop:
			h.metrics.desktopConnections.Add(-1)
		}
		if conn.Role != role || conn.UserID != userID {
			h.sessions.CloseFor(connID)
		}
	}

	conn.Role = role
	conn.UserID = userID
	conn.touch(time.Now())
	conn.cancelAuthTimer()

	replaced := h.directory.Declare(userID, connID, role)
	switch role {
	case RoleBrowser:
		h.metrics.browserConnections.Add(1)
	case RoleDesktop:
		h.metrics.desktopConnections.Add(1)
		h.notifyBrowsersLocked(userID, protocol.NewStatusUpdate("desktop_connected"))
	}
	sender := conn.sender
	h.mu.Unlock()

	if replaced != "" {
		// Last writer wins. The replaced desktop connection stays open but is
		// no longer addressable; it falls to its own close or dead-peer
		// detection.
		h.log.Info("Desktop connection for user %q replaced: %s -> %s", userID, replaced, connID)
	}

	sender.Send(protocol.NewConnectionAck(connID, role))
	h.log.Debug("Connection %s declared role %s for user %q", connID, role, userID)
}

// openSession handles edit_request: it requires a desktop connection for
// the user, forwards the request there, and stores the session binding.
// Reusing a session identifier overwrites the previous binding.
func (h *Hub) openSession(connID string, c protocol.EditRequest) {
	now := time.Now()

	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	conn.touch(now)

	if conn.Role != RoleBrowser || conn.UserID != c.UserID {
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError("Connection not registered as browser for user"))
		return
	}

	desktopID, found := h.directory.ResolveDesktop(c.UserID)
	var desktop *Conn
	if found {
		// Directory entries are weak references; confirm the registry still
		// holds the connection before binding to it.
		desktop, found = h.conns[desktopID]
	}
	if !found {
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError(protocol.ErrNoDesktop.Error()))
		return
	}

	forward, err := protocol.NewEditRequestForward(c.SessionID, c.UserID, c.Payload)
	if err != nil {
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError("Internal error handling edit_request"))
		return
	}

	h.sessions.Open(&EditSession{
		ID:            c.SessionID,
		UserID:        c.UserID,
		SnippetID:     c.Payload.SnippetID,
		BrowserConnID: connID,
		DesktopConnID: desktopID,
		CreatedAt:     now,
		LastActivity:  now,
	})
	h.metrics.totalSessions.Add(1)
	desktopSender := desktop.sender
	h.mu.Unlock()

	if !desktopSender.Send(forward) {
		h.log.Warn("Dropped edit_request for session %s: desktop %s send buffer full", c.SessionID, desktopID)
	}
	h.log.Debug("Edit session %s opened (user=%q snippet=%s browser=%s desktop=%s)",
		c.SessionID, c.UserID, c.Payload.SnippetID, connID, desktopID)
}

// applyUpdate handles code_update: it refreshes the session's lastActivity
// and forwards the new code to the bound browser connection. A session that
// has closed answers Session not found, which desktop agents treat as
// recoverable.
func (h *Hub) applyUpdate(connID string, c protocol.CodeUpdate) {
	now := time.Now()

	h.mu.Lock()
	if conn, ok := h.conns[connID]; ok {
		conn.touch(now)
	}

	session, ok := h.sessions.Get(c.SessionID)
	if !ok || session.DesktopConnID != connID {
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError(protocol.ErrSessionNotFound.Error()))
		return
	}

	browser, ok := h.conns[session.BrowserConnID]
	if !ok {
		// The browser vanished between eviction cascades; treat the session
		// as closed.
		h.sessions.Close(c.SessionID)
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError(protocol.ErrSessionNotFound.Error()))
		return
	}

	h.sessions.Touch(c.SessionID, now)
	forward, err := protocol.NewCodeUpdateForward(session.ID, session.SnippetID, c.Code)
	if err != nil {
		h.mu.Unlock()
		h.metrics.IncError()
		h.send(connID, protocol.NewError("Internal error handling code_update"))
		return
	}
	browserSender := browser.sender
	h.mu.Unlock()

	if !browserSender.Send(forward) {
		h.log.Warn("Dropped code_update for session %s: browser %s send buffer full", session.ID, session.BrowserConnID)
	}
}

// notifyBrowsersLocked fans a frame out to every browser connection of a
// user. Caller holds the hub lock.
func (h *Hub) notifyBrowsersLocked(userID string, msg *protocol.Message) {
	for _, id := range h.directory.Browsers(userID) {
		if conn, ok := h.conns[id]; ok {
			conn.sender.Send(msg)
		}
	}
}

// send delivers a frame to a connection if it still exists
func (h *Hub) send(connID string, msg *protocol.Message) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if !conn.sender.Send(msg) {
		h.log.Warn("Dropped %s frame: connection %s send buffer full", msg.Type, connID)
	}
}

func (h *Hub) touch(connID string) {
	h.mu.Lock()
	if conn, ok := h.conns[connID]; ok {
		conn.touch(time.Now())
	}
	h.mu.Unlock()
}

// runCleanup is the cleanup scheduler: one ticker drives rate-limit bucket
// eviction and then the edit-session expiry sweep, independent of traffic.
func (h *Hub) runCleanup() {
	defer h.wg.Done()
	interval := time.Duration(h.cfg.CleanupIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case now := <-ticker.C:
			h.limiter.Sweep(now)
			h.sweepSessions(now)
		}
	}
}

func (h *Hub) sweepSessions(now time.Time) {
	maxAge := time.Duration(h.cfg.EditSessionMaxAgeMs) * time.Millisecond
	h.mu.Lock()
	expired := h.sessions.SweepExpired(maxAge, now)
	h.mu.Unlock()
	if len(expired) > 0 {
		h.log.Info("Expired %d idle edit session(s)", len(expired))
	}
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// SessionCount returns the number of active edit sessions
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions.Count()
}

func (h *Hub) statusData() map[string]interface{} {
	snap := h.metrics.Snapshot()
	h.mu.Lock()
	connections := len(h.conns)
	sessions := h.sessions.Count()
	users := h.directory.UserCount()
	h.mu.Unlock()

	return map[string]interface{}{
		"connections": map[string]interface{}{
			"current":  connections,
			"browsers": snap.BrowserConnections,
			"desktops": snap.DesktopConnections,
			"lifetime": snap.TotalConnections,
		},
		"sessions": map[string]interface{}{
			"active":   sessions,
			"lifetime": snap.TotalSessions,
			"users":    users,
		},
		"performance": map[string]interface{}{
			"messagesProcessed": snap.MessagesProcessed,
			"errors":            snap.Errors,
			"uptimeMs":          snap.UptimeMs,
		},
		"config": map[string]interface{}{
			"heartbeatIntervalMs": h.cfg.HeartbeatIntervalMs,
			"maxConnections":      h.cfg.MaxConnections,
		},
	}
}

// StatusData returns the status snapshot used by status frames and the
// control-plane status endpoint.
func (h *Hub) StatusData() map[string]interface{} {
	return h.statusData()
}

// DebugSnapshot is the raw registry/directory/session listing served by the
// control-plane debug endpoint. Non-production introspection only.
type DebugSnapshot struct {
	Connections []ConnInfo    `json:"connections"`
	Users       []UserInfo    `json:"users"`
	Sessions    []EditSession `json:"sessions"`
	RateBuckets int           `json:"rateLimitBuckets"`
}

// Debug captures the full internal state listing
func (h *Hub) Debug() DebugSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := DebugSnapshot{
		Connections: make([]ConnInfo, 0, len(h.conns)),
		Users:       h.directory.Snapshot(),
		Sessions:    h.sessions.Snapshot(),
		RateBuckets: h.limiter.BucketCount(),
	}
	for _, c := range h.conns {
		snap.Connections = append(snap.Connections, ConnInfo{
			ID:           c.ID,
			Role:         c.Role,
			UserID:       c.UserID,
			RemoteAddr:   c.RemoteAddr,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
		})
	}
	return snap
}
