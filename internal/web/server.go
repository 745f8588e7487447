package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/snipbridge/internal/config"
	"github.com/codefionn/snipbridge/internal/logger"
	"github.com/codefionn/snipbridge/internal/protocol"
	"github.com/codefionn/snipbridge/internal/relay"
)

const shutdownGrace = 5 * time.Second

// Server runs the websocket endpoint and the read-only control-plane HTTP
// surface on one listener.
type Server struct {
	cfg     *config.Config
	hub     *relay.Hub
	log     *logger.Logger
	version string

	httpServer *http.Server
	listener   net.Listener
	router     *httprouter.Router
	upgrader   websocket.Upgrader
}

// NewServer creates the relay server for the given configuration
func NewServer(cfg *config.Config, version string) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     relay.NewHub(cfg),
		log:     logger.Global().WithPrefix("web"),
		version: version,
		router:  httprouter.New(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

// Hub exposes the hub, mainly for tests
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.GET(s.cfg.WebSocketPath, s.handleWebSocket)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/debug", s.handleDebug)

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not found"})
	})
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 60 * time.Second,
	}

	s.hub.Start()

	go func() {
		s.log.Info("Relay server listening on %s (websocket path %s)", listener.Addr(), s.cfg.WebSocketPath)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down: stop accepting, close live connections, stop
// the cleanup scheduler. Bounded by a grace period even if peers do not
// cooperate.
func (s *Server) Stop() error {
	s.log.Info("Stopping relay server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.hub.Stop()

	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser peers (the desktop agent) send no Origin header.
		return true
	}
	for _, allowed := range s.cfg.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWebSocket upgrades the socket and hands it to the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	heartbeat := time.Duration(s.cfg.HeartbeatIntervalMs) * time.Millisecond
	client := NewClient(s.hub, conn, heartbeat)

	connID, err := s.hub.Accept(sourceAddr(r.RemoteAddr), client)
	if err != nil {
		// Refused at admission: tell the peer why, then drop the socket.
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		data, merr := json.Marshal(protocol.NewError(err.Error()))
		if merr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		s.log.Warn("Connection from %s refused: %v", r.RemoteAddr, err)
		return
	}

	go client.Run(connID)
}

// sourceAddr strips the port so rate-limit buckets key on the address
func sourceAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.hub.Metrics().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  s.version,
		"uptimeMs": snap.UptimeMs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	data := s.hub.StatusData()
	data["active"] = true
	writeJSON(w, http.StatusOK, data)
}

// handleDebug serves the raw registry/directory/session listing. Intended
// for non-production introspection only.
func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.hub.Debug())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
