// Package server accepts inbound WebSocket connections, authenticates them
// against an optional shared token, and exposes broadcast/targeted delivery
// plus a single inbound-message callback.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/wsconn"
)

// ErrNoSuchConnection is returned for a targeted send to an id that is not
// in the live set.
var ErrNoSuchConnection = errors.New("no such connection")

// ErrAuthFailed is the reason recorded when a handshake presents a missing
// or mismatched token. The connection is rejected with 401 and never enters
// the live set.
var ErrAuthFailed = errors.New("authentication failed")

// Config describes the listening endpoint.
type Config struct {
	Host string
	Port int
	// Path is the WebSocket route. Default "/ws".
	Path string
	// Token, when non-empty, must be presented by every client at handshake
	// time, either as the Authorization header or a "token" query parameter.
	Token string
	// Conn options applied to every accepted connection.
	Conn wsconn.Options
}

// Handler receives every message arriving on any accepted connection,
// together with the originating connection id.
type Handler func(connID string, m *message.Message)

type entry struct {
	conn     *wsconn.Conn
	platform string
}

// Server is the accepting endpoint. Connections are keyed by a
// server-generated id and removed from the live set as soon as they close
// or fail; there is no resurrection.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	conns      map[string]*entry
	byPlatform map[string]string // platform -> conn id, first wins
	onMessage  Handler

	httpSrv  *http.Server
	listener net.Listener
	running  atomic.Bool
}

// New creates a server for the given config. Call Start to begin listening.
func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are adapters and agent cores, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:      make(map[string]*entry),
		byPlatform: make(map[string]string),
	}
}

// OnMessage registers the single inbound callback. Must be called before
// Start.
func (s *Server) OnMessage(fn Handler) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// Start binds the listener and serves upgrades in the background. With
// Port 0 the OS picks a free port; see Addr.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("server", "serve error", map[string]any{"error": err.Error()})
		}
	}()
	logger.InfoCF("server", "listening", map[string]any{
		"addr": ln.Addr().String(),
		"path": s.cfg.Path,
	})
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every live connection gracefully and shuts the listener down.
// Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.conns))
	for _, e := range s.conns {
		entries = append(entries, e)
	}
	s.conns = make(map[string]*entry)
	s.byPlatform = make(map[string]string)
	s.mu.Unlock()

	for _, e := range entries {
		e.conn.Close(ctx)
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Broadcast enqueues the message onto every currently open connection. A
// connection that refuses the enqueue is skipped; delivery to the others
// proceeds.
func (s *Server) Broadcast(m *message.Message) {
	s.mu.RLock()
	targets := make(map[string]*entry, len(s.conns))
	for id, e := range s.conns {
		targets[id] = e
	}
	s.mu.RUnlock()

	for id, e := range targets {
		if err := e.conn.Enqueue(m); err != nil {
			logger.WarnCF("server", "broadcast skip", map[string]any{
				"conn":  id,
				"error": err.Error(),
			})
		}
	}
}

// SendTo enqueues the message onto one connection by id.
func (s *Server) SendTo(connID string, m *message.Message) error {
	s.mu.RLock()
	e, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchConnection, connID)
	}
	if err := e.conn.Enqueue(m); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoSuchConnection, connID, err)
	}
	return nil
}

// SendToPlatform delivers to the connection that announced the given
// platform at handshake time.
func (s *Server) SendToPlatform(platform string, m *message.Message) error {
	s.mu.RLock()
	id, ok := s.byPlatform[platform]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: platform %s", ErrNoSuchConnection, platform)
	}
	return s.SendTo(id, m)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Token != "" {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.Token {
			logger.WarnCF("server", "handshake rejected", map[string]any{
				"remote": r.RemoteAddr,
				"reason": ErrAuthFailed.Error(),
			})
			http.Error(w, "invalid or missing token", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logger.WarnCF("server", "upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	id := uuid.NewString()
	platform := r.Header.Get("X-Platform")
	s.register(id, platform, ws)
}

func (s *Server) register(id, platform string, ws *websocket.Conn) {
	opts := s.cfg.Conn
	opts.Label = id
	opts.OnMessage = func(m *message.Message) {
		s.mu.RLock()
		fn := s.onMessage
		s.mu.RUnlock()
		if fn != nil {
			fn(id, m)
		}
	}
	// Server-side connections do not reconnect; on error the entry is
	// removed and the peer is expected to redial.
	opts.OnError = func(error) { s.remove(id) }

	conn := wsconn.New(wsconn.NewWebSocketTransport(ws), wsconn.Accepted, opts)

	s.mu.Lock()
	s.conns[id] = &entry{conn: conn, platform: platform}
	if platform != "" {
		if _, taken := s.byPlatform[platform]; !taken {
			s.byPlatform[platform] = id
		}
	}
	s.mu.Unlock()

	conn.Start()
	logger.InfoCF("server", "connection accepted", map[string]any{
		"conn":     id,
		"platform": platform,
		"remote":   ws.RemoteAddr().String(),
	})
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	e, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
		if e.platform != "" && s.byPlatform[e.platform] == id {
			delete(s.byPlatform, e.platform)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.conn.Close(ctx)
	logger.InfoCF("server", "connection removed", map[string]any{"conn": id})
}
