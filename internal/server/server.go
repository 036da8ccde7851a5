// Package server exposes the bridge over HTTP: session creation at
// /api/sessions and one WebSocket bridge connection per session at
// /terminal/{sessionId}.
package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/workdesk/termbridge/internal/registry"
)

// sendBufferSize is the per-connection buffer for outgoing frames. It
// absorbs bursts of PTY output without blocking the output pump.
const sendBufferSize = 256

// TokenValidator validates bearer tokens. Returns the token id on
// success.
type TokenValidator func(token string) (tokenID string, err error)

// Server serves the session API and bridge connections.
type Server struct {
	addr     string
	registry *registry.Registry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[*Conn]bool
	stopped bool

	httpServer *http.Server

	// defaultRows/Cols are the PTY dimensions used when a session is
	// created without explicit ones. The client's first resize frame
	// establishes the real viewport.
	defaultRows int
	defaultCols int

	tokenValidator TokenValidator
	requireAuth    bool
}

// NewServer creates a server for the given listen address and registry.
// Call Start or StartAsync to begin accepting connections.
func NewServer(addr string, reg *registry.Registry) *Server {
	return &Server{
		addr:        addr,
		registry:    reg,
		conns:       make(map[*Conn]bool),
		defaultRows: 24,
		defaultCols: 80,
		upgrader: websocket.Upgrader{
			// Clients connect from origins we don't know ahead of
			// time; auth is the token, not the origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetTokenValidator sets the token validation function.
// When requireAuth is true, requests without valid tokens are rejected.
func (s *Server) SetTokenValidator(validator TokenValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenValidator = validator
}

// SetRequireAuth controls whether authentication is required.
func (s *Server) SetRequireAuth(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = require
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	return s.addr
}

// ConnCount returns the number of live bridge connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Bridge endpoint: one persistent connection per session id.
	mux.HandleFunc("/terminal/", s.handleTerminal)

	// Session API for creating, listing and terminating sessions.
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)

	// Health check endpoint for monitoring.
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

// Start begins listening and blocks until the server stops.
// For non-blocking startup with error handling, use StartAsync.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.createMux(),
	}

	log.Printf("server: listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server in a goroutine. The returned channel
// receives nil once the listener is up, or the startup error (e.g. port
// already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		log.Printf("server: listening on %s", s.addr)
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// TLSConfig holds certificate paths for wss serving.
type TLSConfig struct {
	CertPath string
	KeyPath  string
}

// StartAsyncTLS is StartAsync with TLS. Plaintext connections are
// rejected once TLS is enabled.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		errCh <- fmt.Errorf("failed to load TLS certificate: %w", err)
		close(errCh)
		return errCh
	}

	tlsLn := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		log.Printf("server: listening on %s (TLS enabled)", s.addr)
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// Stop shuts down the server: all bridge connections are closed and the
// listener stops accepting.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*Conn]bool)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown()
	}

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// authenticate applies token auth to a request when enabled. Writes the
// HTTP error response itself and returns false when the request must not
// proceed.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	s.mu.RLock()
	requireAuth := s.requireAuth
	validator := s.tokenValidator
	s.mu.RUnlock()

	if !requireAuth || validator == nil {
		return true
	}

	token := extractBearerToken(r)
	if token == "" {
		log.Printf("server: rejected %s %s: missing token", r.Method, r.URL.Path)
		http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
		return false
	}

	if _, err := validator(token); err != nil {
		log.Printf("server: rejected %s %s: invalid token", r.Method, r.URL.Path)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return false
	}

	return true
}

// extractBearerToken extracts the token from an Authorization header.
// Supports both "Bearer <token>" header and a "token" query parameter as
// fallback (some WebSocket clients cannot set custom headers).
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		const bearerPrefix = "Bearer "
		if len(auth) > len(bearerPrefix) {
			prefix := auth[:len(bearerPrefix)]
			if strings.EqualFold(prefix, bearerPrefix) {
				return auth[len(bearerPrefix):]
			}
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

// register tracks a live connection. Returns false if the server has
// already stopped.
func (s *Server) register(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[c] = true
	return true
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
