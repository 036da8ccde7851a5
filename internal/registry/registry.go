// Package registry tracks live terminal sessions and enforces the
// one-connection-per-session rule.
package registry

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workdesk/termbridge/internal/errors"
	"github.com/workdesk/termbridge/internal/pty"
)

// AttachPolicy decides what happens when a connection binds to a session
// that already has one.
type AttachPolicy string

const (
	// PolicyEvict closes the prior connection with a superseded status.
	// This is the default: reopening a tab reclaims the session.
	PolicyEvict AttachPolicy = "evict"
	// PolicyReject refuses the new connection instead.
	PolicyReject AttachPolicy = "reject"
)

// Status of a session's underlying process.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
)

// DefaultMaxSessions caps concurrent sessions unless configured otherwise.
const DefaultMaxSessions = 20

// DefaultIdleTimeout is how long a session with no bound connection
// survives before it is reaped.
const DefaultIdleTimeout = 10 * time.Minute

// Conn is the registry's view of the one connection bound to a session.
type Conn interface {
	// Terminated tells the connection its session ended. Implementations
	// send a terminated status frame with the reason, then close.
	Terminated(reason string)
}

// Recorder persists session lifecycle events. It is observational only;
// the live bridge path never reads it back.
type Recorder interface {
	SessionStarted(id, workDir, command string, at time.Time) error
	SessionEnded(id string, at time.Time, exitCode int, reason string) error
}

// Config for a Registry.
type Config struct {
	MaxSessions  int
	AttachPolicy AttachPolicy
	IdleTimeout  time.Duration
	KillGrace    time.Duration

	// Defaults used when a connection arrives for an unknown session id
	// and a fresh session must be created in place.
	DefaultCommand string
	DefaultArgs    []string
	DefaultDir     string

	Recorder Recorder // optional
}

// Session is one live terminal session.
type Session struct {
	ID        string
	WorkDir   string
	Command   string
	CreatedAt time.Time
	PTY       *pty.Session

	reg *Registry

	mu        sync.Mutex
	status    Status
	conn      Conn
	idleTimer *time.Timer
}

// Registry owns all live sessions.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
	// pending reserves ids and capacity for sessions still spawning;
	// they are published into sessions only once fully constructed.
	pending map[string]struct{}
}

// New creates a registry with the given config, applying defaults for
// zero values.
func New(cfg Config) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.AttachPolicy == "" {
		cfg.AttachPolicy = PolicyEvict
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = pty.DefaultKillGrace
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
	}
}

// Create starts a new session running command in workDir. An empty
// command or workDir falls back to the registry defaults. The session id
// is a fresh UUID.
func (r *Registry) Create(workDir, command string, args []string, rows, cols int) (*Session, error) {
	return r.createWithID(uuid.NewString(), workDir, command, args, rows, cols)
}

// CreateWithID starts a new session under a caller-chosen id. Used when a
// connection arrives for a fresh session id and the session is created in
// place.
func (r *Registry) CreateWithID(id, workDir, command string, args []string, rows, cols int) (*Session, error) {
	return r.createWithID(id, workDir, command, args, rows, cols)
}

func (r *Registry) createWithID(id, workDir, command string, args []string, rows, cols int) (*Session, error) {
	if command == "" {
		command = r.cfg.DefaultCommand
		args = r.cfg.DefaultArgs
	}
	if workDir == "" {
		workDir = r.cfg.DefaultDir
	}
	if workDir != "" {
		info, err := os.Stat(workDir)
		if err != nil || !info.IsDir() {
			return nil, errors.BadWorkdir(workDir)
		}
	}

	r.mu.Lock()
	if len(r.sessions)+len(r.pending) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, errors.SessionLimitReached(r.cfg.MaxSessions)
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, errors.SessionBusy(id)
	}
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		return nil, errors.SessionBusy(id)
	}
	// Reserve the id and capacity while the process spawns. The session
	// stays out of the lookup map until its PTY exists, so a concurrent
	// Attach can never observe a half-built session.
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	sess := &Session{
		ID:      id,
		WorkDir: workDir,
		Command: command,
		reg:     r,
		status:  StatusStarting,
	}
	sess.PTY = pty.New(pty.Config{
		Command: command,
		Args:    args,
		Dir:     workDir,
		OnExit:  func(info pty.ExitInfo) { r.sessionExited(sess, info) },
	})

	if err := sess.PTY.Start(rows, cols); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, errors.SpawnFailed(command, err)
	}

	sess.mu.Lock()
	sess.status = StatusRunning
	sess.CreatedAt = time.Now()
	sess.armIdleTimerLocked()
	sess.mu.Unlock()

	r.mu.Lock()
	delete(r.pending, id)
	// A very short-lived process can exit before publication. Its exit
	// path has already marked the session terminated; publishing it now
	// would leak a dead entry the exit path cannot remove again.
	if sess.Status() != StatusTerminated {
		r.sessions[id] = sess
	}
	r.mu.Unlock()

	if rec := r.cfg.Recorder; rec != nil {
		if err := rec.SessionStarted(id, workDir, command, time.Now()); err != nil {
			log.Printf("registry: record session start failed: %v", err)
		}
	}

	log.Printf("registry: session %s started pid=%d command=%s", id, sess.PTY.PID(), command)
	return sess, nil
}

// Attach looks up a session by id.
func (r *Registry) Attach(sessionID string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.SessionNotFound(sessionID)
	}
	return sess, nil
}

// Terminate stops a session's process. Removal from the registry happens
// through the process exit path so the bound connection still receives
// its terminated status frame.
func (r *Registry) Terminate(sessionID string) error {
	sess, err := r.Attach(sessionID)
	if err != nil {
		return err
	}
	return sess.PTY.Terminate(r.cfg.KillGrace)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the ids of all live sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll terminates every session. Used on daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.PTY.Terminate(r.cfg.KillGrace); err != nil {
			log.Printf("registry: terminate %s failed: %v", s.ID, err)
		}
	}
}

// sessionExited runs on the PTY exit callback: it removes the session,
// notifies the bound connection and records the end.
func (r *Registry) sessionExited(sess *Session, info pty.ExitInfo) {
	// Mark terminated before touching the map, so a create publishing
	// this session concurrently sees the state and skips the insert.
	sess.mu.Lock()
	sess.status = StatusTerminated
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
		sess.idleTimer = nil
	}
	conn := sess.conn
	sess.conn = nil
	sess.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	reason := info.Reason()
	if conn != nil {
		conn.Terminated(reason)
	}

	if rec := r.cfg.Recorder; rec != nil {
		if err := rec.SessionEnded(sess.ID, time.Now(), info.Code, reason); err != nil {
			log.Printf("registry: record session end failed: %v", err)
		}
	}

	log.Printf("registry: session %s ended: %s", sess.ID, reason)
}

// Bind makes conn the session's single connection. Under the evict
// policy a prior connection is closed with a superseded status; under
// the reject policy Bind fails instead.
func (s *Session) Bind(conn Conn) error {
	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return errors.SessionNotFound(s.ID)
	}
	prior := s.conn
	if prior != nil && s.reg.cfg.AttachPolicy == PolicyReject {
		s.mu.Unlock()
		return errors.SessionBusy(s.ID)
	}
	s.conn = conn
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if prior != nil {
		log.Printf("registry: session %s superseded by new connection", s.ID)
		prior.Terminated("superseded")
	}
	return nil
}

// Unbind detaches conn if it is still the bound connection and restarts
// the idle timer. A stale unbind from an evicted connection is a no-op.
func (s *Session) Unbind(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn = nil
	s.PTY.BindSink(nil)
	if s.status == StatusRunning {
		s.armIdleTimerLocked()
	}
}

// armIdleTimerLocked schedules the idle reap. Caller holds s.mu.
func (s *Session) armIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.reg.cfg.IdleTimeout, func() {
		s.mu.Lock()
		idle := s.conn == nil && s.status == StatusRunning
		s.mu.Unlock()
		if !idle {
			return
		}
		log.Printf("registry: session %s idle for %s, terminating", s.ID, s.reg.cfg.IdleTimeout)
		if err := s.PTY.Terminate(s.reg.cfg.KillGrace); err != nil {
			log.Printf("registry: idle terminate %s failed: %v", s.ID, err)
		}
	})
}

// Status reports the session's lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Bound reports whether a connection is currently attached.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}
