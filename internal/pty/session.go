// Package pty runs one interactive process on a pseudo-terminal and
// exposes its byte streams to the bridge.
//
// A PTY is a master/slave device pair: the process runs attached to the
// slave and behaves as if it had a real terminal (colors, line editing,
// SIGWINCH on resize), while the bridge reads and writes the master.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// DefaultKillGrace is how long Terminate waits after SIGTERM before
// escalating to SIGKILL.
const DefaultKillGrace = 3 * time.Second

// ExitInfo describes how the process ended.
type ExitInfo struct {
	Code     int    // exit code, -1 when killed by a signal
	Signaled bool   // true when the process died from a signal
	Signal   string // signal name when Signaled
}

// Reason renders the exit as a short human-readable string, suitable for
// a terminated status frame.
func (e ExitInfo) Reason() string {
	if e.Signaled {
		return fmt.Sprintf("signal: %s", e.Signal)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Sink receives process output. Chunks arrive in read order; the sink must
// not retain the slice past the call.
type Sink func(data []byte)

// Session owns one process and its PTY. Output flows to a single bound
// sink; rebinding is a hard switch and output produced while no sink is
// bound is dropped, never buffered.
type Session struct {
	Command   string
	Args      []string
	Dir       string
	CreatedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	mu      sync.Mutex
	sink    Sink
	running bool
	exit    *ExitInfo
	onExit  func(ExitInfo)

	done       chan struct{}
	outputDone chan struct{}
}

// Config holds the parameters for a new session.
type Config struct {
	Command string   // program to run
	Args    []string // program arguments
	Dir     string   // working directory, empty for inherited
	Rows    int      // initial terminal rows, minimum 1
	Cols    int      // initial terminal cols, minimum 1
	OnExit  func(ExitInfo)
}

// New allocates a session. Call Start to run the process.
func New(cfg Config) *Session {
	return &Session{
		Command:    cfg.Command,
		Args:       cfg.Args,
		Dir:        cfg.Dir,
		onExit:     cfg.OnExit,
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}
}

// Start spawns the process on a fresh PTY sized to the given dimensions
// and begins pumping its output to the bound sink.
func (s *Session) Start(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("session already running")
	}

	s.cmd = exec.Command(s.Command, s.Args...)
	s.cmd.Dir = s.Dir
	s.cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	s.CreatedAt = time.Now()

	rows, cols = clampSize(rows, cols)
	ptmx, err := pty.StartWithSize(s.cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.ptmx = ptmx
	s.running = true

	go s.pumpOutput()
	go s.waitForExit()

	return nil
}

// pumpOutput reads the PTY master in chunks and forwards each chunk to
// the currently bound sink. Chunked reads (rather than line reads) keep
// control sequences and partial line edits visible immediately.
func (s *Session) pumpOutput() {
	defer close(s.outputDone)

	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			if sink != nil {
				sink(buf[:n])
			}
		}
		if err != nil {
			// EIO is the normal master-side read error once the
			// process exits and the slave side closes.
			return
		}
	}
}

// waitForExit reaps the process, records its exit info, closes the PTY
// master and fires the exit callback.
func (s *Session) waitForExit() {
	err := s.cmd.Wait()
	<-s.outputDone

	info := extractExitInfo(err)

	s.mu.Lock()
	s.running = false
	s.exit = &info
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	cb := s.onExit
	s.mu.Unlock()

	if cb != nil {
		cb(info)
	}
	close(s.done)
}

// extractExitInfo converts the error from Wait into structured exit info.
func extractExitInfo(err error) ExitInfo {
	if err == nil {
		return ExitInfo{Code: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return ExitInfo{Code: -1, Signaled: true, Signal: ws.Signal().String()}
			}
			return ExitInfo{Code: ws.ExitStatus()}
		}
		return ExitInfo{Code: exitErr.ExitCode()}
	}
	return ExitInfo{Code: -1}
}

// BindSink makes fn the sole receiver of process output, replacing any
// previous sink. Passing nil unbinds; output is then dropped.
func (s *Session) BindSink(fn Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = fn
}

// Write sends input bytes to the process's stdin.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return 0, fmt.Errorf("session not running")
	}
	return ptmx.Write(p)
}

// Resize changes the terminal dimensions. Dimensions below 1 are clamped
// to 1 rather than rejected. The kernel delivers SIGWINCH to the
// foreground process group so TUI programs redraw.
func (s *Session) Resize(rows, cols int) error {
	rows, cols = clampSize(rows, cols)

	// Hold the lock across Setsize so Terminate cannot close the FD
	// under us.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ptmx == nil {
		return fmt.Errorf("session not running")
	}

	size := &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	if err := pty.Setsize(s.ptmx, size); err != nil {
		return fmt.Errorf("resize failed: %w", err)
	}
	return nil
}

// Size reports the PTY's current dimensions.
func (s *Session) Size() (rows, cols int, err error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return 0, 0, fmt.Errorf("session not running")
	}
	ws, err := pty.GetsizeFull(ptmx)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Rows), int(ws.Cols), nil
}

func clampSize(rows, cols int) (int, int) {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return rows, cols
}

// PID returns the process id, or 0 if the process is not running.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || !s.running {
		return 0
	}
	return s.cmd.Process.Pid
}

// IsRunning reports whether the process is still alive.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Exit returns the exit info once the process has ended, nil before.
func (s *Session) Exit() *ExitInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Done returns a channel closed when the process has exited and its
// output pump has drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Terminate asks the process to exit with SIGTERM and escalates to
// SIGKILL after the grace period. It returns once the process is gone.
func (s *Session) Terminate(grace time.Duration) error {
	s.mu.Lock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	proc := s.cmd.Process
	s.mu.Unlock()

	if grace <= 0 {
		grace = DefaultKillGrace
	}

	_ = proc.Signal(unix.SIGTERM)

	select {
	case <-s.done:
		return nil
	case <-time.After(grace):
	}

	_ = proc.Kill()
	<-s.done
	return nil
}
