package client

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/workdesk/termbridge/internal/frame"
)

// State of the bridge connection as seen by the client.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

const (
	DefaultPingInterval      = 30 * time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 2 * time.Second

	// resizeDebounce coalesces bursts of viewport changes (a window drag
	// fires dozens) into one resize frame carrying the final size.
	resizeDebounce = 250 * time.Millisecond
)

// Config for a Client.
type Config struct {
	Endpoint string
	Dialer   Dialer
	// Output receives process bytes verbatim plus local status markers.
	Output io.Writer

	PingInterval      time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// OnStateChange observes transitions. Optional.
	OnStateChange func(State)
}

// Client runs one bridge connection lifecycle: connect, pump, heartbeat,
// reconnect on loss, terminate when the session ends or retries run out.
type Client struct {
	cfg Config

	mu        sync.Mutex
	state     State
	transport Transport

	// gen invalidates goroutines and timers belonging to a previous
	// transport after a reconnect.
	gen int

	attempt      int
	awaitingPong bool

	// closed is set once the client has been torn down, by Close or by
	// terminate, and makes the done channel close exactly once.
	closed bool

	pingTimer      *time.Timer
	reconnectTimer *time.Timer
	resizeTimer    *time.Timer

	lastRows, lastCols int

	done chan struct{}
}

// NewClient creates a client. Call Connect to start.
func NewClient(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		cfg:   cfg,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the client is finished, whether by session end,
// retry exhaustion or a deliberate Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect dials the endpoint and starts the pumps. A failed initial dial
// enters the same bounded retry loop as an established connection that
// drops; the client terminates once the attempts are spent.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed || c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("client already started (state %s)", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting)

	t, err := c.cfg.Dialer.Dial(c.cfg.Endpoint)
	if err != nil {
		c.mu.Lock()
		if c.closed || c.state != StateConnecting {
			c.mu.Unlock()
			return nil
		}
		c.state = StateReconnecting
		c.mu.Unlock()
		c.notify(StateReconnecting)
		c.marker("connect failed")
		c.scheduleReconnect()
		return nil
	}

	c.adoptTransport(t)
	return nil
}

// adoptTransport installs a freshly dialed transport and starts its read
// loop and heartbeat.
func (c *Client) adoptTransport(t Transport) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.transport = t
	c.attempt = 0
	c.awaitingPong = false
	c.state = StateConnected
	c.armPingLocked(gen)
	rows, cols := c.lastRows, c.lastCols
	c.mu.Unlock()
	c.notify(StateConnected)

	// Re-establish the viewport; the server-side PTY kept the old size
	// across a reconnect and knows nothing about resizes missed while
	// disconnected.
	if rows > 0 && cols > 0 {
		t.WriteControl(frame.Resize(rows, cols))
	}

	go c.readLoop(t, gen)
}

func (c *Client) readLoop(t Transport, gen int) {
	for {
		f, err := t.ReadFrame()
		if err != nil {
			c.transportLost(gen)
			return
		}

		if f.IsRaw() {
			if len(f.Raw) > 0 {
				c.cfg.Output.Write(f.Raw)
			}
			continue
		}

		switch f.Control.Type {
		case frame.ControlPong:
			c.handlePong(gen)

		case frame.ControlPing:
			t.WriteControl(frame.Pong())

		case frame.ControlStatus:
			switch f.Control.State {
			case frame.StateConnected:
				c.marker(fmt.Sprintf("connected (pid %d)", f.Control.PID))
			case frame.StateTerminated:
				c.terminate("session ended: " + f.Control.Reason)
				return
			}

		case frame.ControlError:
			c.marker("server: " + f.Control.Message)

		case frame.ControlResize:
			// Resize flows client to server only.
		}
	}
}

// Write forwards terminal input. Input while disconnected is dropped, not
// queued; stale keystrokes replayed after a reconnect are worse than lost
// ones. Implements io.Writer so a stdin pump can io.Copy into it.
func (c *Client) Write(p []byte) (int, error) {
	c.mu.Lock()
	t := c.transport
	st := c.state
	c.mu.Unlock()

	if t == nil || (st != StateConnected && st != StateDegraded) {
		return len(p), nil
	}
	// A write failure surfaces through the read loop as a lost
	// connection; the input itself is treated as dropped.
	t.WriteRaw(p)
	return len(p), nil
}

// Resize records a viewport change and sends it after the debounce
// window. Only the latest size in the window goes out.
func (c *Client) Resize(rows, cols int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRows, c.lastCols = rows, cols
	// Without a live transport the recorded size is replayed when the
	// next one is adopted, so the debounce timer stays unarmed.
	if c.state != StateConnected && c.state != StateDegraded {
		return
	}
	if c.resizeTimer != nil {
		return
	}
	c.resizeTimer = time.AfterFunc(resizeDebounce, c.flushResize)
}

func (c *Client) flushResize() {
	c.mu.Lock()
	c.resizeTimer = nil
	rows, cols := c.lastRows, c.lastCols
	t := c.transport
	st := c.state
	c.mu.Unlock()

	if t == nil || (st != StateConnected && st != StateDegraded) {
		return
	}
	t.WriteControl(frame.Resize(rows, cols))
}

// Close shuts the client down. A close while connected or degraded is a
// deliberate detach and returns the client to idle; from any other state
// it terminates. Either way the connection and timers are torn down and
// Done waiters are released. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnected || c.state == StateDegraded {
		c.closed = true
		c.gen++
		c.stopTimersLocked()
		t := c.transport
		c.transport = nil
		c.state = StateIdle
		c.mu.Unlock()

		if t != nil {
			t.Close()
		}
		c.notify(StateIdle)
		close(c.done)
		return nil
	}
	c.mu.Unlock()
	c.terminate("")
	return nil
}

// armPingLocked schedules the next heartbeat tick. Caller holds c.mu.
func (c *Client) armPingLocked(gen int) {
	c.pingTimer = time.AfterFunc(c.cfg.PingInterval, func() { c.pingTick(gen) })
}

func (c *Client) pingTick(gen int) {
	c.mu.Lock()
	if gen != c.gen || (c.state != StateConnected && c.state != StateDegraded) {
		c.mu.Unlock()
		return
	}
	degraded := false
	if c.awaitingPong && c.state == StateConnected {
		c.state = StateDegraded
		degraded = true
	}
	c.awaitingPong = true
	t := c.transport
	c.armPingLocked(gen)
	c.mu.Unlock()

	if degraded {
		c.notify(StateDegraded)
		c.marker("connection degraded")
	}
	if t != nil {
		t.WriteControl(frame.Ping())
	}
}

func (c *Client) handlePong(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.awaitingPong = false
	recovered := c.state == StateDegraded
	if recovered {
		c.state = StateConnected
	}
	c.mu.Unlock()

	if recovered {
		c.notify(StateConnected)
		c.marker("connection restored")
	}
}

// transportLost runs when a read loop dies. Stale generations (already
// superseded by a reconnect or termination) are ignored.
func (c *Client) transportLost(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	t := c.transport
	c.transport = nil
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
	c.notify(StateReconnecting)
	c.marker("connection lost")
	c.scheduleReconnect()
}

// scheduleReconnect arms the next bounded reconnect attempt, or gives up
// once the attempts are spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.attempt++
	if c.attempt > c.cfg.ReconnectAttempts {
		c.mu.Unlock()
		c.terminate("session ended: reconnect failed")
		return
	}
	attempt, max := c.attempt, c.cfg.ReconnectAttempts
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, c.tryReconnect)
	c.mu.Unlock()

	c.marker(fmt.Sprintf("reconnecting (%d/%d)", attempt, max))
}

func (c *Client) tryReconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	t, err := c.cfg.Dialer.Dial(c.cfg.Endpoint)
	if err != nil {
		c.scheduleReconnect()
		return
	}
	c.adoptTransport(t)
}

// terminate moves to the terminal state, tearing down timers and the
// transport. A non-empty reason is written as a marker.
func (c *Client) terminate(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.stopTimersLocked()
	t := c.transport
	c.transport = nil
	c.state = StateTerminated
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if reason != "" {
		c.marker(reason)
	}
	c.notify(StateTerminated)
	close(c.done)
}

// stopTimersLocked stops all pending timers. Caller holds c.mu.
func (c *Client) stopTimersLocked() {
	for _, t := range []*time.Timer{c.pingTimer, c.reconnectTimer, c.resizeTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.pingTimer, c.reconnectTimer, c.resizeTimer = nil, nil, nil
}

// marker writes a local status line into the terminal stream, visually
// separated from process output.
func (c *Client) marker(text string) {
	fmt.Fprintf(c.cfg.Output, "\r\n[termbridge] %s\r\n", text)
}

func (c *Client) notify(st State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(st)
	}
}
