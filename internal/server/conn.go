package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/workdesk/termbridge/internal/errors"
	"github.com/workdesk/termbridge/internal/frame"
	"github.com/workdesk/termbridge/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send transport pings with this period (must be less than pongWait).
	pingPeriod = 30 * time.Second
	// Maximum message size allowed from the peer.
	maxMessageSize = 512 * 1024
)

// closeSentinel is a pseudo message type queued on the send channel to
// make the write pump send a close frame and stop. Queued frames ahead of
// it still go out first.
const closeSentinel = -1

type outMsg struct {
	messageType int
	data        []byte
}

// Conn is one bridge connection: the single WebSocket bound to a session.
// It pumps PTY output to the peer and peer input to the PTY, and answers
// control messages in between.
type Conn struct {
	ws      *websocket.Conn
	server  *Server
	session *registry.Session

	send chan outMsg
	done chan struct{}
	once sync.Once

	// inputLimiter caps input messages per second. Terminal input is
	// bursty (paste) but a runaway client should not be able to saturate
	// the process stdin.
	inputLimiter *rate.Limiter

	remoteAddr string
}

func newConn(s *Server, ws *websocket.Conn) *Conn {
	return &Conn{
		ws:           ws,
		server:       s,
		send:         make(chan outMsg, sendBufferSize),
		done:         make(chan struct{}),
		inputLimiter: rate.NewLimiter(rate.Limit(1000), 10),
		remoteAddr:   ws.RemoteAddr().String(),
	}
}

// shutdown aborts the connection without a close handshake. Used on
// server stop.
func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
	c.ws.Close()
}

// enqueue queues one wire message for the write pump. It blocks when the
// buffer is full so frame order is preserved end to end; a closed
// connection unblocks it via done.
func (c *Conn) enqueue(messageType int, data []byte) bool {
	select {
	case c.send <- outMsg{messageType: messageType, data: data}:
		return true
	case <-c.done:
		return false
	}
}

// writeOutput is the PTY sink. The PTY pump reuses its read buffer, so
// the bytes are copied before they cross the channel.
func (c *Conn) writeOutput(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	mt, payload := frame.EncodeRaw(buf)
	c.enqueue(mt, payload)
}

func (c *Conn) sendControl(ctrl frame.Control) {
	mt, payload, err := frame.EncodeControl(ctrl)
	if err != nil {
		log.Printf("server: encode control failed: %v", err)
		return
	}
	c.enqueue(mt, payload)
}

// Terminated implements registry.Conn. The terminated status frame is
// queued behind any remaining output, then the connection closes.
func (c *Conn) Terminated(reason string) {
	c.sendControl(frame.Terminated(reason))
	c.enqueue(closeSentinel, nil)
}

// writePump serializes all writes to the WebSocket. It is the only
// goroutine allowed to write. Transport-level pings keep intermediaries
// from dropping a quiet connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.messageType == closeSentinel {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(msg.messageType, msg.data); err != nil {
				log.Printf("server: write to %s failed: %v", c.remoteAddr, err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump reads peer messages until the connection dies: raw frames go
// to the process, control frames are dispatched here. Malformed control
// frames draw an advisory error frame and are otherwise ignored.
func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("server: read from %s failed: %v", c.remoteAddr, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := frame.Decode(messageType, data)
		if err != nil {
			// The malformed payload is not forwarded to the process.
			c.sendControl(frame.Error(errors.InvalidControl(err.Error()).Error()))
			continue
		}

		if f.IsRaw() {
			c.handleInput(f.Raw)
			continue
		}
		c.handleControl(*f.Control)
	}
}

func (c *Conn) handleInput(data []byte) {
	if !c.inputLimiter.Allow() {
		c.sendControl(frame.Error(errors.RateLimited().Error()))
		return
	}
	if _, err := c.session.PTY.Write(data); err != nil {
		c.sendControl(frame.Error(errors.Wrap(errors.CodeInputWriteFailed, "write to process failed", err).Error()))
	}
}

func (c *Conn) handleControl(ctrl frame.Control) {
	switch ctrl.Type {
	case frame.ControlResize:
		if err := c.session.PTY.Resize(ctrl.Rows, ctrl.Cols); err != nil {
			c.sendControl(frame.Error(errors.GetMessage(err)))
		}

	case frame.ControlPing:
		c.sendControl(frame.Pong())

	case frame.ControlPong:
		// Heartbeat reply from the peer, nothing to update server-side.

	case frame.ControlStatus, frame.ControlError:
		// Status and error frames are server-to-client only.
		log.Printf("server: ignoring %s frame from %s", ctrl.Type, c.remoteAddr)
	}
}
