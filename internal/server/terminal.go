package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workdesk/termbridge/internal/errors"
	"github.com/workdesk/termbridge/internal/frame"
)

// handleTerminal upgrades /terminal/{sessionId} to a WebSocket and runs
// the bridge until either side closes. A fresh session id creates the
// session in place with the server defaults; a known id attaches to the
// existing session, evicting or rejecting a prior connection per the
// registry policy.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/terminal/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		log.Printf("server: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(s, ws)
	if !s.register(c) {
		ws.Close()
		return
	}
	defer s.unregister(c)

	sess, err := s.registry.Attach(sessionID)
	if errors.IsCode(err, errors.CodeSessionNotFound) {
		sess, err = s.registry.CreateWithID(sessionID, "", "", nil, s.defaultRows, s.defaultCols)
	}
	if err != nil {
		c.reject(err)
		return
	}

	if err := sess.Bind(c); err != nil {
		c.reject(err)
		return
	}
	c.session = sess

	log.Printf("server: %s attached to session %s", c.remoteAddr, sessionID)

	go c.writePump()

	// The status frame goes out before any output so the client knows the
	// bridge is live before bytes arrive.
	c.sendControl(frame.Connected(sess.PTY.PID()))
	sess.PTY.BindSink(c.writeOutput)

	c.readPump()

	sess.Unbind(c)
	c.shutdown()
	log.Printf("server: %s detached from session %s", c.remoteAddr, sessionID)
}

// reject reports a bind failure on a fresh connection and closes it. The
// write pump has not started yet, so writing directly is safe.
func (c *Conn) reject(err error) {
	code, message := errors.ToCodeAndMessage(err)
	log.Printf("server: rejecting %s: %s: %s", c.remoteAddr, code, message)

	if mt, payload, encErr := frame.EncodeControl(frame.Error(code + ": " + message)); encErr == nil {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(mt, payload)
	}
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	c.shutdown()
}
