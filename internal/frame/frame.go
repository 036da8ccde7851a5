// Package frame encodes and decodes the two message kinds carried on a
// bridge connection: raw terminal bytes and structured control messages.
//
// The WebSocket message type is the sole discriminant. Binary messages are
// raw frames whose payload is the process byte stream verbatim. Text
// messages are JSON control messages with a "type" field. The codec never
// buffers across messages; a frame always fits in one wire message.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// ControlType identifies a control message.
type ControlType string

const (
	ControlResize ControlType = "resize"
	ControlPing   ControlType = "ping"
	ControlPong   ControlType = "pong"
	ControlStatus ControlType = "status"
	ControlError  ControlType = "error"
)

// Status states carried by ControlStatus frames.
const (
	StateConnected  = "connected"
	StateTerminated = "terminated"
)

// ReasonSuperseded is the termination reason sent to a connection that was
// evicted by a newer attach to the same session.
const ReasonSuperseded = "superseded"

// Control is a structured control message. Fields beyond Type are
// populated per control type: Rows/Cols for resize, State/PID/Reason for
// status, Message for error.
type Control struct {
	Type    ControlType `json:"type"`
	Rows    int         `json:"rows,omitempty"`
	Cols    int         `json:"cols,omitempty"`
	State   string      `json:"state,omitempty"`
	PID     int         `json:"pid,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Frame is one decoded wire message. Exactly one of Raw and Control is set.
type Frame struct {
	Raw     []byte
	Control *Control
}

// IsRaw reports whether the frame carries raw terminal bytes.
func (f Frame) IsRaw() bool {
	return f.Control == nil
}

// EncodeRaw wraps process output bytes as a binary wire message.
func EncodeRaw(data []byte) (messageType int, payload []byte) {
	return websocket.BinaryMessage, data
}

// EncodeControl serializes a control message as a text wire message.
func EncodeControl(c Control) (messageType int, payload []byte, err error) {
	data, err := json.Marshal(c)
	if err != nil {
		return 0, nil, fmt.Errorf("encode control frame: %w", err)
	}
	return websocket.TextMessage, data, nil
}

// Decode converts one wire message into a Frame. Binary messages always
// decode to a raw frame. Text messages are parsed as a control message; if
// the payload is not valid JSON or names an unknown type, Decode returns
// the bytes as a raw frame together with a non-nil error so the caller can
// report the violation without losing the payload.
func Decode(messageType int, data []byte) (Frame, error) {
	if messageType != websocket.TextMessage {
		return Frame{Raw: data}, nil
	}

	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Frame{Raw: data}, fmt.Errorf("malformed control frame: %w", err)
	}

	switch c.Type {
	case ControlResize, ControlPing, ControlPong, ControlStatus, ControlError:
		return Frame{Control: &c}, nil
	default:
		return Frame{Raw: data}, fmt.Errorf("unknown control type %q", c.Type)
	}
}

// Resize builds a resize control message.
func Resize(rows, cols int) Control {
	return Control{Type: ControlResize, Rows: rows, Cols: cols}
}

// Ping builds a heartbeat request.
func Ping() Control {
	return Control{Type: ControlPing}
}

// Pong builds a heartbeat reply.
func Pong() Control {
	return Control{Type: ControlPong}
}

// Connected builds the status message sent once a connection is bound to a
// running session.
func Connected(pid int) Control {
	return Control{Type: ControlStatus, State: StateConnected, PID: pid}
}

// Terminated builds the status message sent when a session ends. The
// reason describes the exit ("exit status 0", "signal: killed",
// "superseded", ...).
func Terminated(reason string) Control {
	return Control{Type: ControlStatus, State: StateTerminated, Reason: reason}
}

// Error builds an advisory error message. It never closes the connection
// by itself.
func Error(message string) Control {
	return Control{Type: ControlError, Message: message}
}
