// Package protocol frames the binary collaboration protocol. Every websocket
// message is one frame: a message-type tag, a subtype byte for sync and auth
// traffic, then the payload. The codec is symmetric and implicitly versioned
// by tag value; unknown tags decode cleanly and are ignored by handlers so
// future message kinds do not break older peers.
package protocol

import (
	"encoding/json"
	"errors"
)

type MessageType byte

const (
	MessageSync      MessageType = 0
	MessageAwareness MessageType = 1
	MessageAuth      MessageType = 2
	MessageWarning   MessageType = 3
)

// Sync subtypes. Step 1 and 2 carry state-vector negotiation messages; an
// update carries a raw incremental delta.
const (
	SyncStep1  byte = 0
	SyncStep2  byte = 1
	SyncUpdate byte = 2
)

// Auth subtypes. The token message is client to server only; the other two
// are the server's verdict.
const (
	AuthToken    byte = 0
	AuthAccepted byte = 1
	AuthDenied   byte = 2
)

// Warning codes relayed to an offending connection.
const (
	WarnPermissionViolation = "permission-violation"
	WarnProtocolError       = "protocol-error"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded protocol message.
type Frame struct {
	Type    MessageType
	Sub     byte // subtype for sync and auth frames, zero otherwise
	Payload []byte
}

func hasSubtype(t MessageType) bool {
	return t == MessageSync || t == MessageAuth
}

// Encode serializes a frame.
func Encode(f Frame) []byte {
	size := 1 + len(f.Payload)
	if hasSubtype(f.Type) {
		size++
	}
	out := make([]byte, 0, size)
	out = append(out, byte(f.Type))
	if hasSubtype(f.Type) {
		out = append(out, f.Sub)
	}
	return append(out, f.Payload...)
}

// Decode parses a frame. Frames with an unknown message type decode without
// error so the caller can skip them.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrMalformedFrame
	}
	f := Frame{Type: MessageType(raw[0])}
	rest := raw[1:]
	if hasSubtype(f.Type) {
		if len(rest) == 0 {
			return Frame{}, ErrMalformedFrame
		}
		f.Sub = rest[0]
		rest = rest[1:]
	}
	f.Payload = rest
	return f, nil
}

// AuthRequest is the first client frame: credential plus the requested room.
type AuthRequest struct {
	Token string `json:"token"`
	Room  string `json:"room"`
}

// AuthGranted announces the resolved identity and role to an admitted client.
type AuthGranted struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Role   string `json:"role"`
}

// AuthRefusal carries the machine-readable refusal reason.
type AuthRefusal struct {
	Reason string `json:"reason"`
}

// Warning is sent only to the connection that triggered it.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AwarenessDiff is the three-way presence delta broadcast on change. States
// holds the payloads for added and updated client ids; a full-state resync to
// a new joiner is expressed as a diff where every client is added.
type AwarenessDiff struct {
	Added   []int64                   `json:"added"`
	Updated []int64                   `json:"updated"`
	Removed []int64                   `json:"removed"`
	States  map[int64]json.RawMessage `json:"states,omitempty"`
}

// Empty reports whether the diff carries no change.
func (d AwarenessDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// EncodeSync frames a sync-protocol message or an update delta.
func EncodeSync(sub byte, payload []byte) []byte {
	return Encode(Frame{Type: MessageSync, Sub: sub, Payload: payload})
}

// EncodeAwareness frames a presence diff.
func EncodeAwareness(diff AwarenessDiff) ([]byte, error) {
	payload, err := json.Marshal(diff)
	if err != nil {
		return nil, err
	}
	return Encode(Frame{Type: MessageAwareness, Payload: payload}), nil
}

// EncodeAuth frames an auth message with a JSON body.
func EncodeAuth(sub byte, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return Encode(Frame{Type: MessageAuth, Sub: sub, Payload: payload}), nil
}

// EncodeWarning frames a warning for the offending connection.
func EncodeWarning(code, message string) []byte {
	payload, _ := json.Marshal(Warning{Code: code, Message: message})
	return Encode(Frame{Type: MessageWarning, Payload: payload})
}
