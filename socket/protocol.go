package socket

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	FrameTypeConnect    = "connect"
	FrameTypeDisconnect = "disconnect"
	FrameTypeEvent      = "event"
	FrameTypeError      = "error"
)

// Error codes carried by error frames.
const (
	CodeInvalidNamespace = "INVALID_NAMESPACE"
	CodeNotConnected     = "NOT_CONNECTED"
	CodeBadFrame         = "BAD_FRAME"
)

// Disconnect reasons passed to "disconnect" handlers.
const (
	ReasonTransportClose   = "transport close"
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonServerShutdown   = "server shutdown"
)

// Frame is one websocket text message in either direction.
type Frame struct {
	Type  string            `json:"type"`
	Nsp   string            `json:"nsp"`
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
	SID   string            `json:"sid,omitempty"`
	Error *FrameError       `json:"error,omitempty"`
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeEvent builds an event frame for nsp.
func EncodeEvent(nsp, event string, args ...any) ([]byte, error) {
	f := Frame{Type: FrameTypeEvent, Nsp: nsp, Event: event}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode arg %d of %s: %w", i, event, err)
		}
		f.Args = append(f.Args, raw)
	}
	return json.Marshal(f)
}

// DecodeArgs unmarshals every raw argument into a plain Go value.
func DecodeArgs(raw []json.RawMessage) ([]any, error) {
	args := make([]any, 0, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode arg %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func errorFrame(nsp, code, message string) Frame {
	return Frame{Type: FrameTypeError, Nsp: nsp, Error: &FrameError{Code: code, Message: message}}
}
