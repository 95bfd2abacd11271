// Package protocol defines the wire format exchanged with a Voxta hub:
// record-separated JSON frames, the envelope that wraps every frame, the
// loosely-typed event payloads the server sends, and the outbound command
// payloads the client builds.
package protocol

import "encoding/json"

// RecordSeparator terminates every frame on the wire.
const RecordSeparator byte = 0x1e

// FrameType identifies the kind of frame carried by an Envelope.
type FrameType int

// Frame types used by the hub protocol. Frames with any other type are
// ignored by the client, never treated as fatal.
const (
	FrameInvocation FrameType = 1
	FrameCompletion FrameType = 3
	FramePing       FrameType = 6
	FrameClose      FrameType = 7
)

// Envelope is the outer structure of every frame. Which fields are
// meaningful depends entirely on Type: invocations carry Target and
// Arguments, completions carry InvocationID plus Error or Result, pings and
// closes carry nothing.
type Envelope struct {
	Type         FrameType         `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`

	// Completion fields (Type == FrameCompletion).
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Handshake is the first frame sent after the socket opens. It is not an
// Envelope: the hub expects a bare protocol declaration.
type Handshake struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// DefaultHandshake returns the JSON text-protocol handshake.
func DefaultHandshake() Handshake {
	return Handshake{Protocol: "json", Version: 1}
}

// Marshal serializes the envelope and appends the record separator, producing
// a complete wire frame.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, RecordSeparator), nil
}

// FirstArgument decodes the first invocation argument into a Payload.
// It returns false when the envelope has no arguments or the argument is not
// a JSON object.
func (e *Envelope) FirstArgument() (Payload, bool) {
	if len(e.Arguments) == 0 {
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal(e.Arguments[0], &p); err != nil || p == nil {
		return nil, false
	}
	return p, true
}
