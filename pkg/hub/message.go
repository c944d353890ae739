// Package hub provides a thread-safe websocket broadcast hub using the
// channel-based fan-out pattern. Monitoring clients attach to it to watch
// call lifecycle events and live audio.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., mu-law audio taps)
	BinaryMessage
)

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event is one call lifecycle notification pushed to monitoring clients.
type Event struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`

	Role   string `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
	Turn   int    `json:"turn,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event types emitted over the monitor socket.
const (
	EventCallStarted = "call.started"
	EventTranscript  = "call.transcript"
	EventCallStopped = "call.stopped"
	EventCallError   = "call.error"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, callID string) Event {
	return Event{Type: eventType, CallID: callID, Timestamp: time.Now().UTC()}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}
