// Package realtime manages the bidirectional session with the cloud
// speech-to-speech endpoint. It dials the realtime WebSocket, negotiates the
// session configuration, gates outbound audio through a silence filter, and
// normalizes the upstream event stream into a small set of callbacks.
package realtime

import (
	"context"
	"errors"
	"time"
)

// ConnectionState represents the transport session state.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the WebSocket dial is in progress.
	StateConnecting
	// StateSessionNegotiating indicates the session configuration was sent
	// and the acknowledgement is pending.
	StateSessionNegotiating
	// StateReady indicates the session acknowledged every declared parameter.
	StateReady
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSessionNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the session is not established.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrConnectionFailed indicates the WebSocket dial failed.
	ErrConnectionFailed = errors.New("realtime: connection failed")
)

// TranscriptItem is one normalized transcript event. Three upstream event
// subtypes collapse into it: the user's input transcription, the assistant's
// audio transcript, and the assistant's text output.
type TranscriptItem struct {
	Role string // "user" or "assistant"
	Text string
}

// Session is the transport surface the conversation agent depends on.
// Client implements it against the cloud endpoint; Mock implements it
// in-memory for tests.
type Session interface {
	// Connect dials the endpoint and sends the session configuration.
	// Readiness is asserted asynchronously; poll Ready.
	Connect(ctx context.Context) error

	// Ready reports whether the session acknowledged the configuration.
	Ready() bool

	// State returns the current connection state.
	State() ConnectionState

	// SendAudio transmits one 8kHz mu-law frame. Silent frames are dropped
	// before transmission.
	SendAudio(mulaw []byte) error

	// OnAudio sets the callback for synthesized audio deltas (8kHz mu-law).
	OnAudio(fn func(mulaw []byte))

	// OnTranscript sets the callback for normalized transcript events.
	OnTranscript(fn func(item TranscriptItem))

	// OnAudioDone sets the callback for the end-of-turn signal.
	OnAudioDone(fn func())

	// OnError sets the callback for transport errors.
	OnError(fn func(err error))

	// Disconnect closes the session. Safe to call repeatedly.
	Disconnect() error
}

// Config holds the session parameters declared to the endpoint.
type Config struct {
	APIKey  string
	BaseURL string // defaults to the OpenAI realtime endpoint
	Model   string
	Voice   string

	// Instructions is the persona prompt for the session.
	Instructions string

	// TranscriptionModel transcribes inbound caller audio.
	TranscriptionModel string

	// VADThreshold and VADSilence configure server-driven turn detection.
	VADThreshold float64
	VADSilence   time.Duration
}

// withDefaults fills unset fields with the values the session declares.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-realtime-preview"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = "whisper-1"
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = 0.5
	}
	if c.VADSilence == 0 {
		c.VADSilence = time.Second
	}
	return c
}
