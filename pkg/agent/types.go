// Package agent implements the conversation orchestration state machine for
// one test call: persona bootstrap, audio bridging between the telephony
// stream and the realtime session, per-turn moderation, and lifecycle.
package agent

import (
	"errors"
	"time"

	"github.com/dialcheck/dialcheck/pkg/persona"
)

// Mode selects the dialogue pipeline the agent is assembled with.
type Mode int

const (
	// ModeSpeechToSpeech runs recognition, reasoning and synthesis in one
	// cloud realtime session.
	ModeSpeechToSpeech Mode = iota
	// ModeTextPipeline runs separate transcription, reasoning and synthesis
	// stages.
	ModeTextPipeline
)

// String returns a human-readable mode.
func (m Mode) String() string {
	switch m {
	case ModeSpeechToSpeech:
		return "speech-to-speech"
	case ModeTextPipeline:
		return "text-pipeline"
	default:
		return "unknown"
	}
}

// State represents the agent lifecycle. Stopped is terminal.
type State int

const (
	// StateIdle indicates the agent was constructed but not started.
	StateIdle State = iota
	// StateInitializing indicates persona generation and transport setup.
	StateInitializing
	// StateStreaming indicates the call is live.
	StateStreaming
	// StateStopping indicates shutdown is in progress.
	StateStopping
	// StateStopped is terminal and irreversible.
	StateStopped
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sentinel errors for the agent package.
var (
	// ErrAlreadyStarted indicates Start was called on a non-idle agent.
	ErrAlreadyStarted = errors.New("agent: already started")

	// ErrNotReady indicates the transport never reached readiness.
	ErrNotReady = errors.New("agent: transport never became ready")

	// ErrMissingCompleter indicates no text model client was supplied.
	ErrMissingCompleter = errors.New("agent: completer is required")
)

// AudioChunk is one inbound media frame. Created at ingress, consumed once.
type AudioChunk struct {
	Data            []byte
	StreamID        string
	ModelInstanceID string
}

// ConversationItem is one transcript line. The transcript is append-only and
// owned exclusively by the agent for the call lifetime.
type ConversationItem struct {
	Role        string // "user", "assistant" or "moderator"
	DisplayName string
	Content     string
}

// ModelConfig carries the tunables of a model instance.
type ModelConfig struct {
	Language      string
	MaxTurns      int
	Posture       persona.Posture
	CustomPosture string
}

// ModelInstance describes the conversational model driving the testing role.
// Read-only for the agent's lifetime.
type ModelInstance struct {
	Provider string
	Model    string
	Voice    string
	Config   ModelConfig
}

// DefaultModelInstance returns the instance used when none is supplied.
func DefaultModelInstance() ModelInstance {
	return ModelInstance{
		Provider: "openai",
		Model:    "gpt-4o-realtime-preview",
		Voice:    "alloy",
		Config: ModelConfig{
			Language: "en-US",
			MaxTurns: 10,
			Posture:  persona.PostureBaseline,
		},
	}
}

// Summary is the terminal notification payload, carrying the artifacts the
// bridge layer archives.
type Summary struct {
	CallID     string
	Duration   time.Duration
	Turns      int
	Transcript []ConversationItem
	Audio      []byte // concatenated inbound mu-law
	Reason     string // final moderation explanation, informational only
}
