// Package pipeline provides the staged speech components used when a call
// runs in text-pipeline mode: speech recognition on the inbound leg and
// speech synthesis on the outbound leg. Audio crosses the package boundary
// as 8kHz G.711 mu-law, the telephony native format.
package pipeline

import (
	"context"
	"errors"
)

var (
	ErrMissingAPIKey = errors.New("pipeline: API key is required")
	ErrEmptyAudio    = errors.New("pipeline: audio payload is empty")
	ErrEmptyText     = errors.New("pipeline: text payload is empty")
)

// Transcriber converts one burst of 8kHz mu-law audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mulaw []byte) (string, error)
}

// Synthesizer converts text into 8kHz mu-law audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
