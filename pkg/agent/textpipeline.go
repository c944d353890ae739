package agent

import (
	"context"
	"fmt"

	"github.com/dialcheck/dialcheck/internal/llm"
	"github.com/dialcheck/dialcheck/internal/log"
	"github.com/dialcheck/dialcheck/pkg/debounce"
)

// textPipeline runs the separate transcription / reasoning / synthesis
// stages of ModeTextPipeline. Raw audio partials are debounced per stream so
// one quiet period becomes one user turn; the reply then flows through the
// same response-done path as speech-to-speech mode, moderation included.
type textPipeline struct {
	agent    *Agent
	prompt   string // testing-role prompt, the reasoning system message
	partials *debounce.Aggregator[[]byte]
}

func newTextPipeline(a *Agent, prompt string, components *TextComponents) *textPipeline {
	p := &textPipeline{agent: a, prompt: prompt}
	p.partials = debounce.New(debounce.DefaultWindow,
		func(acc, fragment []byte) []byte { return append(acc, fragment...) },
		func(stream string, audio []byte) {
			go p.runTurn(stream, audio, components)
		})
	return p
}

func (p *textPipeline) addAudio(streamID string, mulaw []byte) {
	p.partials.Add(streamID, mulaw)
}

// runTurn turns one settled audio burst into a reply utterance.
func (p *textPipeline) runTurn(stream string, audio []byte, components *TextComponents) {
	a := p.agent
	if !a.active() {
		return
	}
	ctx := context.Background()

	text, err := components.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		a.emitError(fmt.Errorf("agent: transcription: %w", err))
		return
	}
	if text == "" {
		return
	}
	userLine := ConversationItem{Role: "user", Content: text}
	a.mu.Lock()
	a.transcript = append(a.transcript, userLine)
	history := make([]llm.Message, 0, len(a.transcript)+1)
	history = append(history, llm.Message{Role: "system", Content: p.prompt})
	for _, item := range a.transcript {
		history = append(history, llm.Message{Role: item.Role, Content: item.Content})
	}
	a.mu.Unlock()
	a.emitTranscript(userLine)

	reply, err := a.opts.Completer.Complete(ctx, a.opts.TextModel, history)
	if err != nil {
		a.emitError(fmt.Errorf("agent: reasoning: %w", err))
		return
	}

	replyLine := ConversationItem{
		Role:        "assistant",
		DisplayName: a.caller.RoleName,
		Content:     reply,
	}
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return
	}
	a.transcript = append(a.transcript, replyLine)
	a.mu.Unlock()
	a.emitTranscript(replyLine)

	mulaw, err := components.Synthesizer.Synthesize(ctx, reply)
	if err != nil {
		a.emitError(fmt.Errorf("agent: synthesis: %w", err))
		return
	}

	log.Debug("text turn complete", "call_id", a.id, "stream", stream, "reply_bytes", len(mulaw))
	a.handleAudioDelta(mulaw)
	a.handleResponseDone()
}

func (p *textPipeline) stop() {
	p.partials.Stop()
}
