package agent

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialcheck/dialcheck/internal/llm"
	"github.com/dialcheck/dialcheck/internal/log"
	"github.com/dialcheck/dialcheck/internal/metrics"
	"github.com/dialcheck/dialcheck/pkg/debounce"
	"github.com/dialcheck/dialcheck/pkg/moderation"
	"github.com/dialcheck/dialcheck/pkg/persona"
	"github.com/dialcheck/dialcheck/pkg/pipeline"
	"github.com/dialcheck/dialcheck/pkg/realtime"
)

const (
	defaultInactivityTimeout = 30 * time.Second
	defaultReadyTimeout      = 15 * time.Second
	defaultGracePeriod       = 300 * time.Millisecond
	defaultTextModel         = "gpt-4o"

	// drainInterval paces the inbound audio drain loop. Telephony media
	// streams deliver 20ms frames, so one chunk per tick keeps up.
	drainInterval = 20 * time.Millisecond

	readyPollInterval = 100 * time.Millisecond
	egressSettleLimit = 2 * time.Second

	// neverSpeakFirst keeps the simulated caller quiet until the target
	// agent has opened the call.
	neverSpeakFirst = "Never speak first. Wait until the other party has spoken before you say anything."

	egressKey = "egress"
)

// TextComponents are the sub-components assembled for ModeTextPipeline.
type TextComponents struct {
	Transcriber pipeline.Transcriber
	Synthesizer pipeline.Synthesizer
}

// Options configures an Agent. Completer is required; in speech-to-speech
// mode NewSession is required, in text-pipeline mode Text is required.
type Options struct {
	CallID       string
	Mode         Mode
	Instructions string

	// Model describes the conversational model. Nil selects defaults.
	Model *ModelInstance

	// Completer backs persona generation, moderation, and the reasoning
	// stage of the text pipeline. TextModel names the model it uses.
	Completer llm.Completer
	TextModel string

	// NewSession builds the realtime transport for speech-to-speech mode.
	NewSession func(cfg realtime.Config) (realtime.Session, error)
	// Session is the base transport configuration (credentials, endpoint).
	Session realtime.Config

	// Text supplies the transcription and synthesis stages for
	// ModeTextPipeline.
	Text *TextComponents

	InactivityTimeout time.Duration
	ReadyTimeout      time.Duration
	GracePeriod       time.Duration

	// Callbacks. None is invoked after processing has flipped false,
	// except OnStopped, which is the terminal notification itself.
	OnAudioOut     func(mulaw []byte)
	OnUtteranceEnd func()
	OnTranscript   func(item ConversationItem)
	OnError        func(err error)
	OnStopped      func(s Summary)
}

// Agent orchestrates one test call.
type Agent struct {
	opts  Options
	id    string
	model ModelInstance

	mu         sync.Mutex
	state      State
	processing bool
	stopping   bool
	speaking   bool
	turnIndex  int
	startedAt  time.Time
	queue      [][]byte
	recorded   bytes.Buffer
	transcript []ConversationItem
	lastReason string
	inactivity *time.Timer

	session   realtime.Session
	text      *textPipeline
	caller    persona.Instruction
	moderator persona.Instruction
	policy    *moderation.Policy
	egress    *debounce.Aggregator[int]
	drainStop chan struct{}
}

// New constructs an agent. The call does not touch the network; Start does.
func New(opts Options) (*Agent, error) {
	if opts.Completer == nil {
		return nil, ErrMissingCompleter
	}
	if opts.CallID == "" {
		opts.CallID = uuid.NewString()
	}
	if opts.TextModel == "" {
		opts.TextModel = defaultTextModel
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = defaultInactivityTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}

	model := DefaultModelInstance()
	if opts.Model != nil {
		model = *opts.Model
		if model.Config.Language == "" {
			model.Config.Language = "en-US"
		}
	}

	a := &Agent{
		opts:      opts,
		id:        opts.CallID,
		model:     model,
		state:     StateIdle,
		drainStop: make(chan struct{}),
	}
	a.policy = &moderation.Policy{
		Completer: opts.Completer,
		Model:     opts.TextModel,
		MaxTurns:  model.Config.MaxTurns,
	}
	a.egress = debounce.New(debounce.DefaultWindow,
		func(acc, n int) int { return acc + n },
		func(string, int) {
			if a.active() && a.opts.OnUtteranceEnd != nil {
				a.opts.OnUtteranceEnd()
			}
		})
	return a, nil
}

// ID returns the call identifier the agent is bound to.
func (a *Agent) ID() string { return a.id }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// TurnIndex returns the number of completed model responses.
func (a *Agent) TurnIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnIndex
}

// Transcript returns a copy of the transcript so far.
func (a *Agent) Transcript() []ConversationItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConversationItem, len(a.transcript))
	copy(out, a.transcript)
	return out
}

// Audio returns a copy of the accumulated inbound call audio (mu-law).
func (a *Agent) Audio() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bytes.Clone(a.recorded.Bytes())
}

// active reports whether events may still be emitted.
func (a *Agent) active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processing
}

// Start generates the personas, brings up the dialogue pipeline, and begins
// streaming. A persona failure is fatal: the call never becomes active.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.state = StateInitializing
	a.mu.Unlock()

	gen := &persona.Generator{Completer: a.opts.Completer, Model: a.opts.TextModel}
	caller, moderator, err := gen.Generate(ctx, persona.GenerateInput{
		Instructions:  a.opts.Instructions,
		Language:      a.model.Config.Language,
		MaxTurns:      a.model.Config.MaxTurns,
		Posture:       a.model.Config.Posture,
		CustomPosture: a.model.Config.CustomPosture,
	})
	if err != nil {
		a.terminalState()
		return fmt.Errorf("agent: persona generation: %w", err)
	}

	a.mu.Lock()
	a.caller = caller
	a.moderator = moderator
	a.mu.Unlock()

	switch a.opts.Mode {
	case ModeSpeechToSpeech:
		if err := a.startSpeechToSpeech(ctx, caller); err != nil {
			a.terminalState()
			return err
		}
	case ModeTextPipeline:
		if a.opts.Text == nil || a.opts.Text.Transcriber == nil || a.opts.Text.Synthesizer == nil {
			a.terminalState()
			return fmt.Errorf("agent: text pipeline components are required")
		}
		a.text = newTextPipeline(a, caller.RolePrompt, a.opts.Text)
	}

	a.mu.Lock()
	a.processing = true
	a.startedAt = time.Now()
	a.state = StateStreaming
	a.inactivity = time.AfterFunc(a.opts.InactivityTimeout, a.onInactive)
	a.mu.Unlock()

	if a.opts.Mode == ModeSpeechToSpeech {
		go a.drainLoop()
	}

	log.Info("call started", "call_id", a.id, "mode", a.opts.Mode.String(), "state", a.State().String())
	return nil
}

func (a *Agent) startSpeechToSpeech(ctx context.Context, caller persona.Instruction) error {
	if a.opts.NewSession == nil {
		return fmt.Errorf("agent: session factory is required for speech-to-speech mode")
	}
	cfg := a.opts.Session
	cfg.Instructions = neverSpeakFirst + "\n\n" + caller.RolePrompt
	cfg.Voice = a.model.Voice
	cfg.Model = a.model.Model

	sess, err := a.opts.NewSession(cfg)
	if err != nil {
		return fmt.Errorf("agent: transport: %w", err)
	}

	sess.OnAudio(a.handleAudioDelta)
	sess.OnTranscript(a.handleTranscript)
	sess.OnAudioDone(a.handleResponseDone)
	sess.OnError(a.handleTransportError)

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("agent: transport connect: %w", err)
	}

	deadline := time.Now().Add(a.opts.ReadyTimeout)
	for !sess.Ready() {
		if time.Now().After(deadline) {
			_ = sess.Disconnect()
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			_ = sess.Disconnect()
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	return nil
}

// terminalState marks a failed start; the agent never processed anything.
func (a *Agent) terminalState() {
	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
}

// EnqueueAudio accepts one inbound media frame. Speech-to-speech mode queues
// it (strict FIFO, unbounded by design) and records it; text-pipeline mode
// forwards it to the transcription stage. Either way the inactivity timer
// resets.
func (a *Agent) EnqueueAudio(chunk AudioChunk) {
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return
	}
	if a.inactivity != nil {
		a.inactivity.Reset(a.opts.InactivityTimeout)
	}
	a.recorded.Write(chunk.Data)
	if a.opts.Mode == ModeSpeechToSpeech {
		a.queue = append(a.queue, chunk.Data)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.text.addAudio(chunk.StreamID, chunk.Data)
}

// QueueDepth reports the number of chunks waiting on the drain loop.
func (a *Agent) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// drainLoop forwards queued chunks, one per tick, while the transport is
// Ready. If it is not, delivery pauses and chunks accumulate. Send failures
// are reported and the loop continues.
func (a *Agent) drainLoop() {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.drainStop:
			return
		case <-ticker.C:
			a.mu.Lock()
			sess := a.session
			ready := sess != nil && sess.Ready()
			var chunk []byte
			if ready && len(a.queue) > 0 {
				chunk = a.queue[0]
				a.queue = a.queue[1:]
			}
			a.mu.Unlock()

			if chunk == nil {
				continue
			}
			if err := sess.SendAudio(chunk); err != nil {
				a.emitError(fmt.Errorf("agent: audio pipeline: %w", err))
			}
		}
	}
}

// handleAudioDelta forwards synthesized audio to the egress callback and
// feeds the settle detector.
func (a *Agent) handleAudioDelta(mulaw []byte) {
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return
	}
	a.speaking = true
	a.mu.Unlock()

	a.egress.Add(egressKey, len(mulaw))
	if a.opts.OnAudioOut != nil {
		a.opts.OnAudioOut(mulaw)
	}
}

// handleTranscript appends one normalized transcript line.
func (a *Agent) handleTranscript(item realtime.TranscriptItem) {
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return
	}
	name := ""
	if item.Role == "assistant" {
		name = a.caller.RoleName
	}
	line := ConversationItem{
		Role:        item.Role,
		DisplayName: name,
		Content:     item.Text,
	}
	a.transcript = append(a.transcript, line)
	a.mu.Unlock()

	a.emitTranscript(line)
}

// emitTranscript forwards one appended line to the transcript callback.
func (a *Agent) emitTranscript(line ConversationItem) {
	if a.opts.OnTranscript != nil && a.active() {
		a.opts.OnTranscript(line)
	}
}

// handleResponseDone runs once per completed model response: the turn index
// advances exactly once, and moderation is evaluated off the event path so
// audio flow never stalls on the decision round trip.
func (a *Agent) handleResponseDone() {
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return
	}
	a.speaking = false
	a.turnIndex++
	turn := a.turnIndex
	rubric := a.moderator.RolePrompt
	items := make([]moderation.Item, len(a.transcript))
	for i, item := range a.transcript {
		items[i] = moderation.Item{Role: item.Role, Content: item.Content}
	}
	a.mu.Unlock()

	go a.moderate(rubric, items, turn)
}

func (a *Agent) moderate(rubric string, items []moderation.Item, turn int) {
	verdict := a.policy.Moderate(context.Background(), rubric, items, turn)
	if verdict.Continue {
		metrics.ModerationVerdicts.WithLabelValues("continue").Inc()
	} else {
		metrics.ModerationVerdicts.WithLabelValues("terminate").Inc()
	}
	if !a.active() {
		// The call ended while the decision was in flight; discard.
		return
	}
	if verdict.Continue {
		log.Debug("moderation continue", "call_id", a.id, "turn", turn, "reason", verdict.Reason)
		return
	}

	log.Info("moderation terminate", "call_id", a.id, "turn", turn, "reason", verdict.Reason)
	a.mu.Lock()
	a.lastReason = verdict.Reason
	a.mu.Unlock()

	a.waitEgressSettle()
	if err := a.Stop(); err != nil {
		a.emitError(err)
	}
}

// waitEgressSettle blocks until in-flight outbound audio has finished, or
// the settle limit passes.
func (a *Agent) waitEgressSettle() {
	deadline := time.Now().Add(egressSettleLimit)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		speaking := a.speaking
		a.mu.Unlock()
		if !speaking && !a.egress.Pending(egressKey) {
			return
		}
		time.Sleep(drainInterval)
	}
}

func (a *Agent) handleTransportError(err error) {
	a.emitError(fmt.Errorf("agent: transport: %w", err))
}

func (a *Agent) emitError(err error) {
	if !a.active() {
		return
	}
	log.Warn("call error", "call_id", a.id, "error", err)
	if a.opts.OnError != nil {
		a.opts.OnError(err)
	}
}

// onInactive fires when no inbound chunk arrived within the timeout.
func (a *Agent) onInactive() {
	if !a.active() {
		return
	}
	log.Info("inactivity timeout, stopping call", "call_id", a.id)
	if err := a.Stop(); err != nil {
		a.emitError(err)
	}
}

// Stop shuts the call down. It is an idempotent no-op when the agent is not
// processing; concurrent invocations perform cleanup exactly once. A short
// grace period catches trailing messages before events are cut off.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.processing || a.stopping {
		a.mu.Unlock()
		return nil
	}
	a.stopping = true
	a.state = StateStopping
	grace := a.opts.GracePeriod
	a.mu.Unlock()

	time.Sleep(grace)

	a.mu.Lock()
	a.processing = false
	a.speaking = false
	if a.inactivity != nil {
		a.inactivity.Stop()
	}
	a.state = StateStopped
	duration := time.Since(a.startedAt)
	summary := Summary{
		CallID:   a.id,
		Duration: duration,
		Turns:    a.turnIndex,
		Reason:   a.lastReason,
		Audio:    bytes.Clone(a.recorded.Bytes()),
	}
	summary.Transcript = make([]ConversationItem, len(a.transcript))
	copy(summary.Transcript, a.transcript)
	sess := a.session
	text := a.text
	a.mu.Unlock()

	close(a.drainStop)
	a.egress.Stop()
	if text != nil {
		text.stop()
	}
	if sess != nil {
		if err := sess.Disconnect(); err != nil {
			log.Warn("transport disconnect", "call_id", a.id, "error", err)
		}
	}

	log.Info("call stopped", "call_id", a.id, "duration", duration, "turns", summary.Turns)
	if a.opts.OnStopped != nil {
		a.opts.OnStopped(summary)
	}
	return nil
}
