package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dialcheck/dialcheck/internal/llm"
	"github.com/dialcheck/dialcheck/pkg/realtime"
)

const personaJSON = `{
  "testing_role": {"role_name": "Riley", "role_prompt": "You are calling to reschedule a delivery."},
  "moderator": {"role_name": "Moderator", "role_prompt": "End the call once the errand is done."}
}`

// scriptCompleter answers persona prompts with canned personas and every
// other prompt with the moderation reply.
type scriptCompleter struct {
	mu              sync.Mutex
	personaErr      error
	moderationReply string
	moderationErr   error
	moderationCalls int
}

func (c *scriptCompleter) Complete(_ context.Context, _ string, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prompt := messages[len(messages)-1].Content
	if strings.Contains(prompt, "testing_role") {
		if c.personaErr != nil {
			return "", c.personaErr
		}
		return personaJSON, nil
	}
	c.moderationCalls++
	if c.moderationErr != nil {
		return "", c.moderationErr
	}
	reply := c.moderationReply
	if reply == "" {
		reply = "continue"
	}
	return reply, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestAgent(t *testing.T, mutate func(*Options)) (*Agent, *realtime.Mock) {
	t.Helper()
	mock := realtime.NewMock()
	opts := Options{
		Mode:         ModeSpeechToSpeech,
		Instructions: "Reschedule tomorrow's delivery to Friday.",
		Completer:    &scriptCompleter{},
		GracePeriod:  5 * time.Millisecond,
		NewSession: func(realtime.Config) (realtime.Session, error) {
			return mock, nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, mock
}

func TestNew(t *testing.T) {
	t.Run("requires completer", func(t *testing.T) {
		if _, err := New(Options{}); err != ErrMissingCompleter {
			t.Errorf("expected ErrMissingCompleter, got %v", err)
		}
	})

	t.Run("generates a call ID", func(t *testing.T) {
		a, _ := newTestAgent(t, nil)
		if a.ID() == "" {
			t.Error("expected a generated call ID")
		}
	})

	t.Run("keeps an explicit call ID", func(t *testing.T) {
		a, _ := newTestAgent(t, func(o *Options) { o.CallID = "call-7" })
		if a.ID() != "call-7" {
			t.Errorf("expected call-7, got %q", a.ID())
		}
	})
}

func TestStart(t *testing.T) {
	t.Run("reaches streaming", func(t *testing.T) {
		a, _ := newTestAgent(t, nil)
		defer a.Stop()
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if a.State() != StateStreaming {
			t.Errorf("expected StateStreaming, got %v", a.State())
		}
	})

	t.Run("rejects a second start", func(t *testing.T) {
		a, _ := newTestAgent(t, nil)
		defer a.Stop()
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := a.Start(context.Background()); err != ErrAlreadyStarted {
			t.Errorf("expected ErrAlreadyStarted, got %v", err)
		}
	})

	t.Run("persona failure is fatal", func(t *testing.T) {
		a, _ := newTestAgent(t, func(o *Options) {
			o.Completer = &scriptCompleter{personaErr: errors.New("upstream down")}
		})
		if err := a.Start(context.Background()); err == nil {
			t.Fatal("expected persona error")
		}
		if a.State() != StateStopped {
			t.Errorf("expected StateStopped after fatal start, got %v", a.State())
		}
	})

	t.Run("transport connect failure is fatal", func(t *testing.T) {
		a, mock := newTestAgent(t, nil)
		mock.ConnectErr = errors.New("dial refused")
		if err := a.Start(context.Background()); err == nil {
			t.Fatal("expected connect error")
		}
		if a.State() != StateStopped {
			t.Errorf("expected StateStopped, got %v", a.State())
		}
	})

	t.Run("text mode requires components", func(t *testing.T) {
		a, _ := newTestAgent(t, func(o *Options) { o.Mode = ModeTextPipeline })
		if err := a.Start(context.Background()); err == nil {
			t.Fatal("expected missing component error")
		}
	})
}

func TestEnqueueAudio(t *testing.T) {
	t.Run("drains in FIFO order", func(t *testing.T) {
		a, mock := newTestAgent(t, nil)
		defer a.Stop()
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		frames := [][]byte{{0x01}, {0x02}, {0x03}}
		for _, f := range frames {
			a.EnqueueAudio(AudioChunk{Data: f})
		}

		waitFor(t, time.Second, func() bool { return len(mock.Sent()) == len(frames) })
		for i, sent := range mock.Sent() {
			if sent[0] != frames[i][0] {
				t.Errorf("frame %d: sent %#x, want %#x", i, sent[0], frames[i][0])
			}
		}
		if a.QueueDepth() != 0 {
			t.Errorf("expected drained queue, depth %d", a.QueueDepth())
		}
	})

	t.Run("records inbound audio", func(t *testing.T) {
		a, _ := newTestAgent(t, nil)
		defer a.Stop()
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		a.EnqueueAudio(AudioChunk{Data: []byte{0xAA, 0xBB}})
		if got := a.Audio(); len(got) != 2 || got[0] != 0xAA {
			t.Errorf("unexpected recording %#v", got)
		}
	})

	t.Run("dropped before start and after stop", func(t *testing.T) {
		a, mock := newTestAgent(t, nil)
		a.EnqueueAudio(AudioChunk{Data: []byte{0x01}})
		if a.QueueDepth() != 0 {
			t.Error("chunk accepted before start")
		}

		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := a.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		a.EnqueueAudio(AudioChunk{Data: []byte{0x02}})
		time.Sleep(50 * time.Millisecond)
		if len(mock.Sent()) != 0 {
			t.Errorf("audio sent after stop: %d frames", len(mock.Sent()))
		}
	})
}

func TestTranscriptEvents(t *testing.T) {
	var mu sync.Mutex
	var emitted []ConversationItem
	a, mock := newTestAgent(t, func(o *Options) {
		o.OnTranscript = func(item ConversationItem) {
			mu.Lock()
			emitted = append(emitted, item)
			mu.Unlock()
		}
	})
	defer a.Stop()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mock.SimulateTranscript("user", "hello, delivery desk")
	mock.SimulateTranscript("assistant", "hi, I need to reschedule")

	got := a.Transcript()
	if len(got) != 2 {
		t.Fatalf("expected 2 transcript items, got %d", len(got))
	}
	if got[0].Role != "user" || got[0].DisplayName != "" {
		t.Errorf("unexpected user item %+v", got[0])
	}
	if got[1].Role != "assistant" || got[1].DisplayName != "Riley" {
		t.Errorf("expected persona display name on assistant item, got %+v", got[1])
	}

	// Each appended line also reaches the live transcript callback.
	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("expected 2 emitted lines, got %d", len(emitted))
	}
	if emitted[1].Content != "hi, I need to reschedule" {
		t.Errorf("unexpected emitted line %+v", emitted[1])
	}
}

func TestTurnLimitStopsCall(t *testing.T) {
	var summary Summary
	done := make(chan struct{})
	a, mock := newTestAgent(t, func(o *Options) {
		o.Model = &ModelInstance{
			Provider: "openai", Model: "gpt-4o-realtime-preview", Voice: "alloy",
			Config: ModelConfig{MaxTurns: 1},
		}
		o.OnStopped = func(s Summary) {
			summary = s
			close(done)
		}
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One full response reaches the ceiling of one.
	mock.SimulateAudioDone()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not stop after one full turn")
	}
	if a.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", a.State())
	}
	if summary.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", summary.Turns)
	}
	if summary.Duration < 0 {
		t.Errorf("negative duration %v", summary.Duration)
	}
	if !strings.Contains(summary.Reason, "turn limit") {
		t.Errorf("expected turn limit reason, got %q", summary.Reason)
	}
	if comp := a.opts.Completer.(*scriptCompleter); comp.moderationCalls != 0 {
		t.Errorf("ceiling verdict should not consult the model, got %d calls", comp.moderationCalls)
	}
}

func TestStop(t *testing.T) {
	t.Run("idempotent before start", func(t *testing.T) {
		a, mock := newTestAgent(t, nil)
		if err := a.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if mock.Disconnects != 0 {
			t.Error("disconnected a session that never connected")
		}
	})

	t.Run("concurrent stops clean up once", func(t *testing.T) {
		stops := 0
		var mu sync.Mutex
		a, mock := newTestAgent(t, func(o *Options) {
			o.OnStopped = func(Summary) {
				mu.Lock()
				stops++
				mu.Unlock()
			}
		})
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.Stop()
			}()
		}
		wg.Wait()

		if mock.Disconnects != 1 {
			t.Errorf("expected exactly one disconnect, got %d", mock.Disconnects)
		}
		mu.Lock()
		defer mu.Unlock()
		if stops != 1 {
			t.Errorf("expected one stopped notification, got %d", stops)
		}
	})

	t.Run("summary carries transcript and audio", func(t *testing.T) {
		a, mock := newTestAgent(t, nil)
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		a.EnqueueAudio(AudioChunk{Data: []byte{0x10, 0x20}})
		mock.SimulateTranscript("user", "is anyone there")

		var summary Summary
		done := make(chan struct{})
		a.opts.OnStopped = func(s Summary) {
			summary = s
			close(done)
		}
		if err := a.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		<-done

		if summary.CallID != a.ID() {
			t.Errorf("summary call ID %q, want %q", summary.CallID, a.ID())
		}
		if len(summary.Transcript) != 1 || summary.Transcript[0].Content != "is anyone there" {
			t.Errorf("unexpected transcript %+v", summary.Transcript)
		}
		if len(summary.Audio) != 2 {
			t.Errorf("expected 2 recorded bytes, got %d", len(summary.Audio))
		}
	})
}

func TestInactivityTimeout(t *testing.T) {
	done := make(chan struct{})
	a, _ := newTestAgent(t, func(o *Options) {
		o.InactivityTimeout = 40 * time.Millisecond
		o.OnStopped = func(Summary) { close(done) }
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("inactivity did not stop the call")
	}
	if a.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", a.State())
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestAgent(t, func(o *Options) { o.CallID = "call-1" })

	reg.Insert(a)
	if got := reg.Lookup("call-1"); got != a {
		t.Error("lookup did not return the inserted agent")
	}
	if got := reg.Lookup("missing"); got != nil {
		t.Error("lookup of unknown ID should be nil")
	}
	if reg.Len() != 1 {
		t.Errorf("expected length 1, got %d", reg.Len())
	}

	seen := 0
	reg.Each(func(*Agent) { seen++ })
	if seen != 1 {
		t.Errorf("Each visited %d agents, want 1", seen)
	}

	reg.Remove("call-1")
	reg.Remove("call-1")
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}
