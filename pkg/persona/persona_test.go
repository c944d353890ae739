package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dialcheck/dialcheck/internal/llm"
)

// fakeCompleter returns a canned response and records the prompt it saw.
type fakeCompleter struct {
	response string
	err      error
	prompt   string
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, messages []llm.Message) (string, error) {
	f.calls++
	if len(messages) > 0 {
		f.prompt = messages[len(messages)-1].Content
	}
	return f.response, f.err
}

const validJSON = `{
  "testing_role": {"role_name": "caller", "role_prompt": "You are booking a table."},
  "moderator": {"role_name": "moderator", "role_prompt": "End when the booking is confirmed."}
}`

func TestGenerate(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		fake := &fakeCompleter{response: validJSON}
		g := &Generator{Completer: fake, Model: "gpt-4o"}

		caller, moderator, err := g.Generate(context.Background(), GenerateInput{
			Instructions: "Book a table for two",
			Language:     "en-US",
			MaxTurns:     10,
			Posture:      PostureBaseline,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if caller.RoleName != "caller" {
			t.Errorf("testing role name = %q", caller.RoleName)
		}
		if moderator.RolePrompt == "" {
			t.Error("moderator prompt empty")
		}
		if fake.calls != 1 {
			t.Errorf("expected exactly one round trip, got %d", fake.calls)
		}
	})

	t.Run("fenced response", func(t *testing.T) {
		fake := &fakeCompleter{response: "```json\n" + validJSON + "\n```"}
		g := &Generator{Completer: fake}

		_, _, err := g.Generate(context.Background(), GenerateInput{Posture: PostureBaseline})
		if err != nil {
			t.Fatalf("fenced JSON should parse: %v", err)
		}
	})

	t.Run("empty response is fatal", func(t *testing.T) {
		g := &Generator{Completer: &fakeCompleter{response: "   "}}
		_, _, err := g.Generate(context.Background(), GenerateInput{})
		if !errors.Is(err, ErrEmptyPersona) {
			t.Errorf("expected ErrEmptyPersona, got %v", err)
		}
	})

	t.Run("malformed JSON is fatal", func(t *testing.T) {
		g := &Generator{Completer: &fakeCompleter{response: "sure! here are your personas"}}
		_, _, err := g.Generate(context.Background(), GenerateInput{})
		if !errors.Is(err, ErrMalformedPersona) {
			t.Errorf("expected ErrMalformedPersona, got %v", err)
		}
	})

	t.Run("missing prompt is fatal", func(t *testing.T) {
		g := &Generator{Completer: &fakeCompleter{response: `{"testing_role":{"role_name":"x","role_prompt":""},"moderator":{"role_name":"m","role_prompt":"r"}}`}}
		_, _, err := g.Generate(context.Background(), GenerateInput{})
		if !errors.Is(err, ErrMalformedPersona) {
			t.Errorf("expected ErrMalformedPersona, got %v", err)
		}
	})

	t.Run("completer error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		g := &Generator{Completer: &fakeCompleter{err: boom}}
		_, _, err := g.Generate(context.Background(), GenerateInput{})
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped completer error, got %v", err)
		}
	})

	t.Run("custom posture overrides selection", func(t *testing.T) {
		fake := &fakeCompleter{response: validJSON}
		g := &Generator{Completer: fake}

		_, _, err := g.Generate(context.Background(), GenerateInput{
			Posture:       PostureAdversarial,
			CustomPosture: "Speak only in questions.",
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(fake.prompt, "Speak only in questions.") {
			t.Error("custom posture not interpolated")
		}
		if strings.Contains(fake.prompt, "difficult caller") {
			t.Error("selected posture leaked despite override")
		}
	})

	t.Run("posture blocks interpolated", func(t *testing.T) {
		fake := &fakeCompleter{response: validJSON}
		g := &Generator{Completer: fake}

		_, _, _ = g.Generate(context.Background(), GenerateInput{Posture: PostureEdgeCase})
		if !strings.Contains(fake.prompt, "unusual but plausible") {
			t.Error("edge-case posture block missing from prompt")
		}
	})
}
