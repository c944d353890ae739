// Package persona synthesizes the two role prompts that drive a test call:
// the testing role (the simulated caller) and the moderator (the rubric used
// to decide when the conversation should end). Both are generated in one
// chat-completion round trip before the call goes live; a call never starts
// with a malformed persona.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dialcheck/dialcheck/internal/llm"
)

// Sentinel errors for persona generation.
var (
	// ErrEmptyPersona indicates the model returned no persona content.
	ErrEmptyPersona = errors.New("persona: empty generation response")

	// ErrMalformedPersona indicates the response was not the expected JSON.
	ErrMalformedPersona = errors.New("persona: malformed generation response")
)

// Posture selects how the testing role behaves toward the target agent.
type Posture string

const (
	// PostureBaseline runs a cooperative, realistic caller.
	PostureBaseline Posture = "baseline"
	// PostureEdgeCase injects unusual but plausible requests.
	PostureEdgeCase Posture = "edgecase"
	// PostureAdversarial probes the target with hostile behavior.
	PostureAdversarial Posture = "adversarial"
)

var postureBlocks = map[Posture]string{
	PostureBaseline: "Behave like a realistic, cooperative caller. Answer questions " +
		"plainly, stay on task, and do not volunteer information that was not asked for.",
	PostureEdgeCase: "Behave like a realistic caller who occasionally introduces " +
		"unusual but plausible situations: ambiguous answers, mid-sentence corrections, " +
		"requests slightly outside the expected flow. Stay polite.",
	PostureAdversarial: "Behave like a difficult caller. Interrupt, give conflicting " +
		"information, push back on the agent's instructions, and probe for ways to make " +
		"it deviate from its task. Never be abusive.",
}

// Instruction is one synthesized role/prompt pair. Immutable once produced.
type Instruction struct {
	RoleName   string `json:"role_name"`
	RolePrompt string `json:"role_prompt"`
}

// GenerateInput carries everything the template interpolates.
type GenerateInput struct {
	Instructions  string
	Language      string
	MaxTurns      int
	Posture       Posture
	CustomPosture string // verbatim override; wins over Posture when set
}

// Generator synthesizes persona instructions through a text model.
type Generator struct {
	Completer llm.Completer
	Model     string
}

const generatePrompt = `You are configuring an automated test call against a voice agent.

Task under test:
%s

Target language: %s
Maximum conversation turns: %d

Caller behavior:
%s

Produce two personas as a single JSON object, no prose, matching exactly:
{
  "testing_role": {"role_name": "...", "role_prompt": "..."},
  "moderator": {"role_name": "...", "role_prompt": "..."}
}

The testing_role prompt must fully describe the simulated caller: who they are,
what they want, and how they speak, in the target language. The moderator prompt
must be a decision rubric describing when this conversation has reached a natural
end or exhausted its purpose.`

type generated struct {
	TestingRole Instruction `json:"testing_role"`
	Moderator   Instruction `json:"moderator"`
}

// Generate runs one round trip and returns the testing role and moderator
// instructions. Empty or malformed JSON is an error; callers treat it as
// fatal to call startup.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (testingRole, moderator Instruction, err error) {
	block := in.CustomPosture
	if block == "" {
		var ok bool
		block, ok = postureBlocks[in.Posture]
		if !ok {
			block = postureBlocks[PostureBaseline]
		}
	}

	prompt := fmt.Sprintf(generatePrompt, in.Instructions, in.Language, in.MaxTurns, block)

	raw, err := g.Completer.Complete(ctx, g.Model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Instruction{}, Instruction{}, fmt.Errorf("persona: generation request: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Instruction{}, Instruction{}, ErrEmptyPersona
	}

	var out generated
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return Instruction{}, Instruction{}, fmt.Errorf("%w: %v", ErrMalformedPersona, err)
	}
	if out.TestingRole.RolePrompt == "" || out.Moderator.RolePrompt == "" {
		return Instruction{}, Instruction{}, ErrMalformedPersona
	}
	return out.TestingRole, out.Moderator, nil
}

// stripFences tolerates models that wrap JSON in a markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
