// Package moderation decides after each completed turn whether a test call
// should continue. The decision is fail-closed: when no usable verdict comes
// back from the model, the call terminates.
package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialcheck/dialcheck/internal/llm"
)

// minModerationTurn is the turn before which the policy always continues,
// so a call is never killed before any context exists.
const minModerationTurn = 3

// continueToken is the literal the model reply must start with to continue.
const continueToken = "continue"

// Item is one transcript line shown to the moderator.
type Item struct {
	Role    string
	Content string
}

// Verdict is the outcome of one moderation pass. Reason carries whatever
// explanation followed the verdict token; it is informational only and is
// never consulted for control flow.
type Verdict struct {
	Continue bool
	Reason   string
}

// Policy evaluates the transcript against the moderator rubric once per turn.
type Policy struct {
	Completer llm.Completer
	Model     string

	// MaxTurns forces termination once the turn index reaches it.
	// Zero disables the ceiling.
	MaxTurns int
}

const verdictInstruction = `After reviewing the conversation, answer with a single ` +
	`word first: "continue" if the conversation should go on, or "terminate" if it ` +
	`should end. If the caller or the agent has expressed closing intent (goodbyes, ` +
	`confirmation that the task is done, nothing left to discuss), answer "terminate". ` +
	`You may add a short explanation after the verdict word.`

// Moderate returns the verdict for the turn that just completed.
//
// The ceiling and floor never touch the model: reaching MaxTurns terminates
// unconditionally, and turns before minModerationTurn continue
// unconditionally. The ceiling wins when both apply, so a MaxTurns of one
// stops the call after the first full turn.
func (p *Policy) Moderate(ctx context.Context, rubric string, transcript []Item, turnIndex int) Verdict {
	if p.MaxTurns > 0 && turnIndex >= p.MaxTurns {
		return Verdict{Continue: false, Reason: fmt.Sprintf("turn limit %d reached", p.MaxTurns)}
	}
	if turnIndex < minModerationTurn {
		return Verdict{Continue: true}
	}

	var sb strings.Builder
	sb.WriteString(rubric)
	sb.WriteString("\n\n")
	sb.WriteString(verdictInstruction)
	sb.WriteString("\n\nConversation so far:\n")
	for _, item := range transcript {
		sb.WriteString(item.Role)
		sb.WriteString(": ")
		sb.WriteString(item.Content)
		sb.WriteString("\n")
	}

	reply, err := p.Completer.Complete(ctx, p.Model, []llm.Message{
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return Verdict{Continue: false, Reason: fmt.Sprintf("no decision response: %v", err)}
	}

	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(strings.ToLower(trimmed), continueToken) {
		return Verdict{Continue: false, Reason: trimmed}
	}
	return Verdict{
		Continue: true,
		Reason:   strings.TrimSpace(trimmed[len(continueToken):]),
	}
}
