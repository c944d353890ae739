// Package llm provides the chat-completion seam shared by persona synthesis
// and moderation. Both consumers accept the Completer interface so tests can
// substitute canned responders.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dialcheck/dialcheck/internal/httpc"
)

// ErrEmptyResponse indicates the model returned no usable text.
var ErrEmptyResponse = errors.New("llm: empty completion response")

// Message is one chat turn submitted to the model.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Completer produces one text completion for a message sequence.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// OpenAI is a Completer backed by the OpenAI chat-completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds an OpenAI completer. baseURL is optional and supports
// OpenAI-compatible gateways.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpc.Client),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Complete submits the messages and returns the first choice's content.
func (o *OpenAI) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
