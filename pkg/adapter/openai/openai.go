// Package openai adapts the OpenAI chat completion API to the session
// adapter contract.
package openai

import (
	"context"
	"fmt"
	"log"

	"github.com/sashabaranov/go-openai"

	"github.com/runlog-dev/runlog/pkg/session"
)

// DefaultModel is used when a run's parameters carry no model override.
const DefaultModel = openai.GPT4oMini

// Client is the slice of the OpenAI API the adapter needs. Satisfied by
// *openai.Client; narrow so tests can substitute a fake.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Adapter executes run turns as OpenAI chat completions and reports the
// provider's declared capabilities for negotiation.
type Adapter struct {
	client Client
	model  string
}

// New creates an adapter backed by the real OpenAI client.
func New(apiKey string) *Adapter {
	return NewWithClient(openai.NewClient(apiKey))
}

// NewWithClient creates an adapter with a custom client (useful for testing).
func NewWithClient(client Client) *Adapter {
	return &Adapter{client: client, model: DefaultModel}
}

// Capabilities returns the capability list the chat completion API covers.
func (a *Adapter) Capabilities(ctx context.Context) ([]session.Capability, error) {
	return []session.Capability{
		{Type: session.CapabilitySampling, Name: "chat-completion", Enabled: true},
		{Type: session.CapabilityTool, Name: "function-calling", Enabled: true},
		{Type: session.CapabilityStreaming, Name: "sse-stream", Enabled: true},
		{Type: session.CapabilityVision, Name: "image-input", Enabled: true},
	}, nil
}

// Execute performs one chat completion turn. The caller's input and the
// model's reply become message events; token usage comes from the provider's
// usage block.
func (a *Adapter) Execute(ctx context.Context, run *session.Run, sess *session.Session, opts session.ExecuteOptions) (*session.ExecuteResult, error) {
	model := a.model
	if v, ok := opts.Parameters["model"].(string); ok && v != "" {
		model = v
	}

	messages := []openai.ChatCompletionMessage{}
	if prompt, ok := sess.Context["system_prompt"].(string); ok && prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: prompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: opts.Input,
	})

	var events []*session.Event
	emit := func(typ session.EventType, data map[string]any) error {
		ev, err := session.NewEvent(run.SessionID, typ, session.EventOptions{
			RunID: run.ID,
			Data:  data,
		})
		if err != nil {
			return err
		}
		events = append(events, ev)
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		return nil
	}

	if err := emit(session.EventMessageReceived, map[string]any{
		"role":    "user",
		"content": opts.Input,
	}); err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	output := resp.Choices[0].Message.Content

	if err := emit(session.EventMessageSent, map[string]any{
		"role":    "assistant",
		"content": output,
		"model":   model,
	}); err != nil {
		log.Printf("run %s: build reply event: %v", run.ID, err)
	}

	return &session.ExecuteResult{
		Output: output,
		Usage: session.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
		Events: events,
	}, nil
}
