// Package llm adapts model endpoints to a uniform completion and embedding
// contract. Adapters wrap langchaingo clients and enforce a per-profile
// timeout policy at the HTTP transport.
package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// Provider is the part every adapter shares.
type Provider interface {
	// Name is the profile name the adapter was built from.
	Name() string
	Timeouts() TimeoutPolicy
	// SetTimeouts replaces the policy for calls started afterwards.
	SetTimeouts(TimeoutPolicy)
}

// Completer generates text from a chat transcript.
type Completer interface {
	Provider
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Provider
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Message is one chat turn sent to a model.
type Message struct {
	Role    models.Role
	Content string
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int // 0 leaves the endpoint default
	Temperature float64
}

func (r CompletionRequest) validate() error {
	if len(r.Messages) == 0 {
		return apperr.Validation("completion needs at least one message")
	}
	if first := r.Messages[0].Role; first != models.RoleSystem && first != models.RoleUser {
		return apperr.Validation("completion must start with a system or user message, got %q", first)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return apperr.Validation("message %d: unknown role %q", i, m.Role)
		}
	}
	if r.Model == "" {
		return apperr.Validation("completion model is required")
	}
	return nil
}

func (r CompletionRequest) messageContent() []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return out
}

func (r CompletionRequest) callOptions() []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithModel(r.Model),
		llms.WithTemperature(r.Temperature),
	}
	if r.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(r.MaxTokens))
	}
	return opts
}

func chatMessageType(r models.Role) llms.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
