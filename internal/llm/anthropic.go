package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// AnthropicAdapter talks to the Anthropic Messages API. Completion only.
type AnthropicAdapter struct {
	*core
	baseURL string
	apiKey  string
}

func NewAnthropicAdapter(opts Options) *AnthropicAdapter {
	return &AnthropicAdapter{core: newCore(opts), baseURL: opts.BaseURL, apiKey: opts.APIKey}
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return a.complete(ctx, req, func(model string) (llms.Model, error) {
		if err := requireKey(a.name, "anthropic", a.apiKey); err != nil {
			return nil, err
		}
		opts := []anthropic.Option{
			anthropic.WithToken(a.apiKey),
			anthropic.WithModel(model),
			anthropic.WithHTTPClient(a.httpClient),
		}
		if a.baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(a.baseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, apperr.Configuration("create anthropic client for %s: %v", a.name, err)
		}
		return llm, nil
	})
}
