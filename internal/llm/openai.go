package llm

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// OpenAIAdapter talks to any OpenAI-compatible endpoint (OpenAI, Zhipu GLM,
// DeepSeek and similar). It completes and embeds.
type OpenAIAdapter struct {
	*core
	baseURL string
	apiKey  string
}

// NewOpenAIAdapter creates an adapter. No network or credential check
// happens until the first call.
func NewOpenAIAdapter(opts Options) *OpenAIAdapter {
	return &OpenAIAdapter{core: newCore(opts), baseURL: opts.BaseURL, apiKey: opts.APIKey}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return a.complete(ctx, req, func(model string) (llms.Model, error) {
		return a.client(openai.WithModel(model))
	})
}

func (a *OpenAIAdapter) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return a.embed(ctx, model, text, func(model string) (embeddings.EmbedderClient, error) {
		return a.client(openai.WithEmbeddingModel(model))
	})
}

func (a *OpenAIAdapter) client(extra ...openai.Option) (*openai.LLM, error) {
	if err := requireKey(a.name, "openai", a.apiKey); err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithToken(a.apiKey),
		openai.WithHTTPClient(a.httpClient),
	}
	if a.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(a.baseURL))
	}
	llm, err := openai.New(append(opts, extra...)...)
	if err != nil {
		return nil, apperr.Configuration("create openai client for %s: %v", a.name, err)
	}
	return llm, nil
}
