package llm

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// OllamaAdapter talks to a local Ollama server. It completes and embeds.
type OllamaAdapter struct {
	*core
	serverURL string
}

// NewOllamaAdapter creates an adapter for the server at opts.BaseURL.
func NewOllamaAdapter(opts Options) *OllamaAdapter {
	return &OllamaAdapter{core: newCore(opts), serverURL: opts.BaseURL}
}

func (a *OllamaAdapter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return a.complete(ctx, req, func(model string) (llms.Model, error) {
		return a.client(model)
	})
}

func (a *OllamaAdapter) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return a.embed(ctx, model, text, func(model string) (embeddings.EmbedderClient, error) {
		return a.client(model)
	})
}

func (a *OllamaAdapter) client(model string) (*ollama.LLM, error) {
	opts := []ollama.Option{
		ollama.WithModel(model),
		ollama.WithHTTPClient(a.httpClient),
	}
	if a.serverURL != "" {
		opts = append(opts, ollama.WithServerURL(a.serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, apperr.Configuration("create ollama client for %s: %v", a.name, err)
	}
	return llm, nil
}
