package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// Options configures an adapter.
type Options struct {
	Name           string
	BaseURL        string
	APIKey         string
	Region         string
	Timeouts       TimeoutPolicy
	MaxConcurrency int
	Logger         *slog.Logger
}

// core holds what every adapter shares: the timeout policy, the policy
// enforcing HTTP client and lazily built langchaingo clients keyed by model.
type core struct {
	policyHolder
	name       string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	models    map[string]llms.Model
	embedders map[string]embeddings.Embedder
}

func newCore(opts Options) *core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &core{
		name:       opts.Name,
		httpClient: &http.Client{Transport: newPolicyTransport(opts.MaxConcurrency)},
		logger:     logger.With("provider", opts.Name),
		models:     make(map[string]llms.Model),
		embedders:  make(map[string]embeddings.Embedder),
	}
	c.SetTimeouts(opts.Timeouts)
	return c
}

func (c *core) Name() string { return c.name }

func (c *core) model(name string, build func(string) (llms.Model, error)) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := build(name)
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	return m, nil
}

func (c *core) embedder(name string, build func(string) (embeddings.EmbedderClient, error)) (embeddings.Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.embedders[name]; ok {
		return e, nil
	}
	client, err := build(name)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, apperr.Configuration("create embedder for %s: %v", c.name, err)
	}
	c.embedders[name] = e
	return e, nil
}

// complete runs one completion against the client built for req.Model.
func (c *core) complete(ctx context.Context, req CompletionRequest, build func(string) (llms.Model, error)) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	m, err := c.model(req.Model, build)
	if err != nil {
		return "", err
	}

	st := &callState{policy: c.Timeouts()}
	start := time.Now()
	resp, err := m.GenerateContent(withCallState(ctx, st), req.messageContent(), req.callOptions()...)
	duration := time.Since(start)
	if err != nil {
		perr := c.providerError(ctx, st, "complete", err)
		c.logger.Warn("completion failed", "model", req.Model, "duration_ms", duration.Milliseconds(), "status", perr.Status, "timeout", perr.Timeout, "error", err)
		return "", perr
	}
	if len(resp.Choices) == 0 {
		return "", &apperr.ProviderError{Provider: c.name, Operation: "complete", Status: int(st.status.Load()), Message: "no response choices"}
	}

	c.logger.Debug("completion complete", "model", req.Model, "duration_ms", duration.Milliseconds())
	return resp.Choices[0].Content, nil
}

// embed runs one embedding against the client built for model.
func (c *core) embed(ctx context.Context, model, text string, build func(string) (embeddings.EmbedderClient, error)) ([]float32, error) {
	if model == "" {
		return nil, apperr.Validation("embedding model is required")
	}
	e, err := c.embedder(model, build)
	if err != nil {
		return nil, err
	}

	st := &callState{policy: c.Timeouts()}
	start := time.Now()
	vec, err := e.EmbedQuery(withCallState(ctx, st), text)
	duration := time.Since(start)
	if err != nil {
		perr := c.providerError(ctx, st, "embed", err)
		c.logger.Warn("embedding failed", "model", model, "text_len", len(text), "duration_ms", duration.Milliseconds(), "status", perr.Status, "timeout", perr.Timeout, "error", err)
		return nil, perr
	}
	if len(vec) == 0 {
		return nil, &apperr.ProviderError{Provider: c.name, Operation: "embed", Status: int(st.status.Load()), Message: "empty embedding"}
	}

	c.logger.Debug("embedding complete", "model", model, "text_len", len(text), "dimension", len(vec), "duration_ms", duration.Milliseconds())
	return vec, nil
}

func (c *core) providerError(ctx context.Context, st *callState, op string, err error) *apperr.ProviderError {
	perr := &apperr.ProviderError{
		Provider:  c.name,
		Operation: op,
		Status:    int(st.status.Load()),
		Message:   err.Error(),
		Timeout:   st.timedOut.Load() || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPoolTimeout),
		Err:       err,
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		perr.Timeout = false
		perr.Message = "request canceled"
		perr.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return perr
}

// requireKey returns a ConfigurationError when a credential is missing.
func requireKey(name, kind, key string) error {
	if key == "" {
		return apperr.Configuration("profile %s (%s) has no API key", name, kind)
	}
	return nil
}
