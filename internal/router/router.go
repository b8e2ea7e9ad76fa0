// Package router routes summarize, chat_fallback and embed operations to
// the provider and model bound to each one.
//
// The routing table is immutable once published. Rebind builds a new table
// and swaps it in with a single atomic store, so a call that already
// resolved its binding finishes on it.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/llm"
	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// Operation is a routed model operation.
type Operation string

const (
	OpSummarize    Operation = "summarize"
	OpChatFallback Operation = "chat_fallback"
	OpEmbed        Operation = "embed"
)

// Operations lists every operation a router must bind.
var Operations = []Operation{OpSummarize, OpChatFallback, OpEmbed}

// DefaultSummarizePrompt is used when SummarizeOptions.SystemPrompt is empty.
const DefaultSummarizePrompt = "Summarize the text in one short paragraph."

// Binding pairs a provider with the model used for one operation.
type Binding struct {
	Provider llm.Provider
	Model    string
}

type table map[Operation]Binding

// Options tunes retry and degradation. The zero value makes one attempt
// per call and never falls back.
type Options struct {
	// Retries is the number of extra attempts for retryable provider errors.
	Retries int
	// InitialBackoff is the wait before the first retry. Defaults to 500ms.
	InitialBackoff time.Duration
	// SummarizeFallback sends summarize to the chat_fallback binding when
	// the summarize provider fails.
	SummarizeFallback bool
	Metrics           *metrics.Collector
	Logger            *slog.Logger
}

// Router resolves operations to bindings and invokes them.
type Router struct {
	current atomic.Pointer[table]
	mu      sync.Mutex // serializes Rebind

	opts   Options
	logger *slog.Logger
}

// New builds a router. Every operation must be bound to a provider with
// the matching capability.
func New(bindings map[Operation]Binding, opts Options) (*Router, error) {
	t := make(table, len(bindings))
	for _, op := range Operations {
		b, ok := bindings[op]
		if !ok {
			return nil, apperr.Configuration("no binding for operation %s", op)
		}
		if err := checkBinding(op, b); err != nil {
			return nil, err
		}
		t[op] = b
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{opts: opts, logger: logger.With("component", "router")}
	r.current.Store(&t)
	return r, nil
}

func checkBinding(op Operation, b Binding) error {
	if b.Provider == nil {
		return apperr.Configuration("operation %s: no provider", op)
	}
	if b.Model == "" {
		return apperr.Configuration("operation %s: no model", op)
	}
	switch op {
	case OpEmbed:
		if _, ok := b.Provider.(llm.Embedder); !ok {
			return apperr.Configuration("operation %s: provider %s cannot embed", op, b.Provider.Name())
		}
	case OpSummarize, OpChatFallback:
		if _, ok := b.Provider.(llm.Completer); !ok {
			return apperr.Configuration("operation %s: provider %s cannot complete", op, b.Provider.Name())
		}
	default:
		return apperr.Configuration("unknown operation %q", op)
	}
	return nil
}

// Resolve returns the current binding for op.
func (r *Router) Resolve(op Operation) (Binding, error) {
	b, ok := (*r.current.Load())[op]
	if !ok {
		return Binding{}, apperr.Configuration("no binding for operation %s", op)
	}
	return b, nil
}

// Rebind routes op to provider and model for calls that resolve afterwards.
func (r *Router) Rebind(op Operation, provider llm.Provider, model string) error {
	b := Binding{Provider: provider, Model: model}
	if err := checkBinding(op, b); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	next := make(table, len(old))
	for k, v := range old {
		next[k] = v
	}
	next[op] = b
	r.current.Store(&next)

	r.logger.Info("operation rebound", "operation", op, "provider", provider.Name(), "model", model)
	return nil
}

// Bindings returns a copy of the current table.
func (r *Router) Bindings() map[Operation]Binding {
	t := *r.current.Load()
	out := make(map[Operation]Binding, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// SummarizeOptions tunes a summarize call.
type SummarizeOptions struct {
	MaxTokens    int
	SystemPrompt string
}

// Summarize condenses text through the summarize binding at temperature 1.
func (r *Router) Summarize(ctx context.Context, text string, opts SummarizeOptions) (string, error) {
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = DefaultSummarizePrompt
	}
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: prompt},
			{Role: models.RoleUser, Content: text},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: 1,
	}

	out, err := r.complete(ctx, OpSummarize, req)
	if err == nil || !r.opts.SummarizeFallback || !errors.Is(err, apperr.ErrProvider) || ctx.Err() != nil {
		return out, err
	}

	r.logger.Warn("summarize provider failed, using chat fallback", "error", err)
	r.opts.Metrics.RecordFallback(string(OpSummarize))
	return r.complete(ctx, OpChatFallback, req)
}

// ChatOptions tunes a chat call.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// Chat sends messages through the chat_fallback binding.
func (r *Router) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	return r.complete(ctx, OpChatFallback, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
}

// Embed embeds text through the embed binding.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	b, err := r.Resolve(OpEmbed)
	if err != nil {
		return nil, err
	}
	embedder, ok := b.Provider.(llm.Embedder)
	if !ok {
		return nil, apperr.Configuration("operation %s: provider %s cannot embed", OpEmbed, b.Provider.Name())
	}

	var vec []float32
	err = r.invoke(ctx, OpEmbed, b, func() error {
		var err error
		vec, err = embedder.Embed(ctx, b.Model, text)
		return err
	})
	return vec, err
}

func (r *Router) complete(ctx context.Context, op Operation, req llm.CompletionRequest) (string, error) {
	b, err := r.Resolve(op)
	if err != nil {
		return "", err
	}
	completer, ok := b.Provider.(llm.Completer)
	if !ok {
		return "", apperr.Configuration("operation %s: provider %s cannot complete", op, b.Provider.Name())
	}
	req.Model = b.Model

	var out string
	err = r.invoke(ctx, op, b, func() error {
		var err error
		out, err = completer.Complete(ctx, req)
		return err
	})
	return out, err
}

// invoke runs call against the binding resolved at call start, retrying
// retryable provider errors with exponential backoff.
func (r *Router) invoke(ctx context.Context, op Operation, b Binding, call func() error) error {
	start := time.Now()
	attempt := 0
	var lastErr error

	operation := func() error {
		attempt++
		if attempt > 1 {
			r.opts.Metrics.RecordRetry(string(op))
		}
		err := call()
		lastErr = err
		if err != nil && !apperr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialBackoff
	var policy backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(r.opts.Retries, 0))), ctx)

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("provider call failed, retrying", "operation", op, "provider", b.Provider.Name(), "model", b.Model, "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && lastErr != nil && ctx.Err() != nil {
		// Cancellation during backoff surfaces the provider failure, not the bare context error.
		err = lastErr
	}
	duration := time.Since(start)
	r.opts.Metrics.RecordTiming(string(op), duration, err)

	if err != nil {
		r.logger.Error("provider call failed", "operation", op, "provider", b.Provider.Name(), "model", b.Model, "attempts", attempt, "duration_ms", duration.Milliseconds(), "error", err)
		return err
	}
	r.logger.Debug("provider call complete", "operation", op, "provider", b.Provider.Name(), "model", b.Model, "duration_ms", duration.Milliseconds())
	return nil
}
