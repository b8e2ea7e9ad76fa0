package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/llm"
	"github.com/raphaelgruber/memu-go/internal/llm/llmtest"
	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fixture struct {
	zhipu   *llmtest.Completer
	ollama  *llmtest.Completer
	embed   *llmtest.Embedder
	metrics *metrics.Collector
	router  *Router
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		zhipu:   llmtest.NewCompleter("zhipu", llmtest.Static("summary from zhipu")),
		ollama:  llmtest.NewCompleter("ollama", llmtest.Static("reply from ollama")),
		embed:   llmtest.NewEmbedder("ollama-embed", 16),
		metrics: metrics.NewCollector(),
	}
	opts.Metrics = f.metrics
	opts.Logger = testLogger()
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	r, err := New(map[Operation]Binding{
		OpSummarize:    {Provider: f.zhipu, Model: "glm-4.5-air"},
		OpChatFallback: {Provider: f.ollama, Model: "qwen2.5:1.5b"},
		OpEmbed:        {Provider: f.embed, Model: "nomic-embed-text"},
	}, opts)
	require.NoError(t, err)
	f.router = r
	return f
}

func TestNewRequiresEveryOperation(t *testing.T) {
	c := llmtest.NewCompleter("zhipu", llmtest.Static("x"))
	_, err := New(map[Operation]Binding{
		OpSummarize:    {Provider: c, Model: "m"},
		OpChatFallback: {Provider: c, Model: "m"},
	}, Options{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "embed")
}

func TestNewChecksCapability(t *testing.T) {
	c := llmtest.NewCompleter("anthropic", llmtest.Static("x"))
	_, err := New(map[Operation]Binding{
		OpSummarize:    {Provider: c, Model: "m"},
		OpChatFallback: {Provider: c, Model: "m"},
		OpEmbed:        {Provider: c, Model: "m"},
	}, Options{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "cannot embed")
}

func TestResolve(t *testing.T) {
	f := newFixture(t, Options{})

	b, err := f.router.Resolve(OpSummarize)
	require.NoError(t, err)
	assert.Equal(t, "zhipu", b.Provider.Name())
	assert.Equal(t, "glm-4.5-air", b.Model)

	_, err = f.router.Resolve("translate")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestSummarizeBuildsRequest(t *testing.T) {
	f := newFixture(t, Options{})

	out, err := f.router.Summarize(context.Background(), "I like cats", SummarizeOptions{MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, "summary from zhipu", out)

	reqs := f.zhipu.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "glm-4.5-air", req.Model)
	assert.Equal(t, 128, req.MaxTokens)
	assert.Equal(t, 1.0, req.Temperature)
	assert.Equal(t, []llm.Message{
		{Role: models.RoleSystem, Content: DefaultSummarizePrompt},
		{Role: models.RoleUser, Content: "I like cats"},
	}, req.Messages)
	assert.Zero(t, f.ollama.Calls())

	_, err = f.router.Summarize(context.Background(), "x", SummarizeOptions{SystemPrompt: "Extract facts."})
	require.NoError(t, err)
	assert.Equal(t, "Extract facts.", f.zhipu.Requests()[1].Messages[0].Content)
}

func TestChatAndEmbedUseTheirOwnBindings(t *testing.T) {
	f := newFixture(t, Options{})

	out, err := f.router.Chat(context.Background(), []llm.Message{{Role: models.RoleUser, Content: "hi"}}, ChatOptions{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "reply from ollama", out)
	assert.Equal(t, "qwen2.5:1.5b", f.ollama.Requests()[0].Model)

	vec, err := f.router.Embed(context.Background(), "What does alice like?")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	assert.Zero(t, f.zhipu.Calls())
	assert.Equal(t, 1, f.embed.Calls())
}

func TestProviderErrorPropagatesUnchanged(t *testing.T) {
	f := newFixture(t, Options{})
	upstream := &apperr.ProviderError{Provider: "zhipu", Operation: "complete", Status: 400, Message: "bad model"}
	require.NoError(t, f.router.Rebind(OpSummarize, llmtest.NewCompleter("zhipu", llmtest.Failing(upstream)), "glm-4.5-air"))

	_, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
	var perr *apperr.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Same(t, upstream, perr)
	assert.Zero(t, f.ollama.Calls(), "no silent fallback by default")
}

func TestRetryOnRetryableError(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})

	var mu sync.Mutex
	attempts := 0
	flaky := llmtest.NewCompleter("zhipu", func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return "", &apperr.ProviderError{Provider: "zhipu", Operation: "complete", Timeout: true}
		}
		return "second time lucky", nil
	})
	require.NoError(t, f.router.Rebind(OpSummarize, flaky, "glm-4.5-air"))

	out, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", out)
	assert.Equal(t, 2, flaky.Calls())

	snap := f.metrics.Snapshot().Operations[string(OpSummarize)]
	assert.Equal(t, int64(1), snap.Retries)
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, int64(0), snap.Errors)
}

func TestRetryIsBounded(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	f.embed.FailWith(&apperr.ProviderError{Provider: "ollama", Operation: "embed", Status: 503})

	_, err := f.router.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.Equal(t, 2, f.embed.Calls())
}

func TestNoRetryOnPermanentError(t *testing.T) {
	f := newFixture(t, Options{Retries: 3})
	f.embed.FailWith(&apperr.ProviderError{Provider: "ollama", Operation: "embed", Status: 404})

	_, err := f.router.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.Equal(t, 1, f.embed.Calls())

	f.embed.FailWith(apperr.Validation("bad"))
	_, err = f.router.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 2, f.embed.Calls())
}

func TestNoRetryByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	f.embed.FailWith(&apperr.ProviderError{Provider: "ollama", Operation: "embed", Timeout: true})

	_, err := f.router.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.Equal(t, 1, f.embed.Calls())
}

func TestCancellationDuringBackoffKeepsProviderError(t *testing.T) {
	f := newFixture(t, Options{Retries: 5, InitialBackoff: time.Second})
	f.embed.FailWith(&apperr.ProviderError{Provider: "ollama", Operation: "embed", Status: 502})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.router.Embed(ctx, "q")
	var perr *apperr.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 502, perr.Status)
	assert.Equal(t, 1, f.embed.Calls())
}

func TestSummarizeFallback(t *testing.T) {
	f := newFixture(t, Options{SummarizeFallback: true})
	down := llmtest.NewCompleter("zhipu", llmtest.Failing(&apperr.ProviderError{Provider: "zhipu", Operation: "complete", Status: 500}))
	require.NoError(t, f.router.Rebind(OpSummarize, down, "glm-4.5-air"))

	out, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "reply from ollama", out)

	reqs := f.ollama.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "qwen2.5:1.5b", reqs[0].Model)
	assert.Equal(t, DefaultSummarizePrompt, reqs[0].Messages[0].Content)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Operations[string(OpSummarize)].Fallbacks)
}

func TestSummarizeFallbackSkipsNonProviderErrors(t *testing.T) {
	f := newFixture(t, Options{SummarizeFallback: true})
	broken := llmtest.NewCompleter("zhipu", llmtest.Failing(apperr.Configuration("no key")))
	require.NoError(t, f.router.Rebind(OpSummarize, broken, "glm-4.5-air"))

	_, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Zero(t, f.ollama.Calls())
}

func TestRebindRejectsIncapableProvider(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.router.Rebind(OpEmbed, f.zhipu, "embedding-3")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	err = f.router.Rebind(OpSummarize, f.zhipu, "")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	b, _ := f.router.Resolve(OpEmbed)
	assert.Equal(t, "ollama-embed", b.Provider.Name(), "failed rebind leaves the table untouched")
}

func TestRebindAffectsOnlyLaterCalls(t *testing.T) {
	f := newFixture(t, Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := llmtest.NewCompleter("zhipu", func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		close(entered)
		<-release
		return "from " + req.Model, nil
	})
	require.NoError(t, f.router.Rebind(OpSummarize, slow, "glm-4.5-air"))

	done := make(chan string, 1)
	go func() {
		out, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
		assert.NoError(t, err)
		done <- out
	}()

	<-entered
	replacement := llmtest.NewCompleter("deepseek", llmtest.Static("from replacement"))
	require.NoError(t, f.router.Rebind(OpSummarize, replacement, "deepseek-chat"))

	later, err := f.router.Summarize(context.Background(), "text", SummarizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from replacement", later)

	close(release)
	assert.Equal(t, "from glm-4.5-air", <-done, "in-flight call finishes on the binding it resolved")
	assert.Equal(t, 1, slow.Calls())
}

func TestConcurrentRebindAndResolve(t *testing.T) {
	f := newFixture(t, Options{})
	providers := []*llmtest.Completer{
		llmtest.NewCompleter("a", llmtest.Static("a")),
		llmtest.NewCompleter("b", llmtest.Static("b")),
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.router.Rebind(OpChatFallback, providers[i%2], "m"))
		}()
		go func() {
			defer wg.Done()
			b, err := f.router.Resolve(OpChatFallback)
			assert.NoError(t, err)
			assert.NotNil(t, b.Provider)
			_, err = f.router.Resolve(OpEmbed)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bindings := f.router.Bindings()
	assert.Len(t, bindings, 3)
	assert.Contains(t, []string{"a", "b"}, bindings[OpChatFallback].Provider.Name())
}

func TestEmbedFailureRecordsMetrics(t *testing.T) {
	f := newFixture(t, Options{})
	f.embed.FailWith(errors.New("plain failure"))

	_, err := f.router.Embed(context.Background(), "q")
	require.Error(t, err)
	snap := f.metrics.Snapshot().Operations[string(OpEmbed)]
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, int64(1), snap.Errors)
}
