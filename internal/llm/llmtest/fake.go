// Package llmtest provides in-process providers for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/raphaelgruber/memu-go/internal/llm"
)

type base struct {
	name   string
	mu     sync.Mutex
	policy llm.TimeoutPolicy
}

func (b *base) Name() string { return b.name }

func (b *base) Timeouts() llm.TimeoutPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

func (b *base) SetTimeouts(p llm.TimeoutPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policy = p
}

// CompleteFunc produces a completion for a request.
type CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (string, error)

// Completer records requests and answers them with a CompleteFunc.
type Completer struct {
	base
	respond CompleteFunc

	reqMu    sync.Mutex
	requests []llm.CompletionRequest
}

// NewCompleter returns a Completer named name.
func NewCompleter(name string, respond CompleteFunc) *Completer {
	return &Completer{base: base{name: name}, respond: respond}
}

// Static returns a CompleteFunc that always answers text.
func Static(text string) CompleteFunc {
	return func(context.Context, llm.CompletionRequest) (string, error) { return text, nil }
}

// Failing returns a CompleteFunc that always fails with err.
func Failing(err error) CompleteFunc {
	return func(context.Context, llm.CompletionRequest) (string, error) { return "", err }
}

func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	c.reqMu.Lock()
	c.requests = append(c.requests, req)
	c.reqMu.Unlock()
	return c.respond(ctx, req)
}

// Requests returns a copy of the requests seen so far.
func (c *Completer) Requests() []llm.CompletionRequest {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return append([]llm.CompletionRequest(nil), c.requests...)
}

// Calls returns the number of Complete calls.
func (c *Completer) Calls() int {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return len(c.requests)
}

// Embedder produces deterministic bag-of-words vectors: texts sharing
// words point in similar directions.
type Embedder struct {
	base
	dimensions int
	calls      atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewEmbedder returns an Embedder named name producing vectors of dims.
func NewEmbedder(name string, dims int) *Embedder {
	return &Embedder{base: base{name: name}, dimensions: dims}
}

// FailWith makes subsequent calls fail with err. nil restores success.
func (e *Embedder) FailWith(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.err = err
}

// Calls returns the number of Embed calls.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

func (e *Embedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	e.calls.Add(1)
	e.errMu.Lock()
	err := e.err
	e.errMu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BagOfWords(text, e.dimensions), nil
}

// BagOfWords hashes each lowercased word, with a trailing plural "s"
// dropped, into one of dims buckets and returns the unit vector.
func BagOfWords(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) > 3 {
			w = strings.TrimSuffix(w, "s")
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dims)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

var (
	_ llm.Completer = (*Completer)(nil)
	_ llm.Embedder  = (*Embedder)(nil)
)
