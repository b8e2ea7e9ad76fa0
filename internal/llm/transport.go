package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type dialTimeoutKey struct{}

// policyTransport enforces the TimeoutPolicy carried by each request's
// callState and records the response status for error reporting.
type policyTransport struct {
	base  http.RoundTripper
	slots *semaphore.Weighted // nil when concurrency is unbounded
}

// newPolicyTransport builds a transport with maxConcurrency inference slots.
// maxConcurrency <= 0 means unbounded.
func newPolicyTransport(maxConcurrency int) *policyTransport {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if d, ok := ctx.Value(dialTimeoutKey{}).(time.Duration); ok && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return dialer.DialContext(ctx, network, addr)
	}

	t := &policyTransport{base: base}
	if maxConcurrency > 0 {
		t.slots = semaphore.NewWeighted(int64(maxConcurrency))
	}
	return t
}

func (t *policyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	st := callStateFrom(req.Context())
	if st == nil {
		return t.base.RoundTrip(req)
	}
	policy := st.policy

	release := func() {}
	if t.slots != nil {
		if err := t.acquire(req.Context(), policy.Pool); err != nil {
			if errors.Is(err, ErrPoolTimeout) {
				st.timedOut.Store(true)
			}
			return nil, err
		}
		release = func() { t.slots.Release(1) }
	}

	ctx := context.WithValue(req.Context(), dialTimeoutKey{}, policy.Connect)
	cancel := context.CancelFunc(func() {})
	if d := policy.exchange(); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		if isTimeout(ctx, err) {
			st.timedOut.Store(true)
		}
		cancel()
		release()
		return nil, err
	}

	st.status.Store(int32(resp.StatusCode))
	var once sync.Once
	resp.Body = &policyBody{
		ReadCloser: resp.Body,
		ctx:        ctx,
		state:      st,
		done:       func() { once.Do(func() { cancel(); release() }) },
	}
	return resp, nil
}

func (t *policyTransport) acquire(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return t.slots.Acquire(ctx, 1)
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := t.slots.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPoolTimeout
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// policyBody holds the inference slot and exchange deadline until the
// response has been consumed.
type policyBody struct {
	io.ReadCloser
	ctx   context.Context
	state *callState
	done  func()
}

func (b *policyBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && isTimeout(b.ctx, err) {
		b.state.timedOut.Store(true)
	}
	return n, err
}

func (b *policyBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}
