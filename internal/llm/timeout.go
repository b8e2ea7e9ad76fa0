package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// TimeoutPolicy bounds the phases of one provider call. Zero disables a bound.
type TimeoutPolicy struct {
	Connect time.Duration // TCP dial
	Read    time.Duration // waiting for and reading the response
	Write   time.Duration // sending the request
	Pool    time.Duration // waiting for an inference slot
}

// exchange is the deadline for the whole request/response exchange.
func (p TimeoutPolicy) exchange() time.Duration {
	if p.Read == 0 || p.Write == 0 {
		return 0
	}
	return p.Read + p.Write
}

// ErrPoolTimeout is returned when no inference slot frees up within the pool timeout.
var ErrPoolTimeout = errors.New("timed out waiting for an inference slot")

// policyHolder publishes the current policy; readers take a snapshot per call.
type policyHolder struct {
	p atomic.Pointer[TimeoutPolicy]
}

func (h *policyHolder) Timeouts() TimeoutPolicy { return *h.p.Load() }

func (h *policyHolder) SetTimeouts(p TimeoutPolicy) { h.p.Store(&p) }

// callState travels in the request context from the adapter to the transport.
type callState struct {
	policy   TimeoutPolicy
	status   atomic.Int32
	timedOut atomic.Bool
}

type callStateKey struct{}

func withCallState(ctx context.Context, st *callState) context.Context {
	return context.WithValue(ctx, callStateKey{}, st)
}

func callStateFrom(ctx context.Context) *callState {
	st, _ := ctx.Value(callStateKey{}).(*callState)
	return st
}
