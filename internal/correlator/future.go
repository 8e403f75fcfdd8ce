package correlator

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by Result while the call is unsettled.
var ErrPending = errors.New("call is still pending")

// State is the lifecycle of a Future. Every state but Pending is terminal.
type State int

const (
	StatePending State = iota
	StateFulfilled
	StateRejected
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Future is the deferred result of a call. It settles at most once and is
// immutable afterwards.
type Future struct {
	callID uint64
	done   chan struct{}

	mu     sync.Mutex
	state  State
	values []any
	err    error
}

func newFuture(callID uint64) *Future {
	return &Future{callID: callID, done: make(chan struct{})}
}

func (f *Future) CallID() uint64 { return f.callID }

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the settled values or error without blocking.
func (f *Future) Result() ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StatePending {
		return nil, ErrPending
	}
	return f.values, f.err
}

// Await blocks until the future settles or ctx is done. Giving up on ctx
// leaves the call pending.
func (f *Future) Await(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) settle(state State, values []any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = state
	f.values = values
	f.err = err
	close(f.done)
	return true
}
