// Package correlator pairs outbound calls with their responses.
package correlator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/observability"
	"go.uber.org/zap"
)

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type pendingCall struct {
	namespace string
	issuedAt  time.Time
	future    *Future
	timer     stopper
}

// Correlator tracks outstanding calls by id. Resolve, Reject and timeout
// expiry race safely: whichever removes the entry first settles the future.
type Correlator struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	timeout   time.Duration
	afterFunc afterFunc
	now       func() time.Time
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// New builds a correlator. A zero timeout disables call expiry.
func New(timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Correlator {
	return newCorrelator(timeout, realAfterFunc, time.Now, metrics, logger)
}

func newCorrelator(
	timeout time.Duration,
	after afterFunc,
	nowFn func() time.Time,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Correlator {
	if timeout < 0 {
		timeout = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Correlator{
		pending:   make(map[uint64]*pendingCall),
		timeout:   timeout,
		afterFunc: after,
		now:       nowFn,
		metrics:   metrics,
		logger:    logger,
	}
}

func (c *Correlator) Timeout() time.Duration { return c.timeout }

// Begin registers a new pending call and returns its future. Ids start at 1
// and are never reused within the process.
func (c *Correlator) Begin(namespace string) *Future {
	id := c.nextID.Add(1)
	future := newFuture(id)
	call := &pendingCall{
		namespace: namespace,
		issuedAt:  c.now(),
		future:    future,
	}

	c.mu.Lock()
	c.pending[id] = call
	if c.timeout > 0 {
		call.timer = c.afterFunc(c.timeout, func() { c.expire(id) })
	}
	c.mu.Unlock()

	c.metrics.IncCallsPending()
	return future
}

// Call registers a pending call and hands its id to issue, which sends the
// request. If issue fails the call is rejected with that error.
func (c *Correlator) Call(namespace string, issue func(callID uint64) error) (*Future, error) {
	if issue == nil {
		return nil, errors.New("call requires an issue function")
	}

	future := c.Begin(namespace)
	if err := issue(future.CallID()); err != nil {
		c.Reject(future.CallID(), err)
		return nil, err
	}
	return future, nil
}

// Resolve fulfills the call with values. Unknown, expired or already settled
// ids are ignored and false is returned.
func (c *Correlator) Resolve(callID uint64, values []any) bool {
	call, ok := c.take(callID)
	if !ok {
		c.logger.Debug("ignoring response for unknown call", zap.Uint64("callId", callID))
		return false
	}
	if !call.future.settle(StateFulfilled, values, nil) {
		return false
	}
	c.metrics.CallSettled(StateFulfilled.String())
	return true
}

// Reject fails the call with err. Same no-op rules as Resolve.
func (c *Correlator) Reject(callID uint64, err error) bool {
	call, ok := c.take(callID)
	if !ok {
		return false
	}
	if err == nil {
		err = errors.New("call rejected")
	}
	if !call.future.settle(StateRejected, nil, err) {
		return false
	}
	c.metrics.CallSettled(StateRejected.String())
	return true
}

// RejectAll fails every outstanding call with err and returns how many were
// rejected.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	rejected := 0
	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		if call.future.settle(StateRejected, nil, err) {
			c.metrics.CallSettled(StateRejected.String())
			rejected++
		}
	}
	return rejected
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) take(callID uint64) (*pendingCall, bool) {
	c.mu.Lock()
	call, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()

	if ok && call.timer != nil {
		call.timer.Stop()
	}
	return call, ok
}

func (c *Correlator) expire(callID uint64) {
	c.mu.Lock()
	call, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	elapsed := c.now().Sub(call.issuedAt)
	err := fmt.Errorf("%w: call %d in namespace %q after %s", domain.ErrCallTimeout, callID, call.namespace, elapsed)
	if call.future.settle(StateTimedOut, nil, err) {
		c.metrics.CallSettled(StateTimedOut.String())
		c.logger.Warn("call timed out",
			zap.Uint64("callId", callID),
			zap.String("namespace", call.namespace),
			zap.Duration("elapsed", elapsed),
		)
	}
}
