// Package dispatcher binds event handlers to namespaces and routes messages
// in both directions.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/netevents/internal/correlator"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/observability"
	"github.com/kursadbilgin/netevents/internal/ratelimit"
	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
)

// Namespace is a named event channel with its own handlers, rate limiter
// and reliability mode.
type Namespace struct {
	name      string
	channel   domain.Channel
	outbox    Outbox
	calls     Calls
	directory Directory
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	limiter  *ratelimit.Limiter
	keyOf    KeyFunc
}

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Channel() domain.Channel { return n.channel }

// On registers handler for event. Handlers for the same event run in
// registration order.
func (n *Namespace) On(event string, handler Handler) error {
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler is required", domain.ErrValidation)
	}

	n.mu.Lock()
	n.handlers[event] = append(n.handlers[event], handler)
	n.mu.Unlock()
	return nil
}

// Events lists the event names with at least one handler.
func (n *Namespace) Events() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	events := make([]string, 0, len(n.handlers))
	for event := range n.handlers {
		events = append(events, event)
	}
	return events
}

// WithRateLimit attaches a new limiter built from cfg, replacing any previous
// one. An invalid cfg is rejected and the current limiter stays in place.
func (n *Namespace) WithRateLimit(cfg ratelimit.Config) error {
	limiter, err := ratelimit.New(cfg, n.logger)
	if err != nil {
		n.logger.Warn("rejected rate limit configuration", zap.Error(err))
		return fmt.Errorf("namespace %q: %w", n.name, err)
	}

	n.mu.Lock()
	n.limiter = limiter
	n.mu.Unlock()

	n.logger.Info("rate limit attached",
		zap.String("strategy", limiter.Config().Strategy.String()),
		zap.Int("maxCalls", limiter.Config().MaxCalls),
		zap.Duration("window", limiter.Config().TimeWindow),
	)
	return nil
}

// WithRateLimitPreset attaches one of the named preset limiters.
func (n *Namespace) WithRateLimitPreset(name string, onExceeded ratelimit.ExceededFunc) error {
	cfg, err := ratelimit.Preset(name)
	if err != nil {
		return fmt.Errorf("namespace %q: %w", n.name, err)
	}
	cfg.OnExceeded = onExceeded
	return n.WithRateLimit(cfg)
}

// RemoveRateLimit detaches the limiter; every inbound message is admitted.
func (n *Namespace) RemoveRateLimit() {
	n.mu.Lock()
	n.limiter = nil
	n.mu.Unlock()
}

// RateLimiter returns the attached limiter or nil.
func (n *Namespace) RateLimiter() *ratelimit.Limiter {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.limiter
}

// SetKeyFunc overrides how senders map to rate-limit keys.
func (n *Namespace) SetKeyFunc(fn KeyFunc) {
	if fn == nil {
		fn = senderKey
	}
	n.mu.Lock()
	n.keyOf = fn
	n.mu.Unlock()
}

// Fire buffers an event for the next flush.
func (n *Namespace) Fire(dest domain.Destination, event string, args ...any) error {
	msg, ok, err := n.outbound(dest, event, domain.KindEvent, domain.ModeBatched, args)
	if err != nil || !ok {
		return err
	}
	n.outbox.Enqueue(msg)
	return nil
}

// FireNow sends an event without waiting for the next flush.
func (n *Namespace) FireNow(ctx context.Context, dest domain.Destination, event string, args ...any) error {
	msg, ok, err := n.outbound(dest, event, domain.KindEvent, domain.ModeImmediate, args)
	if err != nil || !ok {
		return err
	}
	return n.outbox.SendImmediate(ctx, msg)
}

// Call sends a call through the batch and returns the future of its
// response. The call goes to the destination's endpoints; the first
// response settles the future.
func (n *Namespace) Call(dest domain.Destination, event string, args ...any) (*correlator.Future, error) {
	msg, ok, err := n.outbound(dest, event, domain.KindCall, domain.ModeBatched, args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: call %q has no recipients", domain.ErrValidation, event)
	}

	return n.calls.Call(n.name, func(callID uint64) error {
		msg.CallID = callID
		n.outbox.Enqueue(msg)
		return nil
	})
}

// Route delivers one inbound message. It never returns an error: denials,
// handler failures and stale responses are logged and dropped.
func (n *Namespace) Route(ctx context.Context, msg transport.Inbound) {
	n.mu.RLock()
	limiter := n.limiter
	keyOf := n.keyOf
	n.mu.RUnlock()

	if limiter != nil {
		allowed, retryAfter := limiter.Check(keyOf(msg.Sender))
		n.metrics.IncRateLimitDecision(n.name, allowed)
		if !allowed {
			n.logger.Debug("inbound message rate limited",
				zap.String("sender", msg.Sender.String()),
				zap.String("event", msg.Event),
				zap.Duration("retryAfter", retryAfter),
			)
			return
		}
	}

	n.metrics.IncInboundMessage(n.name, msg.Kind.String())

	switch msg.Kind {
	case domain.KindResponse:
		n.settle(msg)
	case domain.KindCall:
		n.respond(ctx, msg)
	default:
		n.invokeAll(ctx, msg)
	}
}

func (n *Namespace) invokeAll(ctx context.Context, msg transport.Inbound) {
	for _, handler := range n.handlersFor(msg.Event) {
		if _, err := n.invoke(ctx, handler, msg); err != nil {
			n.handlerFailed(msg, err)
		}
	}
}

func (n *Namespace) respond(ctx context.Context, msg transport.Inbound) {
	handlers := n.handlersFor(msg.Event)

	var (
		values  []any
		replied bool
		lastErr error
	)
	for _, handler := range handlers {
		out, err := n.invoke(ctx, handler, msg)
		if err != nil {
			n.handlerFailed(msg, err)
			lastErr = err
			continue
		}
		if !replied {
			values = out
			replied = true
		}
	}

	response := domain.Message{
		Namespace:   n.name,
		Channel:     n.channel,
		Event:       msg.Event,
		Kind:        domain.KindResponse,
		CallID:      msg.CallID,
		Destination: domain.To(msg.Sender),
		Mode:        domain.ModeImmediate,
	}
	switch {
	case replied:
		response.Args = values
	case lastErr != nil:
		response.Error = lastErr.Error()
	default:
		response.Error = fmt.Sprintf("no handler for %q", msg.Event)
	}

	if err := n.outbox.SendImmediate(ctx, response); err != nil {
		n.logger.Error("failed to send call response",
			zap.String("event", msg.Event),
			zap.Uint64("callId", msg.CallID),
			zap.String("sender", msg.Sender.String()),
			zap.Error(err),
		)
	}
}

func (n *Namespace) settle(msg transport.Inbound) {
	var settled bool
	if msg.Error != "" {
		settled = n.calls.Reject(msg.CallID, &RemoteError{Namespace: n.name, Event: msg.Event, Message: msg.Error})
	} else {
		settled = n.calls.Resolve(msg.CallID, msg.Args)
	}
	if !settled {
		n.logger.Debug("dropping response for unknown or settled call",
			zap.Uint64("callId", msg.CallID),
			zap.String("event", msg.Event),
		)
	}
}

func (n *Namespace) invoke(ctx context.Context, handler Handler, msg transport.Inbound) (values []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, msg.Sender, msg.Args)
}

func (n *Namespace) handlerFailed(msg transport.Inbound, err error) {
	n.metrics.IncHandlerFailure(n.name, msg.Event)
	n.logger.Warn("event handler failed",
		zap.String("event", msg.Event),
		zap.String("sender", msg.Sender.String()),
		zap.String("kind", msg.Kind.String()),
		zap.Error(err),
	)
}

func (n *Namespace) handlersFor(event string) []Handler {
	n.mu.RLock()
	defer n.mu.RUnlock()

	registered := n.handlers[event]
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

// outbound builds and validates a message. ok is false when a filter
// destination matched no endpoint.
func (n *Namespace) outbound(
	dest domain.Destination,
	event string,
	kind domain.MessageKind,
	mode domain.SendMode,
	args []any,
) (domain.Message, bool, error) {
	resolved, err := n.resolve(dest)
	if err != nil {
		return domain.Message{}, false, err
	}
	if resolved.Kind == domain.DestinationList && len(resolved.Endpoints) == 0 {
		n.logger.Debug("destination matched no endpoints", zap.String("event", event))
		return domain.Message{}, false, nil
	}

	msg := domain.Message{
		Namespace:   n.name,
		Channel:     n.channel,
		Event:       event,
		Kind:        kind,
		Args:        args,
		Destination: resolved,
		Mode:        mode,
	}
	if err := msg.Validate(); err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

func (n *Namespace) resolve(dest domain.Destination) (domain.Destination, error) {
	if dest.Kind != domain.DestinationFilter {
		return dest, nil
	}
	if dest.Filter == nil {
		return domain.Destination{}, fmt.Errorf("%w: filter destination requires a predicate", domain.ErrValidation)
	}
	if n.directory == nil {
		return domain.Destination{}, errors.New("filter destinations need an endpoint directory")
	}

	matched := make([]domain.Endpoint, 0)
	for _, endpoint := range n.directory.Endpoints() {
		if dest.Filter(endpoint) {
			matched = append(matched, endpoint)
		}
	}
	return domain.ToList(matched...), nil
}
