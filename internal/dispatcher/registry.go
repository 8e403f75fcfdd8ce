package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/observability"
	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
)

// Registry owns the namespaces of one endpoint. Each name maps to exactly
// one Namespace for the registry's lifetime.
type Registry struct {
	side      domain.Side
	outbox    Outbox
	calls     Calls
	directory Directory
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

func NewRegistry(
	side domain.Side,
	outbox Outbox,
	calls Calls,
	directory Directory,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Registry, error) {
	if !side.IsValid() {
		return nil, fmt.Errorf("%w: invalid side %q", domain.ErrValidation, side)
	}
	if outbox == nil {
		return nil, errors.New("registry requires an outbox")
	}
	if calls == nil {
		return nil, errors.New("registry requires a call correlator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		side:       side,
		outbox:     outbox,
		calls:      calls,
		directory:  directory,
		metrics:    metrics,
		logger:     logger,
		namespaces: make(map[string]*Namespace),
	}, nil
}

func (r *Registry) Side() domain.Side { return r.side }

// Namespace returns the namespace called name, creating it on first use.
// Later requests get the existing instance even when they ask for a
// different channel.
func (r *Registry) Namespace(name string, channel domain.Channel) (*Namespace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: namespace name is required", domain.ErrValidation)
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ns, ok := r.namespaces[name]; ok {
		if ns.channel != channel {
			r.logger.Warn("namespace already exists with a different channel",
				zap.String("namespace", name),
				zap.String("existing", ns.channel.String()),
				zap.String("requested", channel.String()),
			)
		}
		return ns, nil
	}

	ns := &Namespace{
		name:      name,
		channel:   channel,
		outbox:    r.outbox,
		calls:     r.calls,
		directory: r.directory,
		metrics:   r.metrics,
		logger:    observability.WithNamespace(r.logger, name),
		handlers:  make(map[string][]Handler),
		keyOf:     senderKey,
	}
	r.namespaces[name] = ns

	r.logger.Info("namespace created",
		zap.String("namespace", name),
		zap.String("channel", channel.String()),
	)
	return ns, nil
}

// Lookup returns an existing namespace.
func (r *Registry) Lookup(name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: namespace %q", domain.ErrNotFound, name)
	}
	return ns, nil
}

// Names lists namespace names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route hands an inbound message to its namespace. Messages for unknown
// namespaces are logged and dropped.
func (r *Registry) Route(ctx context.Context, msg transport.Inbound) {
	ns, err := r.Lookup(msg.Namespace)
	if err != nil {
		r.metrics.IncInboundDropped("unknown_namespace")
		r.logger.Warn("dropping message for unknown namespace",
			zap.String("namespace", msg.Namespace),
			zap.String("event", msg.Event),
			zap.String("sender", msg.Sender.String()),
		)
		return
	}
	ns.Route(ctx, msg)
}
