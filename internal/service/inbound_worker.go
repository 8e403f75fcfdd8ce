package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Router delivers one inbound message to its namespace.
type Router interface {
	Route(ctx context.Context, msg transport.Inbound)
}

// NamedReceiver labels a receiver for logging.
type NamedReceiver struct {
	Name     string
	Receiver transport.Receiver
}

// InboundWorker runs every receiver concurrently and routes what they
// deliver until ctx is done or one receiver fails.
type InboundWorker struct {
	receivers []NamedReceiver
	router    Router
	logger    *zap.Logger
}

func NewInboundWorker(router Router, receivers []NamedReceiver, logger *zap.Logger) (*InboundWorker, error) {
	if router == nil {
		return nil, fmt.Errorf("inbound router is required")
	}
	if len(receivers) == 0 {
		return nil, fmt.Errorf("at least one receiver is required")
	}
	for _, r := range receivers {
		if r.Receiver == nil {
			return nil, fmt.Errorf("receiver %q is nil", r.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InboundWorker{
		receivers: receivers,
		router:    router,
		logger:    logger,
	}, nil
}

func (w *InboundWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, r := range w.receivers {
		r := r
		g.Go(func() error {
			w.logger.Info("receiver started", zap.String("receiver", r.Name))

			if err := r.Receiver.Receive(groupCtx, w.handle); err != nil {
				w.logger.Error("receiver stopped with error",
					zap.String("receiver", r.Name),
					zap.Error(err),
				)
				return fmt.Errorf("receiver %s: %w", r.Name, err)
			}

			w.logger.Info("receiver stopped", zap.String("receiver", r.Name))
			return nil
		})
	}

	return g.Wait()
}

// handle never fails: routing drops are final and must not trigger
// redelivery.
func (w *InboundWorker) handle(ctx context.Context, msg transport.Inbound) error {
	w.router.Route(ctx, msg)
	return nil
}
