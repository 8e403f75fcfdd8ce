package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/netevents/internal/batch"
	"go.uber.org/zap"
)

const (
	defaultTickInterval = 16 * time.Millisecond
	finalFlushTimeout   = 5 * time.Second
)

// Flusher drains buffered outbound messages.
type Flusher interface {
	Flush(ctx context.Context) batch.Report
}

// TickLoop drives the per-tick flush of the batch scheduler.
type TickLoop struct {
	flusher  Flusher
	interval time.Duration
	logger   *zap.Logger
}

func NewTickLoop(flusher Flusher, interval time.Duration, logger *zap.Logger) *TickLoop {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TickLoop{
		flusher:  flusher,
		interval: interval,
		logger:   logger,
	}
}

// Start flushes once per interval until ctx is done, then flushes whatever
// is still buffered.
func (l *TickLoop) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.finalFlush()
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one flush and logs every namespace that failed.
func (l *TickLoop) Tick(ctx context.Context) batch.Report {
	report := l.flusher.Flush(ctx)
	for namespace, err := range report.Failures {
		l.logger.Warn("namespace flush failed",
			zap.String("namespace", namespace),
			zap.Error(err),
		)
	}
	return report
}

func (l *TickLoop) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	report := l.Tick(ctx)
	if report.Sent > 0 || report.Dropped > 0 {
		l.logger.Info("final flush completed",
			zap.Int("sent", report.Sent),
			zap.Int("dropped", report.Dropped),
		)
	}
}
