package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/netevents/internal/batch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeFlusher struct {
	mu      sync.Mutex
	calls   int
	flushFn func(ctx context.Context) batch.Report
}

func (f *fakeFlusher) Flush(ctx context.Context) batch.Report {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.flushFn != nil {
		return f.flushFn(ctx)
	}
	return batch.Report{}
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewTickLoopAppliesDefaults(t *testing.T) {
	t.Parallel()

	loop := NewTickLoop(&fakeFlusher{}, 0, nil)
	if loop.interval != defaultTickInterval {
		t.Fatalf("interval = %s, want %s", loop.interval, defaultTickInterval)
	}
}

func TestTickLoopFlushesUntilCanceled(t *testing.T) {
	t.Parallel()

	flusher := &fakeFlusher{}
	loop := NewTickLoop(flusher, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	deadline := time.Now().Add(time.Second)
	for flusher.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := flusher.count(); got < 4 {
		t.Fatalf("flush calls = %d, want at least 3 ticks and a final flush", got)
	}
}

func TestTickLoopFinalFlushUsesLiveContext(t *testing.T) {
	t.Parallel()

	var finalErr error
	flusher := &fakeFlusher{
		flushFn: func(ctx context.Context) batch.Report {
			finalErr = ctx.Err()
			return batch.Report{}
		},
	}
	loop := NewTickLoop(flusher, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loop.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if flusher.count() != 1 {
		t.Fatalf("flush calls = %d, want 1", flusher.count())
	}
	if finalErr != nil {
		t.Fatalf("final flush ctx error = %v, want nil", finalErr)
	}
}

func TestTickLogsNamespaceFailures(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	flusher := &fakeFlusher{
		flushFn: func(ctx context.Context) batch.Report {
			return batch.Report{Failures: map[string]error{
				"chat": errors.New("broker down"),
				"pos":  errors.New("timeout"),
			}}
		},
	}
	loop := NewTickLoop(flusher, time.Second, zap.New(core))

	report := loop.Tick(context.Background())
	if len(report.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(report.Failures))
	}
	if got := recorded.FilterMessage("namespace flush failed").Len(); got != 2 {
		t.Fatalf("warning count = %d, want 2", got)
	}
}
