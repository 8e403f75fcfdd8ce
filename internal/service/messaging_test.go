package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/netevents/internal/batch"
	"github.com/kursadbilgin/netevents/internal/correlator"
	"github.com/kursadbilgin/netevents/internal/dispatcher"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/ratelimit"
	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
)

// loopNet delivers frames between in-process endpoints through the real
// wire codec.
type loopNet struct {
	mu    sync.Mutex
	peers map[domain.Endpoint]*dispatcher.Registry
	sends int
}

func newLoopNet() *loopNet {
	return &loopNet{peers: make(map[domain.Endpoint]*dispatcher.Registry)}
}

type loopTransport struct {
	self domain.Endpoint
	net  *loopNet
}

func (l *loopTransport) Send(ctx context.Context, packet transport.Packet) error {
	data, err := transport.EncodeFrame(transport.NewFrame(l.self, packet))
	if err != nil {
		return err
	}
	frame, err := transport.DecodeFrame(data)
	if err != nil {
		return err
	}

	l.net.mu.Lock()
	l.net.sends++
	targets := make([]domain.Endpoint, 0, len(l.net.peers))
	if frame.Broadcast {
		for ep := range l.net.peers {
			targets = append(targets, ep)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	} else {
		targets = append(targets, packet.Destination.Endpoints...)
	}
	peers := make([]*dispatcher.Registry, 0, len(targets))
	for _, ep := range targets {
		if frame.SkipFor(ep) {
			continue
		}
		if reg, ok := l.net.peers[ep]; ok {
			peers = append(peers, reg)
		}
	}
	l.net.mu.Unlock()

	for _, reg := range peers {
		for _, msg := range frame.Inbound() {
			reg.Route(ctx, msg)
		}
	}
	return nil
}

type node struct {
	scheduler *batch.Scheduler
	calls     *correlator.Correlator
	registry  *dispatcher.Registry
	loop      *TickLoop
}

func (n *loopNet) join(t *testing.T, self domain.Endpoint, side domain.Side, callTimeout time.Duration) *node {
	t.Helper()

	scheduler, err := batch.NewScheduler(&loopTransport{self: self, net: n}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	calls := correlator.New(callTimeout, nil, zap.NewNop())
	registry, err := dispatcher.NewRegistry(side, scheduler, calls, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	n.mu.Lock()
	n.peers[self] = registry
	n.mu.Unlock()

	return &node{
		scheduler: scheduler,
		calls:     calls,
		registry:  registry,
		loop:      NewTickLoop(scheduler, time.Hour, zap.NewNop()),
	}
}

func (n *node) namespace(t *testing.T, name string, channel domain.Channel) *dispatcher.Namespace {
	t.Helper()

	ns, err := n.registry.Namespace(name, channel)
	if err != nil {
		t.Fatalf("Namespace() error = %v", err)
	}
	return ns
}

func TestCallRoundTripResolvesAfterTick(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	server := net.join(t, "srv", domain.SideServer, 0)
	client := net.join(t, "c1", domain.SideClient, 0)

	serverNS := server.namespace(t, "math", domain.ChannelReliable)
	clientNS := client.namespace(t, "math", domain.ChannelReliable)

	_ = serverNS.On("sum", dispatcher.HandlerFunc(func(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error) {
		total := 0.0
		for _, arg := range args {
			total += arg.(float64)
		}
		return []any{total, string(sender)}, nil
	}))

	future, err := clientNS.Call(domain.To("srv"), "sum", 2, 3)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if future.State() != correlator.StatePending {
		t.Fatalf("State() before tick = %s, want pending", future.State())
	}

	client.loop.Tick(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	values, err := future.Await(ctx)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if len(values) != 2 || values[0] != 5.0 || values[1] != "c1" {
		t.Fatalf("values = %v, want [5 c1]", values)
	}
}

func TestCallToMissingHandlerRejects(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	server := net.join(t, "srv", domain.SideServer, 0)
	client := net.join(t, "c1", domain.SideClient, 0)
	server.namespace(t, "math", domain.ChannelReliable)
	clientNS := client.namespace(t, "math", domain.ChannelReliable)

	future, err := clientNS.Call(domain.To("srv"), "divide", 1, 0)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	client.loop.Tick(context.Background())

	_, err = future.Result()
	var remoteErr *dispatcher.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Result() error = %v, want RemoteError", err)
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	client := net.join(t, "c1", domain.SideClient, 20*time.Millisecond)
	clientNS := client.namespace(t, "math", domain.ChannelReliable)

	// Nobody is listening on "srv", so the call is never answered.
	future, err := clientNS.Call(domain.To("srv"), "sum", 1)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	client.loop.Tick(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := future.Await(ctx); !errors.Is(err, domain.ErrCallTimeout) {
		t.Fatalf("Await() error = %v, want ErrCallTimeout", err)
	}
	if future.State() != correlator.StateTimedOut {
		t.Fatalf("State() = %s, want timed_out", future.State())
	}
}

func TestBroadcastExceptSenderInOneSend(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	server := net.join(t, "srv", domain.SideServer, 0)
	players := map[domain.Endpoint]*[]string{}
	for _, ep := range []domain.Endpoint{"p1", "p2", "p3"} {
		n := net.join(t, ep, domain.SideClient, 0)
		got := &[]string{}
		players[ep] = got
		_ = n.namespace(t, "chat", domain.ChannelUnreliable).On("say", dispatcher.HandlerFunc(
			func(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error) {
				*got = append(*got, args[0].(string))
				return nil, nil
			}))
	}

	serverNS := server.namespace(t, "chat", domain.ChannelUnreliable)
	_ = serverNS.Fire(domain.ToAllExcept("p1"), "say", "hello")
	_ = serverNS.Fire(domain.ToAllExcept("p1"), "say", "again")
	server.loop.Tick(context.Background())

	if net.sends != 1 {
		t.Fatalf("transport sends = %d, want 1", net.sends)
	}
	if len(*players["p1"]) != 0 {
		t.Fatalf("p1 received %v, want nothing", *players["p1"])
	}
	for _, ep := range []domain.Endpoint{"p2", "p3"} {
		got := *players[ep]
		if len(got) != 2 || got[0] != "hello" || got[1] != "again" {
			t.Fatalf("%s received %v, want [hello again]", ep, got)
		}
	}
}

func TestServerRateLimitDropsExcessInOneTick(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	server := net.join(t, "srv", domain.SideServer, 0)
	client := net.join(t, "c1", domain.SideClient, 0)

	var (
		handled  int
		exceeded []int
	)
	serverNS := server.namespace(t, "input", domain.ChannelUnreliable)
	err := serverNS.WithRateLimit(ratelimit.Config{
		MaxCalls:   3,
		TimeWindow: time.Minute,
		Strategy:   ratelimit.StrategySliding,
		OnExceeded: func(key string, attempts int) {
			exceeded = append(exceeded, attempts)
		},
	})
	if err != nil {
		t.Fatalf("WithRateLimit() error = %v", err)
	}
	_ = serverNS.On("press", dispatcher.HandlerFunc(func(context.Context, domain.Endpoint, []any) ([]any, error) {
		handled++
		return nil, nil
	}))

	clientNS := client.namespace(t, "input", domain.ChannelUnreliable)
	for i := 0; i < 5; i++ {
		_ = clientNS.Fire(domain.To("srv"), "press", i)
	}
	client.loop.Tick(context.Background())

	if handled != 3 {
		t.Fatalf("handled = %d, want 3", handled)
	}
	if len(exceeded) != 2 || exceeded[0] != 1 || exceeded[1] != 2 {
		t.Fatalf("exceeded attempts = %v, want [1 2]", exceeded)
	}
	if got := serverNS.RateLimiter().GetRemaining("c1"); got != 0 {
		t.Fatalf("GetRemaining(c1) = %d, want 0", got)
	}
}

func TestFireNowArrivesBeforeNextTick(t *testing.T) {
	t.Parallel()

	net := newLoopNet()
	server := net.join(t, "srv", domain.SideServer, 0)
	client := net.join(t, "c1", domain.SideClient, 0)

	var order []string
	_ = client.namespace(t, "feed", domain.ChannelReliable).On("item", dispatcher.HandlerFunc(
		func(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error) {
			order = append(order, args[0].(string))
			return nil, nil
		}))

	serverNS := server.namespace(t, "feed", domain.ChannelReliable)
	_ = serverNS.Fire(domain.To("c1"), "item", "batched")
	if err := serverNS.FireNow(context.Background(), domain.To("c1"), "item", "urgent"); err != nil {
		t.Fatalf("FireNow() error = %v", err)
	}
	if len(order) != 1 || order[0] != "urgent" {
		t.Fatalf("delivered before tick = %v, want [urgent]", order)
	}

	server.loop.Tick(context.Background())
	if len(order) != 2 || order[1] != "batched" {
		t.Fatalf("delivered after tick = %v, want [urgent batched]", order)
	}
}
