package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKey             = "netevents:presence"
	defaultPresenceInterval = 5 * time.Second
	presenceTTLFactor       = 3
)

// heartbeatScript records the caller, evicts stale members and returns the
// live set in one round trip.
var heartbeatScript = goredis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
return redis.call("ZRANGE", KEYS[1], 0, -1)
`)

// Presence tracks live endpoints in a Redis sorted set scored by last
// heartbeat. It serves as the endpoint directory for filter destinations.
type Presence struct {
	client   *goredis.Client
	self     domain.Endpoint
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.RWMutex
	endpoints []domain.Endpoint
}

func NewPresence(client *goredis.Client, self domain.Endpoint, interval time.Duration, logger *zap.Logger) (*Presence, error) {
	return newPresence(client, self, interval, time.Now, logger)
}

func newPresence(
	client *goredis.Client,
	self domain.Endpoint,
	interval time.Duration,
	nowFn func() time.Time,
	logger *zap.Logger,
) (*Presence, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if self == "" {
		return nil, fmt.Errorf("local endpoint id is required")
	}
	if interval <= 0 {
		interval = defaultPresenceInterval
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Presence{
		client:   client,
		self:     self,
		interval: interval,
		ttl:      presenceTTLFactor * interval,
		now:      nowFn,
		logger:   logger,
	}, nil
}

// Heartbeat marks the local endpoint alive and refreshes the cached peer set.
func (p *Presence) Heartbeat(ctx context.Context) error {
	now := p.now()
	cutoff := now.Add(-p.ttl)

	members, err := heartbeatScript.Run(ctx, p.client, []string{presenceKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		p.self.String(),
		strconv.FormatInt(cutoff.UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}

	peers := make([]domain.Endpoint, 0, len(members))
	for _, member := range members {
		if member == p.self.String() {
			continue
		}
		peers = append(peers, domain.Endpoint(member))
	}

	p.mu.Lock()
	p.endpoints = peers
	p.mu.Unlock()
	return nil
}

// Endpoints returns the live peers seen by the last heartbeat, excluding
// the local endpoint.
func (p *Presence) Endpoints() []domain.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Leave removes the local endpoint from the live set.
func (p *Presence) Leave(ctx context.Context) error {
	if err := p.client.ZRem(ctx, presenceKey, p.self.String()).Err(); err != nil {
		return fmt.Errorf("failed to leave presence set: %w", err)
	}
	return nil
}

func (p *Presence) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("presence initial heartbeat failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Heartbeat(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("presence heartbeat failed", zap.Error(err))
			}
		}
	}
}
