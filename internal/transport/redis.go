package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/netevents/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport carries the unreliable channel over Redis Pub/Sub. Frames
// published while the receiver is disconnected are lost.
type RedisTransport struct {
	client *goredis.Client
	self   domain.Endpoint
	logger *zap.Logger
}

var (
	_ Transport = (*RedisTransport)(nil)
	_ Receiver  = (*RedisTransport)(nil)
)

func NewRedisTransport(client *goredis.Client, self domain.Endpoint, logger *zap.Logger) (*RedisTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if self == "" {
		return nil, fmt.Errorf("local endpoint id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisTransport{client: client, self: self, logger: logger}, nil
}

func (t *RedisTransport) Send(ctx context.Context, packet Packet) error {
	data, err := EncodeFrame(NewFrame(t.self, packet))
	if err != nil {
		return newTransportError(packet, "encode failed", false, err)
	}

	if isBroadcast(packet.Destination) {
		return t.publish(ctx, packet, RedisBroadcastChannel, data)
	}
	for _, endpoint := range directTargets(packet.Destination) {
		if err := t.publish(ctx, packet, RedisEndpointChannel(endpoint), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *RedisTransport) publish(ctx context.Context, packet Packet, channel string, data []byte) error {
	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return newTransportError(packet,
			fmt.Sprintf("publish to %q failed", channel),
			!errors.Is(err, context.Canceled),
			err,
		)
	}
	return nil
}

// Receive subscribes to the local endpoint channel and the broadcast channel
// and feeds decoded messages to handler until ctx is done.
func (t *RedisTransport) Receive(ctx context.Context, handler InboundHandler) error {
	if handler == nil {
		return fmt.Errorf("inbound handler is required")
	}

	sub := t.client.Subscribe(ctx, RedisEndpointChannel(t.self), RedisBroadcastChannel)
	defer sub.Close() //nolint:errcheck // best-effort unsubscribe

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to redis channels: %w", err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			t.dispatch(ctx, msg.Channel, []byte(msg.Payload), handler)
		}
	}
}

func (t *RedisTransport) dispatch(ctx context.Context, channel string, data []byte, handler InboundHandler) {
	frame, err := DecodeFrame(data)
	if err != nil {
		t.logger.Warn("dropping invalid frame",
			zap.String("redisChannel", channel),
			zap.Error(err),
		)
		return
	}
	if frame.SkipFor(t.self) {
		return
	}

	for _, msg := range frame.Inbound() {
		if err := handler(ctx, msg); err != nil {
			t.logger.Warn("unreliable message handler failed",
				zap.String("packetId", frame.ID),
				zap.String("namespace", msg.Namespace),
				zap.String("event", msg.Event),
				zap.Error(err),
			)
		}
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (t *RedisTransport) Close() error { return nil }
