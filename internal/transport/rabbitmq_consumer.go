package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer feeds reliable frames from the local endpoint queue.
// Frames are acked after every payload was handled, requeued when a handler
// fails and dead-lettered when they cannot be decoded.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	self     domain.Endpoint
	prefetch int
	logger   *zap.Logger
}

var _ Receiver = (*RabbitMQConsumer)(nil)

func NewRabbitMQConsumer(client *RabbitMQ, self domain.Endpoint, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		self:     self,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Receive(ctx context.Context, handler InboundHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if c.self == "" {
		return fmt.Errorf("local endpoint id is required")
	}
	if handler == nil {
		return fmt.Errorf("inbound handler is required")
	}

	backoff := initialBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = initialBackoff
			continue
		}

		c.logger.Warn("rabbitmq consume interrupted, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler InboundHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := declareEndpointQueue(ch, c.self); err != nil {
		return err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	queue := QueueName(c.self)
	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler InboundHandler) error {
	frame, err := DecodeFrame(d.Body)
	if err != nil {
		c.logger.Warn("rejecting frame: decode failed",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid frame: %w", rejectErr)
		}
		return nil
	}

	if frame.SkipFor(c.self) {
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack skipped frame: %w", err)
		}
		return nil
	}

	for _, msg := range frame.Inbound() {
		if err := handler(ctx, msg); err != nil {
			c.logger.Warn("reliable message handler failed, requeueing frame",
				zap.String("packetId", frame.ID),
				zap.String("namespace", msg.Namespace),
				zap.String("event", msg.Event),
				zap.Error(err),
			)
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("handler failed and nack failed: %w", nackErr)
			}
			return nil
		}
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
