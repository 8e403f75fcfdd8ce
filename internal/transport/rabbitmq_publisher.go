package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher carries the reliable channel: persistent messages to the
// direct exchange per endpoint, or once to the fanout exchange for
// broadcasts.
type RabbitMQPublisher struct {
	client *RabbitMQ
	self   domain.Endpoint
}

var _ Transport = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(client *RabbitMQ, self domain.Endpoint) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, self: self}
}

type publishRoute struct {
	exchange   string
	routingKey string
}

func publishRoutes(dest domain.Destination) []publishRoute {
	if isBroadcast(dest) {
		return []publishRoute{{exchange: broadcastExchangeName}}
	}

	targets := directTargets(dest)
	routes := make([]publishRoute, 0, len(targets))
	for _, endpoint := range targets {
		routes = append(routes, publishRoute{exchange: directExchangeName, routingKey: endpoint.String()})
	}
	return routes
}

func (p *RabbitMQPublisher) Send(ctx context.Context, packet Packet) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := EncodeFrame(NewFrame(p.self, packet))
	if err != nil {
		return newTransportError(packet, "encode failed", false, err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return newTransportError(packet, "rabbitmq unavailable", !errors.Is(err, context.Canceled), err)
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    packet.ID,
		AppId:        p.self.String(),
		Type:         packet.Kind.String(),
		Body:         payload,
	}

	for _, route := range publishRoutes(packet.Destination) {
		if err := ch.PublishWithContext(ctx, route.exchange, route.routingKey, false, false, publishing); err != nil {
			return newTransportError(packet,
				fmt.Sprintf("publish to %q/%q failed", route.exchange, route.routingKey),
				!errors.Is(err, context.Canceled),
				err,
			)
		}
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
