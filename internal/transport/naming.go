package transport

import (
	"fmt"

	"github.com/kursadbilgin/netevents/internal/domain"
)

const (
	// RedisBroadcastChannel carries unreliable frames addressed to every
	// endpoint.
	RedisBroadcastChannel = "netevents:broadcast"

	directExchangeName    = "netevents.direct"
	broadcastExchangeName = "netevents.broadcast"
	dlxExchangeName       = "netevents.dlx"
)

// RedisEndpointChannel returns the Pub/Sub channel of one endpoint, e.g.
// netevents:ep:client-1.
func RedisEndpointChannel(endpoint domain.Endpoint) string {
	return fmt.Sprintf("netevents:ep:%s", endpoint)
}

// QueueName returns the durable inbound queue of an endpoint, e.g.
// netevents.client-1.
func QueueName(endpoint domain.Endpoint) string {
	return fmt.Sprintf("netevents.%s", endpoint)
}

// DLQName returns the dead-letter queue of an endpoint, e.g.
// dlq.netevents.client-1.
func DLQName(endpoint domain.Endpoint) string {
	return fmt.Sprintf("dlq.%s", QueueName(endpoint))
}

// isBroadcast reports whether dest is delivered through the shared broadcast
// route rather than per-endpoint addressing.
func isBroadcast(dest domain.Destination) bool {
	return dest.Kind == domain.DestinationAll || dest.Kind == domain.DestinationAllExcept
}

// directTargets lists the endpoints a non-broadcast destination addresses,
// without duplicates.
func directTargets(dest domain.Destination) []domain.Endpoint {
	seen := make(map[domain.Endpoint]struct{}, len(dest.Endpoints))
	targets := make([]domain.Endpoint, 0, len(dest.Endpoints))
	for _, ep := range dest.Endpoints {
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		targets = append(targets, ep)
	}
	return targets
}
