// Package transport defines the send and receive capabilities the core uses
// and the broker-backed adapters that provide them.
package transport

import (
	"context"

	"github.com/kursadbilgin/netevents/internal/domain"
)

// Payload is one message inside a packet.
type Payload struct {
	CallID uint64 `json:"callId,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Packet is the unit of one transport send: payloads that share channel,
// namespace, event, kind and destination.
type Packet struct {
	ID          string
	Channel     domain.Channel
	Destination domain.Destination
	Namespace   string
	Event       string
	Kind        domain.MessageKind
	Payloads    []Payload
}

// Transport delivers packets. Unreliable delivery is best-effort; reliable
// delivery is at-least-once per call.
type Transport interface {
	Send(ctx context.Context, packet Packet) error
}

// Inbound is one decoded message from the inbound feed.
type Inbound struct {
	PacketID  string
	Sender    domain.Endpoint
	Channel   domain.Channel
	Namespace string
	Event     string
	Kind      domain.MessageKind
	CallID    uint64
	Args      []any
	Error     string
}

// InboundHandler consumes inbound messages. A returned error asks reliable
// receivers to redeliver the frame.
type InboundHandler func(ctx context.Context, msg Inbound) error

// Receiver feeds inbound messages for the local endpoint until ctx is done.
type Receiver interface {
	Receive(ctx context.Context, handler InboundHandler) error
	Close() error
}
