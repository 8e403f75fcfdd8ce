package transport

import (
	"context"
	"errors"

	"github.com/kursadbilgin/netevents/internal/domain"
)

// Mux sends each packet through the transport registered for its channel.
type Mux struct {
	routes map[domain.Channel]Transport
}

func NewMux(reliable, unreliable Transport) (*Mux, error) {
	if reliable == nil {
		return nil, errors.New("reliable transport is required")
	}
	if unreliable == nil {
		return nil, errors.New("unreliable transport is required")
	}

	return &Mux{routes: map[domain.Channel]Transport{
		domain.ChannelReliable:   reliable,
		domain.ChannelUnreliable: unreliable,
	}}, nil
}

func (m *Mux) Send(ctx context.Context, packet Packet) error {
	t, ok := m.routes[packet.Channel]
	if !ok {
		return newTransportError(packet, "no transport for channel", false, nil)
	}
	return t.Send(ctx, packet)
}
