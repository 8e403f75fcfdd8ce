package transport

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/netevents/internal/domain"
)

// Frame is the wire form of a packet.
type Frame struct {
	ID        string             `json:"id"`
	Sender    domain.Endpoint    `json:"sender"`
	Channel   domain.Channel     `json:"channel"`
	Namespace string             `json:"namespace"`
	Event     string             `json:"event"`
	Kind      domain.MessageKind `json:"kind"`
	Broadcast bool               `json:"broadcast,omitempty"`
	Except    domain.Endpoint    `json:"except,omitempty"`
	To        []domain.Endpoint  `json:"to,omitempty"`
	Payloads  []Payload          `json:"payloads"`
}

func NewFrame(sender domain.Endpoint, packet Packet) Frame {
	frame := Frame{
		ID:        packet.ID,
		Sender:    sender,
		Channel:   packet.Channel,
		Namespace: packet.Namespace,
		Event:     packet.Event,
		Kind:      packet.Kind,
		Payloads:  packet.Payloads,
	}
	switch packet.Destination.Kind {
	case domain.DestinationAll:
		frame.Broadcast = true
	case domain.DestinationAllExcept:
		frame.Broadcast = true
		frame.Except = packet.Destination.Except
	case domain.DestinationOne, domain.DestinationList:
		frame.To = directTargets(packet.Destination)
	}
	return frame
}

func (f Frame) Validate() error {
	if strings.TrimSpace(f.Namespace) == "" {
		return fmt.Errorf("%w: frame namespace is required", domain.ErrValidation)
	}
	if strings.TrimSpace(f.Event) == "" {
		return fmt.Errorf("%w: frame event is required", domain.ErrValidation)
	}
	if !f.Kind.IsValid() {
		return fmt.Errorf("%w: invalid frame kind %q", domain.ErrValidation, f.Kind)
	}
	if len(f.Payloads) == 0 {
		return fmt.Errorf("%w: frame has no payloads", domain.ErrValidation)
	}
	return nil
}

// SkipFor reports whether the local endpoint should ignore the frame: its
// own broadcasts, broadcasts that exclude it and directed frames that do not
// name it.
func (f Frame) SkipFor(self domain.Endpoint) bool {
	if f.Broadcast {
		return f.Sender == self || (f.Except != "" && f.Except == self)
	}
	if len(f.To) == 0 {
		return false
	}
	return !slices.Contains(f.To, self)
}

// Inbound expands the frame into one inbound message per payload, in order.
func (f Frame) Inbound() []Inbound {
	out := make([]Inbound, 0, len(f.Payloads))
	for _, p := range f.Payloads {
		out = append(out, Inbound{
			PacketID:  f.ID,
			Sender:    f.Sender,
			Channel:   f.Channel,
			Namespace: f.Namespace,
			Event:     f.Event,
			Kind:      f.Kind,
			CallID:    p.CallID,
			Args:      p.Args,
			Error:     p.Error,
		})
	}
	return out
}

func EncodeFrame(frame Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid frame JSON: %v", domain.ErrValidation, err)
	}
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}
