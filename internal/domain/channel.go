package domain

import (
	"fmt"
	"strings"
)

// Channel is the reliability mode of a namespace.
type Channel string

const (
	ChannelReliable   Channel = "RELIABLE"
	ChannelUnreliable Channel = "UNRELIABLE"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelReliable, ChannelUnreliable:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Side identifies which end of the connection a registry belongs to.
type Side string

const (
	SideServer Side = "SERVER"
	SideClient Side = "CLIENT"
)

func (s Side) String() string { return string(s) }

func (s Side) IsValid() bool {
	switch s {
	case SideServer, SideClient:
		return true
	}
	return false
}

func ParseSideFromString(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.IsValid() {
		return "", fmt.Errorf("%w: invalid side %q", ErrValidation, s)
	}
	return side, nil
}

// MessageKind tags a payload as a plain event, a call or a call response.
type MessageKind string

const (
	KindEvent    MessageKind = "event"
	KindCall     MessageKind = "call"
	KindResponse MessageKind = "response"
)

func (k MessageKind) String() string { return string(k) }

func (k MessageKind) IsValid() bool {
	switch k {
	case KindEvent, KindCall, KindResponse:
		return true
	}
	return false
}

// SendMode selects between the per-tick batch and an immediate send.
type SendMode string

const (
	ModeBatched   SendMode = "BATCHED"
	ModeImmediate SendMode = "IMMEDIATE"
)

func (m SendMode) String() string { return string(m) }
