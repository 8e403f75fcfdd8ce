package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/netevents/internal/domain"
)

// TransportError classifies send failures as transient or permanent.
type TransportError struct {
	Channel    domain.Channel
	Namespace  string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "transport error")

	if e.Channel != "" {
		parts = append(parts, fmt.Sprintf("channel=%s", strings.ToLower(e.Channel.String())))
	}
	if e.Namespace != "" {
		parts = append(parts, fmt.Sprintf("namespace=%s", e.Namespace))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets callers match any TransportError with domain.ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == domain.ErrTransport
}

func newTransportError(packet Packet, message string, transient bool, cause error) *TransportError {
	return &TransportError{
		Channel:   packet.Channel,
		Namespace: packet.Namespace,
		Message:   message,
		Transient: transient,
		Cause:     cause,
	}
}

// IsTransient reports whether a failed send may succeed on a later tick.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
