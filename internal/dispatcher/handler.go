package dispatcher

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/netevents/internal/correlator"
	"github.com/kursadbilgin/netevents/internal/domain"
)

// Handler reacts to one inbound event. For calls, the returned values become
// the response; for plain events they are ignored.
type Handler interface {
	Handle(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error)
}

type HandlerFunc func(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error)

func (f HandlerFunc) Handle(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error) {
	return f(ctx, sender, args)
}

// Outbox is the outbound half of the batch scheduler.
type Outbox interface {
	Enqueue(msg domain.Message)
	SendImmediate(ctx context.Context, msg domain.Message) error
}

// Calls is the correlator surface a namespace needs.
type Calls interface {
	Call(namespace string, issue func(callID uint64) error) (*correlator.Future, error)
	Resolve(callID uint64, values []any) bool
	Reject(callID uint64, err error) bool
}

// Directory lists the endpoints currently reachable, used to resolve filter
// destinations.
type Directory interface {
	Endpoints() []domain.Endpoint
}

// KeyFunc maps a sender to its rate-limit key.
type KeyFunc func(sender domain.Endpoint) string

func senderKey(sender domain.Endpoint) string { return sender.String() }

// RemoteError is the failure reported by the remote side of a call.
type RemoteError struct {
	Namespace string
	Event     string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call %s/%s failed: %s", e.Namespace, e.Event, e.Message)
}
