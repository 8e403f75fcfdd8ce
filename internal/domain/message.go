package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Endpoint identifies one side of a connection, e.g. a client session id.
type Endpoint string

func (e Endpoint) String() string { return string(e) }

// DestinationKind is the shape of a destination set.
type DestinationKind string

const (
	DestinationOne       DestinationKind = "one"
	DestinationList      DestinationKind = "list"
	DestinationAll       DestinationKind = "all"
	DestinationAllExcept DestinationKind = "all_except"
	DestinationFilter    DestinationKind = "filter"
)

// Destination describes who receives a message. Filter destinations must be
// resolved into a list before they reach the batch scheduler.
type Destination struct {
	Kind      DestinationKind
	Endpoints []Endpoint
	Except    Endpoint
	Filter    func(Endpoint) bool
}

func To(endpoint Endpoint) Destination {
	return Destination{Kind: DestinationOne, Endpoints: []Endpoint{endpoint}}
}

func ToList(endpoints ...Endpoint) Destination {
	list := make([]Endpoint, len(endpoints))
	copy(list, endpoints)
	return Destination{Kind: DestinationList, Endpoints: list}
}

func ToAll() Destination {
	return Destination{Kind: DestinationAll}
}

func ToAllExcept(endpoint Endpoint) Destination {
	return Destination{Kind: DestinationAllExcept, Except: endpoint}
}

func ToFilter(filter func(Endpoint) bool) Destination {
	return Destination{Kind: DestinationFilter, Filter: filter}
}

func (d Destination) Validate() error {
	switch d.Kind {
	case DestinationOne:
		if len(d.Endpoints) != 1 || strings.TrimSpace(d.Endpoints[0].String()) == "" {
			return fmt.Errorf("%w: single destination requires one endpoint", ErrValidation)
		}
	case DestinationList:
		for _, ep := range d.Endpoints {
			if strings.TrimSpace(ep.String()) == "" {
				return fmt.Errorf("%w: destination list contains an empty endpoint", ErrValidation)
			}
		}
	case DestinationAll:
	case DestinationAllExcept:
		if strings.TrimSpace(d.Except.String()) == "" {
			return fmt.Errorf("%w: all-except destination requires an endpoint", ErrValidation)
		}
	case DestinationFilter:
		if d.Filter == nil {
			return fmt.Errorf("%w: filter destination requires a predicate", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid destination kind %q", ErrValidation, d.Kind)
	}
	return nil
}

// Key returns a stable grouping key. Lists are order-insensitive.
func (d Destination) Key() string {
	switch d.Kind {
	case DestinationOne:
		if len(d.Endpoints) == 0 {
			return "one:"
		}
		return "one:" + d.Endpoints[0].String()
	case DestinationList:
		names := make([]string, len(d.Endpoints))
		for i, ep := range d.Endpoints {
			names[i] = ep.String()
		}
		sort.Strings(names)
		return "list:" + strings.Join(names, ",")
	case DestinationAllExcept:
		return "all_except:" + d.Except.String()
	default:
		return string(d.Kind)
	}
}

// Message is one outbound event, call or response. It lives from Fire until
// the flush that delivers it.
type Message struct {
	Namespace   string
	Channel     Channel
	Event       string
	Kind        MessageKind
	CallID      uint64
	Args        []any
	Error       string
	Destination Destination
	Mode        SendMode
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Namespace) == "" {
		return fmt.Errorf("%w: namespace is required", ErrValidation)
	}
	if strings.TrimSpace(m.Event) == "" {
		return fmt.Errorf("%w: event name is required", ErrValidation)
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, m.Channel)
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: invalid message kind %q", ErrValidation, m.Kind)
	}
	if m.Destination.Kind == DestinationFilter {
		return fmt.Errorf("%w: filter destination must be resolved before send", ErrValidation)
	}
	return m.Destination.Validate()
}
