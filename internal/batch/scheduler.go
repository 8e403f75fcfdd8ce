// Package batch buffers outbound messages per namespace and flushes them to
// the transport once per tick.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/observability"
	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
)

// Report summarizes one Flush.
type Report struct {
	Namespaces int
	Packets    int
	Sent       int
	Dropped    int
	Failures   map[string]error
}

// Err joins the per-namespace failures in namespace order, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.Failures))
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, r.Failures[name])
	}
	return errors.Join(errs...)
}

// Scheduler holds the pending outbound buffers. Enqueue and Flush may be
// called from different goroutines; sends never overlap.
type Scheduler struct {
	transport transport.Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
	newID     func() string
	now       func() time.Time

	mu      sync.Mutex
	order   []string
	buffers map[string][]domain.Message

	sendMu sync.Mutex
}

func NewScheduler(t transport.Transport, metrics *observability.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if t == nil {
		return nil, errors.New("batch scheduler requires a transport")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		transport: t,
		logger:    logger,
		metrics:   metrics,
		newID:     uuid.NewString,
		now:       time.Now,
		buffers:   make(map[string][]domain.Message),
	}, nil
}

// Enqueue appends msg to its namespace buffer. It never blocks on I/O.
func (s *Scheduler) Enqueue(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buffers[msg.Namespace]; !ok {
		s.order = append(s.order, msg.Namespace)
	}
	s.buffers[msg.Namespace] = append(s.buffers[msg.Namespace], msg)
}

// Pending returns the number of buffered messages for a namespace.
func (s *Scheduler) Pending(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[namespace])
}

// SendImmediate sends msg as a single packet, bypassing the buffer. It waits
// for any flush already in progress so relative send order is kept.
func (s *Scheduler) SendImmediate(ctx context.Context, msg domain.Message) error {
	packet := s.packetFor(msg)
	packet.Payloads = append(packet.Payloads, payloadOf(msg))

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.send(ctx, packet, domain.ModeImmediate); err != nil {
		return fmt.Errorf("immediate send %s/%s: %w", msg.Namespace, msg.Event, err)
	}
	return nil
}

// Flush drains every namespace buffer. Each buffer is grouped by channel,
// kind, event and destination in first-appearance order, one packet per
// group. A failed send drops the rest of that namespace's buffer; other
// namespaces are still flushed.
//
// Buffers are taken while holding the send lock, so overlapping flushes send
// their batches in the order the buffers were drained.
func (s *Scheduler) Flush(ctx context.Context) Report {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	order, buffers := s.order, s.buffers
	s.order = nil
	s.buffers = make(map[string][]domain.Message)
	s.mu.Unlock()

	report := Report{}
	if len(order) == 0 {
		return report
	}

	start := s.now()
	for _, namespace := range order {
		msgs := buffers[namespace]
		if len(msgs) == 0 {
			continue
		}
		report.Namespaces++

		sent := 0
		for _, packet := range s.group(msgs) {
			if err := s.send(ctx, packet, domain.ModeBatched); err != nil {
				dropped := len(msgs) - sent
				if report.Failures == nil {
					report.Failures = make(map[string]error)
				}
				report.Failures[namespace] = fmt.Errorf("flush %s: %w", namespace, err)
				report.Dropped += dropped

				s.logger.Error("batch flush failed, dropping namespace buffer",
					zap.String("namespace", namespace),
					zap.String("event", packet.Event),
					zap.Int("dropped", dropped),
					zap.Bool("transient", transport.IsTransient(err)),
					zap.Error(err),
				)
				s.metrics.AddFlushedMessages(namespace, "dropped", dropped)
				break
			}

			report.Packets++
			sent += len(packet.Payloads)
		}

		report.Sent += sent
		s.metrics.AddFlushedMessages(namespace, "sent", sent)
	}
	s.metrics.ObserveFlushDuration(s.now().Sub(start))

	return report
}

func (s *Scheduler) send(ctx context.Context, packet transport.Packet, mode domain.SendMode) error {
	err := s.transport.Send(ctx, packet)
	if err != nil {
		s.metrics.IncTransportFailure(packet.Namespace, packet.Channel.String(), mode.String())
		return err
	}
	s.metrics.IncPacketSent(packet.Namespace, packet.Channel.String(), mode.String())
	return nil
}

func (s *Scheduler) group(msgs []domain.Message) []transport.Packet {
	index := make(map[string]int, len(msgs))
	packets := make([]transport.Packet, 0, len(msgs))

	for _, msg := range msgs {
		key := groupKey(msg)
		i, ok := index[key]
		if !ok {
			i = len(packets)
			index[key] = i
			packets = append(packets, s.packetFor(msg))
		}
		packets[i].Payloads = append(packets[i].Payloads, payloadOf(msg))
	}

	return packets
}

func (s *Scheduler) packetFor(msg domain.Message) transport.Packet {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindEvent
	}
	return transport.Packet{
		ID:          s.newID(),
		Channel:     msg.Channel,
		Destination: msg.Destination,
		Namespace:   msg.Namespace,
		Event:       msg.Event,
		Kind:        kind,
	}
}

func groupKey(msg domain.Message) string {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindEvent
	}
	return msg.Channel.String() + "|" + kind.String() + "|" + msg.Event + "|" + msg.Destination.Key()
}

func payloadOf(msg domain.Message) transport.Payload {
	return transport.Payload{
		CallID: msg.CallID,
		Args:   msg.Args,
		Error:  msg.Error,
	}
}
