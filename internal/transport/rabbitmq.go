package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type dialFunc func(url string) (*amqp.Connection, error)

// RabbitMQ owns the broker connection shared by the reliable publisher and
// consumer. A dropped connection is re-dialed with exponential backoff the
// next time a channel is requested.
type RabbitMQ struct {
	url    string
	dial   dialFunc
	logger *zap.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

// NewRabbitMQ connects within ctx.
func NewRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*RabbitMQ, error) {
	r, err := newRabbitMQ(url, amqp.Dial, logger)
	if err != nil {
		return nil, err
	}
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func newRabbitMQ(url string, dial dialFunc, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQ{
		url:            url,
		dial:           dial,
		logger:         logger,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// IsConnected backs the readiness probe.
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// channel opens a channel with the messaging exchanges declared, dialing
// again first if the connection is gone.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.live(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the liveness check and now.
		r.drop(conn)
		if conn, err = r.live(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareExchanges(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) live(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn, nil
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

// connect dials until it succeeds or ctx is done. Concurrent callers wait
// for the dial already in progress.
func (r *RabbitMQ) connect(ctx context.Context) error {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if r.IsConnected() {
		return nil
	}

	wait := r.initialBackoff
	for attempt := 1; ; attempt++ {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			}
			return nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connect canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > r.maxBackoff {
			wait = r.maxBackoff
		}
	}
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{name: dlxExchangeName, kind: amqp.ExchangeDirect},
		{name: directExchangeName, kind: amqp.ExchangeDirect},
		{name: broadcastExchangeName, kind: amqp.ExchangeFanout},
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}
	return nil
}

// declareEndpointQueue declares the inbound queue of endpoint with its
// dead-letter queue and binds it to the direct and broadcast exchanges.
func declareEndpointQueue(ch *amqp.Channel, endpoint domain.Endpoint) error {
	dlqName := DLQName(endpoint)
	routingKey := endpoint.String()

	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, routingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	queueName := QueueName(endpoint)
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": routingKey,
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, routingKey, directExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q to direct exchange: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, "", broadcastExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q to broadcast exchange: %w", queueName, err)
	}
	return nil
}
