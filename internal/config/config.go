package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/netevents/internal/domain"
)

const (
	ReliableTransportRabbitMQ = "rabbitmq"
	ReliableTransportWebhook  = "webhook"
)

type Config struct {
	EndpointID         string `env:"ENDPOINT_ID,required=true"`
	Side               string `env:"SIDE,default=server"`
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	WebhookURL         string `env:"WEBHOOK_URL"`
	ReliableTransport  string `env:"RELIABLE_TRANSPORT,default=rabbitmq"`
	RabbitMQPrefetch   int    `env:"RABBITMQ_PREFETCH,default=32"`
	TickIntervalMs     int    `env:"TICK_INTERVAL_MS,default=16"`
	CallTimeoutMs      int    `env:"CALL_TIMEOUT_MS,default=10000"`
	PresenceIntervalMs int    `env:"PRESENCE_INTERVAL_MS,default=5000"`
	AdminPort          int    `env:"ADMIN_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.EndpointID) == "" {
		return fmt.Errorf("%w: ENDPOINT_ID must not be blank", domain.ErrInvalidConfig)
	}
	if _, err := domain.ParseSideFromString(c.Side); err != nil {
		return fmt.Errorf("%w: SIDE must be server or client", domain.ErrInvalidConfig)
	}

	switch strings.ToLower(strings.TrimSpace(c.ReliableTransport)) {
	case ReliableTransportRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("%w: RABBITMQ_URL is required for the rabbitmq transport", domain.ErrInvalidConfig)
		}
		if c.RabbitMQPrefetch < 1 {
			return fmt.Errorf("%w: RABBITMQ_PREFETCH must be positive", domain.ErrInvalidConfig)
		}
	case ReliableTransportWebhook:
		if _, err := url.ParseRequestURI(strings.TrimSpace(c.WebhookURL)); err != nil {
			return fmt.Errorf("%w: WEBHOOK_URL is required for the webhook transport", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown RELIABLE_TRANSPORT %q", domain.ErrInvalidConfig, c.ReliableTransport)
	}

	if c.TickIntervalMs < 1 {
		return fmt.Errorf("%w: TICK_INTERVAL_MS must be positive", domain.ErrInvalidConfig)
	}
	if c.CallTimeoutMs < 0 {
		return fmt.Errorf("%w: CALL_TIMEOUT_MS must not be negative", domain.ErrInvalidConfig)
	}
	if c.PresenceIntervalMs < 1 {
		return fmt.Errorf("%w: PRESENCE_INTERVAL_MS must be positive", domain.ErrInvalidConfig)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		return fmt.Errorf("%w: ADMIN_PORT out of range", domain.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Endpoint() domain.Endpoint {
	return domain.Endpoint(strings.TrimSpace(c.EndpointID))
}

func (c *Config) LocalSide() domain.Side {
	side, _ := domain.ParseSideFromString(c.Side)
	return side
}

func (c *Config) ReliableTransportName() string {
	return strings.ToLower(strings.TrimSpace(c.ReliableTransport))
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// CallTimeout is zero when call expiry is disabled.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

func (c *Config) PresenceInterval() time.Duration {
	return time.Duration(c.PresenceIntervalMs) * time.Millisecond
}
