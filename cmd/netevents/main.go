package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/netevents/internal/batch"
	"github.com/kursadbilgin/netevents/internal/config"
	"github.com/kursadbilgin/netevents/internal/correlator"
	"github.com/kursadbilgin/netevents/internal/dispatcher"
	"github.com/kursadbilgin/netevents/internal/handler"
	"github.com/kursadbilgin/netevents/internal/infra/postgresql"
	"github.com/kursadbilgin/netevents/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/netevents/internal/infra/redis"
	"github.com/kursadbilgin/netevents/internal/observability"
	"github.com/kursadbilgin/netevents/internal/repository"
	"github.com/kursadbilgin/netevents/internal/service"
	"github.com/kursadbilgin/netevents/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var errShuttingDown = errors.New("endpoint shutting down")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	baseLogger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer baseLogger.Sync() //nolint:errcheck

	logger := observability.WithEndpoint(baseLogger, cfg.EndpointID, cfg.LocalSide().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("netevents stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("netevents stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	self := cfg.Endpoint()
	metrics := observability.NewMetrics()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	presence, err := infraredis.NewPresence(rdb, self, cfg.PresenceInterval(), logger)
	if err != nil {
		return fmt.Errorf("presence initialization failed: %w", err)
	}

	unreliable, err := transport.NewRedisTransport(rdb, self, logger)
	if err != nil {
		return fmt.Errorf("redis transport initialization failed: %w", err)
	}

	receivers := []service.NamedReceiver{{Name: "redis", Receiver: unreliable}}
	checks := map[string]handler.Check{"redis": handler.RedisCheck(rdb)}

	var reliable transport.Transport
	switch cfg.ReliableTransportName() {
	case config.ReliableTransportWebhook:
		webhook, err := transport.NewWebhookTransport(cfg.WebhookURL, self)
		if err != nil {
			return fmt.Errorf("webhook transport initialization failed: %w", err)
		}
		reliable = webhook
	default:
		mq, err := transport.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()

		reliable = transport.NewRabbitMQPublisher(mq, self)
		receivers = append(receivers, service.NamedReceiver{
			Name:     "rabbitmq",
			Receiver: transport.NewRabbitMQConsumer(mq, self, cfg.RabbitMQPrefetch, logger),
		})
		checks["rabbitmq"] = handler.ConnectedCheck(mq.IsConnected)
	}

	mux, err := transport.NewMux(reliable, unreliable)
	if err != nil {
		return err
	}
	scheduler, err := batch.NewScheduler(mux, metrics, logger)
	if err != nil {
		return err
	}
	calls := correlator.New(cfg.CallTimeout(), metrics, logger)
	registry, err := dispatcher.NewRegistry(cfg.LocalSide(), scheduler, calls, presence, metrics, logger)
	if err != nil {
		return err
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	defer postgresql.Close(db) //nolint:errcheck

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	checks["postgres"] = func(ctx context.Context) error { return postgresql.Ping(ctx, db) }

	policies, err := service.NewPolicyService(registry, repository.NewGormPolicyRepo(db), logger)
	if err != nil {
		return err
	}
	if _, err := policies.Apply(ctx); err != nil {
		return err
	}

	tickLoop := service.NewTickLoop(scheduler, cfg.TickInterval(), logger)
	inbound, err := service.NewInboundWorker(registry, receivers, logger)
	if err != nil {
		return err
	}

	app := handler.NewApp(metrics, logger)
	handler.RegisterHealthRoutes(app, checks)
	if err := handler.RegisterNamespaceRoutes(app, policies); err != nil {
		return err
	}
	if err := handler.RegisterFrameRoutes(app, self, registry); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickLoop.Start(gctx) })
	g.Go(func() error { return inbound.Start(gctx) })
	g.Go(func() error { return presence.Start(gctx) })
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.AdminPort)); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("netevents started",
		zap.String("reliableTransport", cfg.ReliableTransportName()),
		zap.Int("adminPort", cfg.AdminPort),
		zap.Duration("tickInterval", cfg.TickInterval()),
		zap.Strings("namespaces", registry.Names()),
	)

	err = g.Wait()

	if rejected := calls.RejectAll(errShuttingDown); rejected > 0 {
		logger.Info("rejected pending calls on shutdown", zap.Int("count", rejected))
	}
	leaveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if leaveErr := presence.Leave(leaveCtx); leaveErr != nil {
		logger.Warn("failed to leave presence set", zap.Error(leaveErr))
	}

	return err
}
