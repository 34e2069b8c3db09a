package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/booking"
	"github.com/yourorg/travelcore/internal/config"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/eventbus"
	"github.com/yourorg/travelcore/internal/httpapi"
	"github.com/yourorg/travelcore/internal/inventory"
	"github.com/yourorg/travelcore/internal/notification"
	eventkafka "github.com/yourorg/travelcore/internal/platform/kafka"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/users"
	"github.com/yourorg/travelcore/internal/workflow"
)

// app owns every long-lived component and the order they close in.
type app struct {
	handler http.Handler
	bus     *eventbus.Bus
	queue   *notification.Queue
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	mem := store.NewMemory()

	var bookings store.BookingStore = mem
	if cfg.SQLitePath != "" {
		sq, err := store.OpenSQLiteBookings(store.SQLiteConfig{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sq.Close)
		bookings = sq
		logger.Info("bookings persisted to sqlite", zap.String("path", cfg.SQLitePath))
	}

	catalog := inventory.DefaultCatalog()
	var ledger inventory.Ledger
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		rl, err := inventory.NewRedisLedger(ctx, client, catalog, inventory.RedisConfig{KeyPrefix: cfg.RedisKeyPrefix, Logger: logger})
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("redis ledger: %w", err)
		}
		ledger = rl
		logger.Info("inventory stock shared through redis", zap.String("addr", cfg.RedisAddr))
	} else {
		ledger = inventory.NewMemoryLedger(catalog, logger)
	}

	busOpts := []eventbus.Option{eventbus.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kcfg := eventkafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}
		sink := eventkafka.NewSink(eventkafka.NewWriter(kcfg, logger), kcfg, logger)
		a.closers = append(a.closers, sink.Close)
		busOpts = append(busOpts, eventbus.WithSink(sink))
		logger.Info("domain events relayed to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	a.bus = eventbus.New(busOpts...)

	worker := notification.NewWorker(mem, mem, map[domain.Channel]notification.Sender{
		domain.ChannelEmail: notification.NewLogEmailSender(cfg.EmailFailureRate, logger),
		domain.ChannelInApp: notification.InAppSender{},
	}, logger)
	a.queue = notification.NewQueue(notification.QueueConfig{
		MaxRetries:  cfg.NotificationMaxRetries,
		BaseBackoff: cfg.NotificationBaseBackoff,
	}, worker.Deliver, logger)
	dispatcher := notification.NewDispatcher(mem, a.queue, logger)
	if err := notification.RegisterHandlers(a.bus, dispatcher, mem); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("register notification handlers: %w", err)
	}

	policies := policy.NewService(mem, logger)
	deps := workflow.Deps{
		Travel:   mem,
		Expenses: mem,
		Users:    mem,
		Policies: policies,
		Events:   a.bus,
		Logger:   logger,
	}
	travel := workflow.NewTravelService(deps)
	expenses := workflow.NewExpenseService(deps)

	provider := booking.NewBreakerProvider(
		booking.NewSimulatedProvider(cfg.ProviderFailureRate, cfg.ProviderMinDelay, cfg.ProviderMaxDelay),
		booking.BreakerConfig{
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
			OpenTimeout:         cfg.BreakerOpenTimeout,
			HalfOpenRequests:    1,
		}, logger)
	bookingSvc := booking.NewService(booking.Deps{
		Bookings: bookings,
		Travel:   mem,
		Ledger:   ledger,
		Provider: provider,
		Workflow: travel,
		Events:   a.bus,
		Logger:   logger,
	}, booking.Config{ProviderTimeout: cfg.BookingProviderTimeout, RetryFailed: cfg.BookingRetryFailed})

	authCfg, err := auth.LoadConfig()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("auth config: %w", err)
	}
	keys := auth.NewMemoryKeyStore(authCfg)
	var (
		audit      auth.AuditRecorder
		auditChain *auth.MemoryAuditRecorder
	)
	if authCfg.EnableAuditLog {
		auditChain = auth.NewMemoryAuditRecorder(authCfg.AuditLogLimit)
		audit = auditChain
	}
	authn := auth.NewAuthenticator(keys, mem, audit, authCfg, logger)

	if cfg.SeedDemoData {
		if err := seed(ctx, mem, policies, keys, logger); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	if err := keys.Seed(ctx, authCfg.SeedKeys); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("seed api keys: %w", err)
	}

	srv := httpapi.NewServer(httpapi.Services{
		Travel:        travel,
		Expenses:      expenses,
		Bookings:      bookingSvc,
		Policies:      policies,
		Notifications: dispatcher,
		Users:         mem,
		Accounts:      users.NewService(mem, keys, logger),
		Auth:          authn,
		Keys:          auth.NewHandler(keys, mem, authn, logger),
		Health: httpapi.HealthFunc(func(context.Context) map[string]any {
			status := map[string]any{
				"providerCircuit":      provider.State(),
				"eventsPending":        a.bus.Pending(),
				"notificationsPending": a.queue.Pending(),
			}
			if auditChain != nil {
				status["authAuditChain"] = "intact"
				if err := auditChain.Verify(); err != nil {
					logger.Error("auth audit chain", zap.Error(err))
					status["authAuditChain"] = "broken"
				}
			}
			return status
		}),
	}, logger)
	a.handler = srv.Router()
	return a, nil
}

// Close flushes events published after the bus loop stopped, drains the
// notification queue, then releases stores and clients.
func (a *app) Close(ctx context.Context) error {
	a.bus.Drain()
	return multierr.Append(a.queue.Close(ctx), a.closeAll())
}

func (a *app) closeAll() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
