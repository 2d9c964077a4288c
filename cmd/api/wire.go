package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/adapter/lock"
	"github.com/srgjo27/batch_invite/internal/adapter/notifier"
	"github.com/srgjo27/batch_invite/internal/adapter/payment"
	"github.com/srgjo27/batch_invite/internal/adapter/repository/memory"
	"github.com/srgjo27/batch_invite/internal/adapter/repository/postgres"
	"github.com/srgjo27/batch_invite/internal/core/ports"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/srgjo27/batch_invite/internal/platform/config"
	"github.com/srgjo27/batch_invite/internal/platform/database"
)

type repositories struct {
	events    ports.EventRepository
	waitlist  ports.WaitlistRepository
	attendees ports.AttendeeRepository
	payments  ports.PaymentRepository
	refunds   ports.RefundRepository
}

// app owns every long-lived dependency built from config.
type app struct {
	cfg     config.Config
	clock   clockwork.Clock
	db      *sql.DB
	redis   *redis.Client
	repos   repositories
	closers []func(context.Context) error

	engine *services.Engine
	links  *services.PaymentLinkService
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, clock: clockwork.NewRealClock()}

	if err := a.openStore(); err != nil {
		a.Close(ctx)
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	sink, err := a.newNotifier(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	gateway := payment.NewHTTPGateway(payment.Config{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.Timeout,
	})

	waitlist := services.NewWaitlistService(a.repos.waitlist, a.repos.events, a.clock)
	a.links = services.NewPaymentLinkService(a.repos.payments, gateway, a.clock,
		services.WithGatewayTimeout(cfg.Payment.Timeout),
		services.WithSweepInterval(cfg.Payment.ExpirySweepInterval),
	)
	inviter := services.NewBatchInviter(a.repos.events, a.repos.attendees, waitlist, a.links, sink, locker, a.clock)
	scheduler := services.NewCoolOffScheduler(inviter, a.repos.events, a.clock)
	resolver := services.NewCancellationResolver(a.repos.attendees, a.repos.waitlist, a.repos.events, a.repos.refunds, a.links, gateway, locker, a.clock)
	a.engine = services.NewEngine(a.repos.events, waitlist, a.links, scheduler, resolver, a.clock)

	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("using the in-memory store, state is lost on exit")
		s := memory.NewStore()
		a.repos = repositories{events: s, waitlist: s, attendees: s, payments: s, refunds: s}
		return nil
	case "postgres":
		db, err := openDB(a.cfg)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.repos = repositories{
			events:    postgres.NewEventRepository(db),
			waitlist:  postgres.NewWaitlistRepository(db),
			attendees: postgres.NewAttendeeRepository(db),
			payments:  postgres.NewPaymentRepository(db),
			refunds:   postgres.NewRefundRepository(db),
		}
		return nil
	}
	return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	return database.NewPostgresDB(database.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}

	log.Info().Str("addr", a.cfg.Redis.Addr).Msg("connecting to redis")
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a.redis = client
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *app) newLocker(ctx context.Context) (ports.Locker, error) {
	if a.cfg.Lock.Driver == "local" {
		return lock.NewLocalLocker(), nil
	}

	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client, a.cfg.Lock.TTL), nil
}

func (a *app) newNotifier(ctx context.Context) (ports.Notifier, error) {
	switch a.cfg.Notifier.Driver {
	case "log":
		return notifier.LogNotifier{}, nil
	case "servicebus":
		n, err := notifier.NewServiceBusNotifier(a.cfg.Notifier.ServiceBusConnStr, a.cfg.Notifier.ServiceBusQueue, a.clock)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		return n, nil
	default:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return notifier.NewRedisNotifier(client, a.cfg.Redis.NotifyQueue, a.clock), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	if a.engine != nil {
		a.engine.Shutdown()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
