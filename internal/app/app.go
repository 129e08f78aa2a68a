// Package app assembles the core from configuration: ledger, audit, risk,
// control, portfolio, lifecycle, brokers, inbox, scheduler and the optional
// Kafka, Redis and etcd integrations.
package app

import (
	"context"
	"fmt"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/broker"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/coordination"
	"github.com/Aidin1998/pincex_fno/internal/database"
	"github.com/Aidin1998/pincex_fno/internal/risk"
	"github.com/Aidin1998/pincex_fno/internal/scheduler"
	"github.com/Aidin1998/pincex_fno/internal/trading"
	"github.com/Aidin1998/pincex_fno/internal/trading/control"
	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_fno/internal/trading/messaging"
	"github.com/Aidin1998/pincex_fno/internal/trading/orderqueue"
	"github.com/Aidin1998/pincex_fno/internal/trading/portfolio"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is a fully wired core. Close releases everything Open acquired.
type App struct {
	DB        *gorm.DB
	Store     *repository.Store
	Bus       *events.InMemoryEventBus
	Service   *trading.Service
	Scheduler *scheduler.Scheduler
	Elector   coordination.Elector
	Inbox     orderqueue.Inbox

	logger  *zap.Logger
	closers []func() error
	etcd    *coordination.EtcdElector
}

// Open connects to the database, migrates it and wires every component.
func Open(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &App{DB: db, logger: logger}
	if err := a.wire(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config) error {
	if err := database.Migrate(a.DB); err != nil {
		return err
	}
	logger := a.logger

	a.Store = repository.NewStore(a.DB, logger, dbutil.RetryPolicy{
		MaxAttempts: cfg.Database.RetryAttempts,
		BaseDelay:   cfg.Database.RetryBaseDelay,
	})
	recorder := audit.NewService(logger)
	limits := config.NewTableLimits(a.DB, cfg.Risk, logger)
	policy := cfg.Policy()

	a.Bus = events.NewInMemoryEventBus(logger)
	var bus events.EventBus = a.Bus
	sinks := []control.Sink{{Name: "bus", Signaler: control.NewBusSignaler(a.Bus)}}

	if len(cfg.Kafka.Brokers) > 0 {
		pcfg := messaging.DefaultProducerConfig()
		pcfg.Compression = cfg.Kafka.Compression
		producer := messaging.NewProducer(cfg.Kafka.Brokers, pcfg, logger)
		a.closers = append(a.closers, producer.Close)
		bus = events.NewKafkaEventBus(a.Bus, producer, cfg.Kafka.EventsPrefix, logger)
		sinks = append(sinks, control.Sink{Name: "kafka", Signaler: control.NewKafkaSignaler(producer, cfg.Kafka.HaltTopic)})
		logger.Info("Kafka publishing enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		sinks = append(sinks, control.Sink{
			Name:     "redis",
			Signaler: control.NewRedisSignaler(client, cfg.Redis.HaltChannel, cfg.Redis.KeyPrefix),
		})
		logger.Info("Redis halt flags enabled", zap.String("addr", cfg.Redis.Addr))
	}

	ctrl := control.NewController(a.Store, recorder, control.NewMultiSignaler(logger, sinks...), logger)
	evaluator := risk.NewEvaluator(recorder, ctrl, bus, logger)
	agg := portfolio.NewAggregator(a.Store, recorder, evaluator, nil, policy, bus, logger)
	mgr := lifecycle.NewManager(a.Store, recorder, agg, limits, policy, bus, logger)
	brokers := broker.NewRegistry(broker.NewPaper())

	inboxDir := cfg.Inbox.Dir
	if cfg.Inbox.InMemory {
		inboxDir = ""
	}
	inbox, err := orderqueue.NewBadgerInbox(inboxDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open fill inbox: %w", err)
	}
	a.Inbox = inbox
	a.closers = append(a.closers, inbox.Close)

	a.Service = trading.NewService(trading.Deps{
		Store:     a.Store,
		Recorder:  recorder,
		Lifecycle: mgr,
		Portfolio: agg,
		Risk:      evaluator,
		Control:   ctrl,
		Brokers:   brokers,
		Inbox:     inbox,
		Limits:    limits,
		Logger:    logger,
		FillGrace: cfg.Inbox.FillGrace,
	})

	a.Elector = coordination.AlwaysLeader{}
	if len(cfg.Etcd.Endpoints) > 0 {
		elector, err := coordination.NewEtcdElector(coordination.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Prefix:      cfg.Etcd.ElectionPrefix,
			DialTimeout: cfg.Etcd.DialTimeout,
			SessionTTL:  cfg.Etcd.SessionTTL,
		}, logger)
		if err != nil {
			return err
		}
		a.Elector = elector
		a.etcd = elector
	}

	a.Scheduler = scheduler.New(a.Store, agg, limits, a.Elector, a.Service, cfg.Scheduler.Interval, logger)
	return nil
}

// Start begins leader election and the periodic cycle.
func (a *App) Start(ctx context.Context) {
	if a.etcd != nil {
		a.etcd.Start(ctx)
	}
	a.Scheduler.Start(ctx)
	a.logger.Info("F&O core started")
}

// Close stops background work, waits for in-flight bus handlers and closes
// every connection in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.etcd != nil {
		if err := a.etcd.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Bus != nil {
		a.Bus.Drain()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
