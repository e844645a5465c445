package main

import (
	"context"
	"fmt"

	"qbanksync/config"
	"qbanksync/logger"
	"qbanksync/models"
	"qbanksync/services"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app holds every long-lived component, wired the same way for the server,
// the worker and the one-shot commands.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *gorm.DB
	redis *redis.Client

	events    *services.EventDispatcher
	tags      *services.TagService
	bank      *services.QuestionBankService
	exchange  *services.ExchangeService
	ledger    *services.LedgerService
	linker    *services.VersionLinker
	queue     services.TaskQueue
	corrector *services.TagCorrector
	settings  *services.SettingsService
	sync      *services.SyncService
	auth      *services.AuthService
	hub       *services.Hub
	worker    *services.TaskWorker
}

type appOptions struct {
	// withHub publishes sync events to websocket clients.
	withHub bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}

	switch cfg.TaskBackend {
	case "redis":
		a.redis = config.InitRedis(cfg)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.queue = services.NewRedisTaskQueue(a.redis, cfg.RedisQueueKey)
	default:
		a.queue = services.NewDBTaskQueue(db)
	}

	a.events = services.NewEventDispatcher(log)
	a.tags = services.NewTagService(db)
	a.bank = services.NewQuestionBankService(db, a.tags, a.events, log)
	a.exchange = services.NewExchangeService(db, a.bank, a.tags, log)
	a.ledger = services.NewLedgerService(db)
	a.linker = services.NewVersionLinker(db, log)
	a.corrector = services.NewTagCorrector(db, a.tags, a.queue, cfg.TagCorrectionDelay, log)
	a.settings = services.NewSettingsService(db, cfg.ListenEvents)
	a.auth = services.NewAuthService(cfg.JWTSecret, cfg.JWTTTL, cfg.AdminUser, cfg.AdminPasswordHash, cfg.SystemActor)

	deps := services.SyncServiceDeps{
		Bank:        a.bank,
		Exchange:    a.exchange,
		Tags:        a.tags,
		Ledger:      a.ledger,
		Linker:      a.linker,
		Corrector:   a.corrector,
		SystemActor: cfg.SystemActor,
	}
	if opts.withHub {
		a.hub = services.NewHub(log)
		deps.Publisher = a.hub
	}
	a.sync = services.NewSyncService(deps, log)
	services.RegisterSyncObservers(a.events, a.sync, a.settings, log)

	a.worker = services.NewTaskWorker(a.queue, cfg.WorkerPollInterval, log)
	a.worker.Register(services.TaskTypeAddQuestionTag, a.corrector)

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.log.Sync()
}
