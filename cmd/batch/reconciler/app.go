package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/uma-arai/sbcntr-memorial/internal/common/clock"
	"github.com/uma-arai/sbcntr-memorial/internal/common/config"
	"github.com/uma-arai/sbcntr-memorial/internal/common/database"
	"github.com/uma-arai/sbcntr-memorial/internal/notifier"
	"github.com/uma-arai/sbcntr-memorial/internal/repository"
	"github.com/uma-arai/sbcntr-memorial/internal/service/batch"
	"github.com/uma-arai/sbcntr-memorial/internal/service/inventory"
	"github.com/uma-arai/sbcntr-memorial/internal/service/reservation"
	"github.com/uma-arai/sbcntr-memorial/internal/service/room"
	"go.uber.org/zap"
)

// 通知先の種類です
const (
	notifierLog      = "log"
	notifierRabbitMQ = "rabbitmq"
	notifierKafka    = "kafka"
	notifierRecord   = "record"
)

// app はリコンサイラの実行に必要な依存関係をまとめたものです
type app struct {
	reconciler *batch.Reconciler
	dispatcher *notifier.Dispatcher
	closers    []io.Closer
	logger     *zap.Logger
}

// newApp は設定に従ってストア・通知先・サービスを組み立てます
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	loc, err := clock.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	clk := clock.NewReal(loc)

	var (
		store         repository.Store
		petRepo       repository.PetRepository
		notifications repository.NotificationRepository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store. Data is lost on exit")
		mem := repository.NewMemoryStore()
		store, petRepo, notifications = mem, mem, mem
	default:
		db, err := database.NewDB(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		a.closers = append(a.closers, db)

		if cfg.DB.AutoMigrate {
			if err := db.Migrate(); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		store = repository.NewPostgresStore(db.DB, logger)
		petRepo = repository.NewPetRepository(db.DB)
		notifications = repository.NewNotificationRepository(db.DB, logger)
	}

	targets, err := a.buildNotifiers(cfg, notifications, petRepo, loc)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = notifier.NewDispatcher(targets, notifier.DispatcherConfig{
		QueueSize: cfg.Notifier.QueueSize,
		Timeout:   cfg.Notifier.Timeout,
	}, logger)

	rooms := room.NewRegistry(store, clk, logger)
	svc := reservation.NewService(store, rooms, inventory.NewLinkage(store, logger), a.dispatcher, clk, logger)
	a.reconciler = batch.NewReconciler(store, svc, rooms, clk, logger, cfg.Reconciler.Interval)
	return a, nil
}

// buildNotifiers はNOTIFIER_DRIVERSに列挙された通知先を作成します
func (a *app) buildNotifiers(
	cfg *config.Config,
	notifications repository.NotificationRepository,
	petRepo repository.PetRepository,
	loc *time.Location,
) (notifier.Multi, error) {
	var targets notifier.Multi
	for _, driver := range cfg.Notifier.Drivers {
		switch strings.ToLower(strings.TrimSpace(driver)) {
		case "":
			continue
		case notifierLog:
			targets = append(targets, notifier.NewLog(a.logger))
		case notifierRabbitMQ:
			p, err := notifier.NewRabbitMQ(cfg.Notifier.RabbitURL, cfg.Notifier.RabbitExchange)
			if err != nil {
				return nil, fmt.Errorf("failed to create rabbitmq notifier: %w", err)
			}
			a.closers = append(a.closers, p)
			targets = append(targets, p)
		case notifierKafka:
			k := notifier.NewKafka(cfg.Notifier.KafkaTopic, cfg.Notifier.KafkaBrokers...)
			a.closers = append(a.closers, k)
			targets = append(targets, k)
		case notifierRecord:
			targets = append(targets, notifier.NewRecorder(notifications, petRepo, loc, a.logger))
		default:
			return nil, fmt.Errorf("unsupported notifier driver %q", driver)
		}
		a.logger.Info("Notifier enabled", zap.String("driver", driver))
	}
	return targets, nil
}

// Close は作成した接続を逆順に閉じます
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
