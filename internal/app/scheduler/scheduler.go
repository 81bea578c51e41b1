// Package scheduler запускает периодическую чистку истории пользователей.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/cache"
	"github.com/magabrotheeeer/session-gate/internal/config"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/rabbitmq"
	retentionsvc "github.com/magabrotheeeer/session-gate/internal/services/retention"
	"github.com/magabrotheeeer/session-gate/internal/storage/repository"
	"github.com/streadway/amqp"
)

// App представляет приложение планировщика.
type App struct {
	retention *retentionsvc.RetentionService
	interval  time.Duration
	batchSize int
	db        *repository.Storage
	cache     *cache.Cache
	publisher *rabbitmq.Publisher
	conn      *amqp.Connection
	logger    *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика. Брокер необязателен:
// без RABBITMQ_URL события об удалении не публикуются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	app := &App{
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		db:        db,
		cache:     cacheRedis,
		logger:    logger,
	}
	opts := []retentionsvc.Option{retentionsvc.WithLocker(cacheRedis, cfg.LockTTL)}

	if cfg.RabbitMQURL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.HistoryExchange, rabbitmq.GetHistoryQueues())
		if err != nil {
			_ = conn.Close()
			app.close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		app.conn = conn
		app.publisher = rabbitmq.NewPublisher(ch)
		opts = append(opts, retentionsvc.WithPublisher(app.publisher))
	} else {
		logger.Warn("rabbitmq url is not set, purge events are disabled")
	}

	app.retention = retentionsvc.NewRetentionService(db, logger, opts...)
	return app, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("retention scheduler started",
		slog.Duration("interval", a.interval),
		slog.Int("batch_size", a.batchSize),
	)
	a.retention.Start(ctx, a.interval, a.batchSize)

	a.logger.Info("shutting down scheduler service")
	a.close()
	return nil
}

func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
