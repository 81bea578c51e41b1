package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"google.golang.org/grpc"

	"github.com/magabrotheeeer/session-gate/internal/cache"
	"github.com/magabrotheeeer/session-gate/internal/config"
	accesspb "github.com/magabrotheeeer/session-gate/internal/grpc/gen"
	"github.com/magabrotheeeer/session-gate/internal/grpc/server"
	"github.com/magabrotheeeer/session-gate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/session-gate/internal/lib/jwt"
	"github.com/magabrotheeeer/session-gate/internal/lib/sl"
	"github.com/magabrotheeeer/session-gate/internal/migrations"
	"github.com/magabrotheeeer/session-gate/internal/rabbitmq"
	creditsvc "github.com/magabrotheeeer/session-gate/internal/services/credits"
	retentionsvc "github.com/magabrotheeeer/session-gate/internal/services/retention"
	sessionsvc "github.com/magabrotheeeer/session-gate/internal/services/session"
	tokensvc "github.com/magabrotheeeer/session-gate/internal/services/token"
	usersvc "github.com/magabrotheeeer/session-gate/internal/services/user"
	"github.com/magabrotheeeer/session-gate/internal/storage/repository"
)

// App публичный HTTP API и внутренний gRPC API.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	limiter    *middlewarectx.UserLimiter
	logger     *slog.Logger
	db         *repository.Storage
	cache      *cache.Cache
	publisher  *rabbitmq.Publisher
	conn       *amqp.Connection
}

// New подключается к базе и Redis, применяет миграции и собирает сервисы.
// Брокер необязателен: без RABBITMQ_URL ручная чистка не публикует события.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	app := &App{
		grpcAddr: cfg.AddressGRPC,
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
	}
	retentionOpts := []retentionsvc.Option{retentionsvc.WithLocker(cacheRedis, cfg.LockTTL)}

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
		retentionOpts = append(retentionOpts, retentionsvc.WithPublisher(app.publisher))
	} else {
		logger.Warn("rabbitmq url is not set, purge events are disabled")
	}

	maker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	tokenService := tokensvc.NewTokenService(maker, cfg.RefreshThreshold)
	userService := usersvc.NewUserService(db, tokenService, cfg.FreeLimit, cfg.GracePeriod, logger)
	creditService := creditsvc.NewCreditService(db, creditsvc.Config{
		FreeDuration: cfg.FreeDuration,
		PaidDuration: cfg.PaidDuration,
		Retries:      cfg.ConsumeRetries,
		RetryDelay:   cfg.ConsumeRetryDelay,
	}, logger)
	sessionService := sessionsvc.NewSessionService(db, cfg.PersistExpired, logger)
	retentionService := retentionsvc.NewRetentionService(db, logger, retentionOpts...)

	app.limiter = middlewarectx.NewUserLimiter(cfg.CreateRatePerMinute)
	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Tokens:        tokenService,
		Users:         userService,
		Credits:       creditService,
		Sessions:      sessionService,
		DB:            db,
		CreateLimiter: app.limiter,
	})

	app.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.APIKeyInterceptor(cfg.APIKey, logger)))
	accesspb.RegisterAccessServiceServer(app.grpcServer,
		server.NewAccessServer(tokenService, creditService, retentionService, cfg.BatchSize, logger))

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Run запускает оба сервера и останавливает их при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		a.close()
		return fmt.Errorf("failed to listen grpc: %w", err)
	}

	go a.limiter.StartCleanup(ctx, middlewarectx.LimiterCleanupEvery)

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()
	go func() {
		a.logger.Info("gRPC server starting on", slog.String("address", a.grpcAddr))
		errCh <- a.grpcServer.Serve(lis)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.logger.Info("shutting down servers gracefully")
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}
	a.grpcServer.GracefulStop()
	a.close()
	return runErr
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
