package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"firisync/internal/api"
	"firisync/internal/config"
	"firisync/internal/exchange"
	"firisync/internal/ingest"
	"firisync/internal/migrate"
	"firisync/internal/repository"
	"firisync/internal/service"
	"firisync/internal/websocket"
	"firisync/pkg/crypto"
	"firisync/pkg/ratelimit"
	"firisync/pkg/retry"
	"firisync/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).Zap()
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Ключ проверяется до открытия БД: без него сервис бесполезен
	cipher, err := crypto.NewCipherFromHex(cfg.Security.EncryptionKey, logger)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	if err := cipher.HealthCheck(); err != nil {
		return fmt.Errorf("cipher self-check: %w", err)
	}

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := migrate.Up(ctx, db, logger)
		cancel()
		if err != nil {
			return err
		}
	}

	// Клиент биржи
	httpCfg := exchange.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Firi.HTTPTimeout
	httpClient := exchange.NewHTTPClient(httpCfg)
	defer exchange.CloseIdle(httpClient)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Firi.MaxRetries
	retryCfg.InitialDelay = cfg.Firi.RetryBase
	retryCfg.MaxDelay = cfg.Firi.RetryMaxDelay

	limiters := ratelimit.NewRegistry(cfg.Firi.RateLimit, cfg.Firi.RateWindow, cfg.Firi.MinInterval)
	client := exchange.NewClient(exchange.ClientConfig{
		BaseURL:           cfg.Firi.BaseURL,
		Validity:          cfg.Firi.SignatureValidity,
		RequestTimeout:    cfg.Firi.HTTPTimeout,
		Retry:             retryCfg,
		RateLimitCooldown: cfg.Firi.RateLimitCooldown,
		RateScope:         cfg.Firi.RateScope,
	}, httpClient, limiters, logger)

	directory := exchange.NewDirectory(client, cfg.Sync.MarketCacheTTL, logger)
	manager := ingest.NewManager(client, directory, ingest.Config{
		BatchSize:  cfg.Sync.BatchSize,
		MaxPages:   cfg.Sync.MaxPages,
		Concurrent: cfg.Sync.ConcurrentStreams,
	}, logger)

	// Инициализация репозиториев
	connectionRepo := repository.NewConnectionRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	rawRepo := repository.NewRawRepository(db)
	normalizedRepo := repository.NewNormalizedRepository(db)

	// Инициализация сервисов
	processor := service.NewDataProcessor(rawRepo, normalizedRepo, cursorRepo, logger)
	syncService := service.NewSyncService(connectionRepo, cursorRepo, processor, manager, cipher, logger)

	// WebSocket hub
	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()
	syncService.SetWebSocketHub(hub)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		SyncService:  syncService,
		Hub:          hub,
		APITokenHash: cfg.Security.APITokenHash,
		Logger:       logger,
	})
	if cfg.Security.APITokenHash == "" {
		logger.Warn("API_TOKEN_HASH is empty, /api/v1 is not protected")
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
