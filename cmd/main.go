package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/club-engine/cache"
	"github.com/Dosada05/club-engine/config"
	"github.com/Dosada05/club-engine/db"
	"github.com/Dosada05/club-engine/handlers"
	"github.com/Dosada05/club-engine/live"
	"github.com/Dosada05/club-engine/repositories"
	api "github.com/Dosada05/club-engine/routes"
	"github.com/Dosada05/club-engine/services"
	"github.com/Dosada05/club-engine/sheets"
	"github.com/Dosada05/club-engine/storage"
	"github.com/go-chi/chi/v5"
)

// @title Club Engine API
// @version 1.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("storage_driver", cfg.StorageDriver))

	ctx := context.Background()

	// Хранилище: Postgres или память
	var store repositories.Store
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("failed to close database connection", slog.Any("error", err))
			} else {
				logger.Info("database connection closed")
			}
		}()
		logger.Info("database connection established")

		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, dbConn); err != nil {
				logger.Error("failed to apply schema", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("database schema applied")
		}
		store = repositories.NewPostgresStore(dbConn)
	default:
		logger.Warn("using in-memory storage, data will not survive a restart")
		store = repositories.NewMemoryStore()
	}

	// Артефакты результатов: Cloudflare R2 или локальный каталог
	var blobs storage.BlobStore
	if cfg.R2Enabled() {
		blobs, err = storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 artifact store initialized", slog.String("bucket", cfg.R2BucketName))
	} else {
		blobs, err = storage.NewLocalStore(cfg.ArtifactDir)
		if err != nil {
			logger.Error("failed to initialize local artifact store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("local artifact store initialized", slog.String("dir", cfg.ArtifactDir))
	}

	// Кэш зачёта
	var standingsCache services.StandingsCache
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer rdb.Close()
		standingsCache = cache.NewRedisStandingsCache(rdb, cfg.StandingsCacheTTL)
		logger.Info("redis standings cache enabled", slog.Duration("ttl", cfg.StandingsCacheTTL))
	} else {
		standingsCache = cache.NewMemoryStandingsCache(cfg.StandingsCacheTTL)
	}

	var sheetReader services.SheetReader
	if cfg.GoogleServiceAccountJSON != "" {
		client, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON)
		if err != nil {
			logger.Error("failed to initialize Google Sheets client", slog.Any("error", err))
			os.Exit(1)
		}
		sheetReader = client
		logger.Info("Google Sheets import enabled")
	}

	// Инициализация WebSocket Hub
	wsHub := live.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()
	logger.Info("WebSocket Hub started")

	// Инициализация сервисов
	audit := services.NewSafeAuditor(services.NewStoreAuditRecorder(store.Audit()), logger)
	registrationService := services.NewRegistrationService(store, audit, wsHub, logger, cfg.RSVPMaxRetries)
	attendanceService := services.NewAttendanceService(store, audit, wsHub, logger, cfg.CheckInQRSecret, cfg.RSVPMaxRetries)
	standingsService := services.NewStandingsService(store, standingsCache, wsHub, cfg.PointsTable, logger)
	ingestionService := services.NewIngestionService(store, audit, blobs, sheetReader, standingsService, wsHub, logger).
		WithMaxRetries(cfg.RSVPMaxRetries)
	catalogService := services.NewCatalogService(store, audit, logger)
	logger.Info("Services initialized")

	// Инициализация обработчиков HTTP
	h := api.Handlers{
		Events:     handlers.NewEventHandler(registrationService, catalogService),
		Attendance: handlers.NewAttendanceHandler(attendanceService),
		Results:    handlers.NewResultHandler(ingestionService, catalogService),
		Seasons:    handlers.NewSeasonHandler(catalogService, standingsService),
		Audit:      handlers.NewAuditHandler(catalogService),
		WebSocket:  handlers.NewWebSocketHandler(wsHub, registrationService, catalogService, cfg.CORSAllowedOrigins, logger),
		Health:     handlers.NewHealthHandler(store),
	}

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, h, cfg.JWTSecretKey, cfg.CORSAllowedOrigins)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
