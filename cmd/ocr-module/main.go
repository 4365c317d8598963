// Точка входа OCR Module — сервис распознавания документов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// восстанавливает состояние после рестарта, запускает sweeper,
// topologymetrics и HTTP-сервер с аутентификацией и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/ocr-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ocr-module/internal/config"
	"github.com/bigkaa/goartstore/ocr-module/internal/database"
	"github.com/bigkaa/goartstore/ocr-module/internal/ocr"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/server"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("OCR Module завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return err
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("OCR Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		return err
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		return err
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Рабочая директория и хранилище метаданных
	store, err := filestore.New(cfg.WorkDir)
	if err != nil {
		logger.Error("Ошибка инициализации рабочей директории",
			slog.String("work_dir", cfg.WorkDir),
			slog.String("error", err.Error()),
		)
		return err
	}
	docRepo := repository.NewDocumentRepository(pool)

	// 6. Восстановление после рестарта: импорт снимков, прерванные задания
	recoveryResult, err := service.NewRecovery(docRepo, store, logger).Run(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления состояния", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Состояние восстановлено",
		slog.Int("imported", recoveryResult.Imported),
		slog.Int("interrupted", recoveryResult.Interrupted),
		slog.Int("removed", recoveryResult.Removed),
	)

	// 7. Сервисный слой
	invoker := ocr.NewCommandInvoker(cfg.OCRToolPath, cfg.OCRToolOptions, logger)
	gate := service.NewGate(cfg.MaxConcurrentJobs)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	orchestrator := service.NewOrchestrator(
		docRepo, store, invoker, gate, cache, service.NewPDFValidator(logger),
		service.OrchestratorConfig{
			SupportedLanguages: cfg.SupportedLanguages,
			DefaultLanguages:   cfg.DefaultLanguages,
			MaxUploadSize:      cfg.MaxUploadSize,
			AdmissionTimeout:   cfg.AdmissionTimeout,
			JobTimeout:         cfg.JobTimeout,
			DocumentTTL:        cfg.DocumentTTL,
			PersistRetries:     cfg.PersistRetries,
			PersistRetryDelay:  cfg.PersistRetryDelay,
		},
		logger,
	)
	documentSvc := service.NewDocumentService(docRepo, store, orchestrator, cache, logger)
	searchSvc := service.NewSearchService(docRepo, logger)
	sweeper := service.NewSweeper(docRepo, store, orchestrator, cache, cfg.SweepInterval, logger)

	// 8. Аутентификация
	auth, err := middleware.NewAuth(cfg.APIKey, middleware.JWTOptions{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.JWTIssuer,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания auth middleware", slog.String("error", err.Error()))
		return err
	}

	// 9. API handler и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), store)
	apiHandler := handlers.NewAPIHandler(
		healthHandler, orchestrator, documentSvc, searchSvc, invoker,
		cfg.MaxUploadSize, logger,
	)
	srv := server.New(cfg, logger, apiHandler,
		chimw.RequestID,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		server.AuthWithExclusions(auth.Middleware(), "/health/", "/metrics"),
	)

	// 10. topologymetrics — мониторинг PostgreSQL
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthOptions{
		ServiceID:     "ocr-module",
		Group:         cfg.DephealthGroup,
		PostgresURL:   cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 11. Фоновые задачи
	sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Параллельно с остановкой HTTP: синхронные запросы ждут свои задания
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return orchestrator.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	sweeper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка остановки", slog.String("error", runErr.Error()))
		return runErr
	}
	logger.Info("OCR Module остановлен")
	return nil
}
