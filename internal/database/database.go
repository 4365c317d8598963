// Пакет database — пул PostgreSQL (pgxpool), схема documents через
// golang-migrate и readiness-проверка для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/ocr-module/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// httpHeadroom — соединения сверх числа слотов OCR под запросы чтения
// (список, поиск, скачивание) и sweeper.
const httpHeadroom = 4

// readinessTimeout — предел ожидания ping в readiness-пробе.
const readinessTimeout = 3 * time.Second

// poolSize возвращает MaxConns пула: не меньше, чем слотов OCR плюс запас.
// Значение из DSN (pool_max_conns) сохраняется, если оно больше.
func poolSize(maxJobs int, configured int32) int32 {
	need := int32(maxJobs + httpHeadroom)
	if configured > need {
		return configured
	}
	return need
}

// Connect открывает пул и проверяет доступность PostgreSQL.
// Задание держит соединение только на время сохранения перехода статуса,
// поэтому размер пула привязан к OM_MAX_CONCURRENT_JOBS.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = poolSize(cfg.MaxConcurrentJobs, poolCfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Пул PostgreSQL готов",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("ocr_slots", cfg.MaxConcurrentJobs),
	)
	return pool, nil
}

// Migrate доводит схему documents до последней версии из embedded FS.
// Схема в состоянии dirty (прерванная миграция) считается ошибкой:
// сервис не стартует, пока её не исправят вручную.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if dirty {
		return fmt.Errorf("схема БД в состоянии dirty (версия %d)", version)
	}

	if errors.Is(upErr, migrate.ErrNoChange) {
		logger.Info("Схема БД актуальна", slog.Uint64("version", uint64(version)))
	} else {
		logger.Info("Миграции применены", slog.Uint64("version", uint64(version)))
	}
	return nil
}

// pinger — часть pgxpool.Pool, нужная readiness-проверке.
type pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker — проверка PostgreSQL для /health/ready.
// Без БД задания не могут сохранить переходы статуса, поэтому отказ
// ping переводит сервис в fail.
type ReadinessChecker struct {
	db      pinger
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return newReadinessChecker(pool)
}

func newReadinessChecker(db pinger) *ReadinessChecker {
	return &ReadinessChecker{db: db, timeout: readinessTimeout}
}

// CheckReady выполняет ping в пределах readinessTimeout.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
