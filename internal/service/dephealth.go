// dephealth.go — граф зависимостей OCR Module для topologymetrics.
//
// Единственная сетевая зависимость — PostgreSQL: без неё задания не могут
// сохранить переходы статуса, поэтому зависимость помечена critical.
// Проверка идёт через тот же пул, что и репозиторий (*sql.DB поверх
// pgxpool), и видит его исчерпание при всех занятых слотах OCR.
//
// Инструмент OCR запускается локально и в граф не входит,
// его версия отдаётся в /api/v1/status.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// postgresDependency — имя зависимости в метриках app_dependency_*.
const postgresDependency = "postgresql"

// DephealthOptions — параметры мониторинга зависимостей.
type DephealthOptions struct {
	// ServiceID — вершина графа текущего приложения
	ServiceID string
	// Group — группа в метриках (OM_DEPHEALTH_GROUP)
	Group string
	// PostgresURL — адрес БД для лейблов host/port, подключение не открывает
	PostgresURL string
	// CheckInterval — период проверки (OM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — лейбл isentry=yes для входной точки графа
	IsEntry bool
	// Registerer — registry метрик (nil — глобальный)
	Registerer prometheus.Registerer
}

// DephealthService — периодическая проверка PostgreSQL через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService регистрирует зависимость postgresql.
// db — *sql.DB из stdlib.OpenDBFromPool().
func NewDephealthService(opts DephealthOptions, db *sql.DB, logger *slog.Logger) (*DephealthService, error) {
	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(opts.PostgresURL),
		dephealth.CheckInterval(opts.CheckInterval),
		dephealth.Critical(true),
	}
	if opts.IsEntry {
		depOpts = append(depOpts, dephealth.WithLabel("isentry", "yes"))
	}

	dhOpts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(postgresDependency, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)), depOpts...),
	}
	if opts.Registerer != nil {
		dhOpts = append(dhOpts, dephealth.WithRegisterer(opts.Registerer))
	}

	dh, err := dephealth.New(opts.ServiceID, opts.Group, dhOpts...)
	if err != nil {
		return nil, fmt.Errorf("topologymetrics: %w", err)
	}

	return &DephealthService{
		dh: dh,
		logger: logger.With(
			slog.String("component", "dephealth"),
			slog.Duration("check_interval", opts.CheckInterval),
		),
	}, nil
}

// Start запускает проверки в фоне.
func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг PostgreSQL запущен")
	return nil
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг PostgreSQL остановлен")
}
