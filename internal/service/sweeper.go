// sweeper.go — фоновая очистка документов с истёкшим сроком жизни.
//
// На каждом тике:
//  1. Выбирает документы с expires_at <= now
//  2. Пропускает задания, которые сейчас выполняются
//  3. Удаляет файлы (output, text, state, input), затем строку метаданных
//
// Отсутствующий файл не считается ошибкой. Если не удалось удалить файл
// или строку, документ остаётся и будет обработан на следующем тике.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
)

// Prometheus метрики sweeper
var (
	// sweepRunsTotal — количество проходов очистки.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_sweep_runs_total",
		Help: "Общее количество проходов очистки",
	})

	// sweepDeletedTotal — количество удалённых документов.
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_sweep_deleted_total",
		Help: "Общее количество документов, удалённых по истечении срока",
	})

	// sweepErrorsTotal — ошибки удаления.
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_sweep_errors_total",
		Help: "Общее количество ошибок при очистке",
	})

	// sweepDurationSeconds — длительность прохода.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "om_sweep_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ActiveChecker — проверка, выполняется ли задание.
type ActiveChecker interface {
	IsActive(documentID string) bool
}

// SweepResult — результат одного прохода.
type SweepResult struct {
	// Scanned — документов с истёкшим сроком
	Scanned int
	// Deleted — удалено документов
	Deleted int
	// Skipped — пропущено (задание выполняется)
	Skipped int
	// Errors — ошибок при удалении
	Errors int
	// Duration — длительность прохода
	Duration time.Duration
}

// Sweeper — фоновая очистка документов.
type Sweeper struct {
	repo     repository.DocumentRepository
	store    *filestore.FileStore
	active   ActiveChecker
	cache    *CacheService
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт sweeper. cache может быть nil.
func NewSweeper(
	repo repository.DocumentRepository,
	store *filestore.FileStore,
	active ActiveChecker,
	cache *CacheService,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		repo:     repo,
		store:    store,
		active:   active,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *Sweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Sweeper запущен",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый процесс и ждёт завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Sweeper остановлен")
}

// run — основной цикл фоновой горутины.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	// Первый проход — сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки. Идемпотентен: повторный проход
// по уже удалённым документам ничего не делает и не возвращает ошибок.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	docs, err := s.repo.ListExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("Sweep: ошибка выборки документов",
			slog.String("error", err.Error()),
		)
		result.Errors++
		s.observe(result, start)
		return result
	}
	result.Scanned = len(docs)

	for _, doc := range docs {
		if s.active != nil && s.active.IsActive(doc.DocumentID) {
			result.Skipped++
			continue
		}

		if err := s.store.DeleteAll(doc.Files()...); err != nil {
			s.logger.Error("Sweep: ошибка удаления файлов",
				slog.String("document_id", doc.DocumentID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		if err := s.repo.Delete(ctx, doc.DocumentID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.logger.Error("Sweep: ошибка удаления метаданных",
					slog.String("document_id", doc.DocumentID),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
		}

		if s.cache != nil {
			s.cache.Delete(doc.DocumentID)
		}

		s.logger.Debug("Sweep: документ удалён",
			slog.String("document_id", doc.DocumentID),
			slog.String("status", string(doc.Status)),
		)
		result.Deleted++
	}

	s.observe(result, start)
	return result
}

// observe обновляет метрики и пишет итог прохода.
func (s *Sweeper) observe(result *SweepResult, start time.Time) {
	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepDeletedTotal.Add(float64(result.Deleted))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Sweep завершён",
		slog.Int("scanned", result.Scanned),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
}
