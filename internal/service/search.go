// search.go — полнотекстовый поиск по извлечённому тексту документов.
// Запрос — дизъюнкция (||) конъюнкций (&&) подстрок без учёта регистра.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/query"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
)

// Prometheus-метрики поиска.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_search_total",
		Help: "Общее количество поисковых запросов.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "om_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// SearchHit — найденный документ.
type SearchHit struct {
	// DocumentID — идентификатор документа
	DocumentID string `json:"document_id"`
	// FileName — отображаемое имя (nil, если не задано)
	FileName *string `json:"file_name"`
}

// SearchService — сервис поиска по тексту.
type SearchService struct {
	repo   repository.DocumentRepository
	logger *slog.Logger
}

// NewSearchService создаёт сервис поиска.
func NewSearchService(repo repository.DocumentRepository, logger *slog.Logger) *SearchService {
	return &SearchService{
		repo:   repo,
		logger: logger.With(slog.String("component", "search_service")),
	}
}

// Search разбирает запрос и проверяет его на тексте всех обработанных
// документов. Порядок результатов не определён.
// Пустой запрос — ErrValidation.
func (s *SearchService) Search(ctx context.Context, raw string) ([]SearchHit, error) {
	q, err := query.Parse(raw)
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuery) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}

	start := time.Now()
	searchTotal.Inc()

	docs, err := s.repo.ListWithText(ctx)
	if err != nil {
		return nil, fmt.Errorf("поиск документов: %w", err)
	}

	hits := make([]SearchHit, 0)
	for _, doc := range docs {
		if doc.TextContent == nil || !q.Match(*doc.TextContent) {
			continue
		}
		hits = append(hits, SearchHit{DocumentID: doc.DocumentID, FileName: doc.FileName})
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.String("query", q.String()),
		slog.Int("scanned", len(docs)),
		slog.Int("matched", len(hits)),
		slog.Duration("duration", duration),
	)

	return hits, nil
}
