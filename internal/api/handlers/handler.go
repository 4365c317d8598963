// handler.go — основной обработчик API, реализующий routes.ServerInterface.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
)

// JobSubmitter — приём заданий OCR.
type JobSubmitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*model.Document, error)
	SubmitAsync(ctx context.Context, req service.SubmitRequest) (*model.Document, error)
	Cancel(documentID string) error
}

// DocumentReader — чтение и удаление документов.
type DocumentReader interface {
	Get(ctx context.Context, documentID string) (*model.Document, error)
	List(ctx context.Context, status *model.DocumentStatus, limit, offset int) (*service.ListResult, error)
	Delete(ctx context.Context, documentID string) error
	OutputPath(ctx context.Context, documentID string) (*model.Document, string, error)
	TextPath(ctx context.Context, documentID string) (*model.Document, string, error)
	Open(path string) (*os.File, error)
}

// Searcher — полнотекстовый поиск.
type Searcher interface {
	Search(ctx context.Context, query string) ([]service.SearchHit, error)
}

// ToolVersioner — версия внешнего инструмента OCR.
type ToolVersioner interface {
	Version(ctx context.Context) (string, error)
}

// APIHandler — основной обработчик API OCR Module.
type APIHandler struct {
	health        *HealthHandler
	jobs          JobSubmitter
	documents     DocumentReader
	search        Searcher
	tool          ToolVersioner
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — ограничение тела multipart-запроса (0 — без ограничения).
func NewAPIHandler(
	health *HealthHandler,
	jobs JobSubmitter,
	documents DocumentReader,
	search Searcher,
	tool ToolVersioner,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		jobs:          jobs,
		documents:     documents,
		search:        search,
		tool:          tool,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Модель ответа ---

// documentResponse — представление документа в API.
// Пути к файлам и извлечённый текст наружу не отдаются.
type documentResponse struct {
	DocumentID   string     `json:"document_id"`
	Status       string     `json:"status"`
	Languages    []string   `json:"languages"`
	FileName     *string    `json:"file_name,omitempty"`
	Result       *string    `json:"result,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	PageCount    *int       `json:"page_count,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// toDocumentResponse конвертирует доменную модель в ответ API.
func toDocumentResponse(doc *model.Document) documentResponse {
	return documentResponse{
		DocumentID:   doc.DocumentID,
		Status:       string(doc.Status),
		Languages:    doc.Languages,
		FileName:     doc.FileName,
		Result:       doc.Result,
		ExitCode:     doc.ExitCode,
		PageCount:    doc.PageCount,
		CreatedAt:    doc.CreatedAt,
		ProcessingAt: doc.ProcessingAt,
		FinishedAt:   doc.FinishedAt,
		ExpiresAt:    doc.ExpiresAt,
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
