// documents.go — обработчики /api/v1/documents.
// Список, метаданные, удаление, отмена и скачивание результатов.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	apierrors "github.com/bigkaa/goartstore/ocr-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/routes"
	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
)

// documentListResponse — ответ GET /api/v1/documents.
type documentListResponse struct {
	Items  []documentResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListDocuments — список документов с фильтром по статусу.
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request, params routes.ListDocumentsParams) {
	var status *model.DocumentStatus
	if params.Status != nil && *params.Status != "" {
		st, ok := model.ParseStatus(*params.Status)
		if !ok {
			apierrors.ValidationError(w, fmt.Sprintf("Неизвестный статус: %s", *params.Status))
			return
		}
		status = &st
	}

	limit, offset := paginationDefaults(params.Limit, params.Offset)
	result, err := h.documents.List(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка документов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении списка документов")
		return
	}

	items := make([]documentResponse, 0, len(result.Items))
	for _, doc := range result.Items {
		items = append(items, toDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, documentListResponse{
		Items:  items,
		Total:  result.Total,
		Limit:  result.Limit,
		Offset: result.Offset,
	})
}

// GetDocument — метаданные документа.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request, documentID routes.DocumentId) {
	doc, err := h.documents.Get(r.Context(), documentID.String())
	if err != nil {
		h.writeDocumentError(w, documentID, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// DeleteDocument — удаление документа и его файлов.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request, documentID routes.DocumentId) {
	if err := h.documents.Delete(r.Context(), documentID.String()); err != nil {
		h.writeDocumentError(w, documentID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelDocument — отмена выполняющегося задания.
// Отмена асинхронна: документ переходит в error после остановки инструмента.
func (h *APIHandler) CancelDocument(w http.ResponseWriter, _ *http.Request, documentID routes.DocumentId) {
	if err := h.jobs.Cancel(documentID.String()); err != nil {
		h.writeDocumentError(w, documentID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DownloadOutput — скачивание результирующего PDF.
func (h *APIHandler) DownloadOutput(w http.ResponseWriter, r *http.Request, documentID routes.DocumentId) {
	doc, path, err := h.documents.OutputPath(r.Context(), documentID.String())
	if err != nil {
		h.writeDocumentError(w, documentID, err)
		return
	}
	h.serveFile(w, r, doc, path, "application/pdf", ".pdf")
}

// DownloadText — скачивание извлечённого текста.
func (h *APIHandler) DownloadText(w http.ResponseWriter, r *http.Request, documentID routes.DocumentId) {
	doc, path, err := h.documents.TextPath(r.Context(), documentID.String())
	if err != nil {
		h.writeDocumentError(w, documentID, err)
		return
	}
	h.serveFile(w, r, doc, path, "text/plain; charset=utf-8", ".txt")
}

// serveFile отдаёт файл документа с поддержкой Range и If-Modified-Since.
func (h *APIHandler) serveFile(w http.ResponseWriter, r *http.Request, doc *model.Document, path, contentType, ext string) {
	f, err := h.documents.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			apierrors.NotFound(w, "Файл результата отсутствует")
			return
		}
		h.logger.Error("Ошибка открытия файла документа",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при чтении файла")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apierrors.InternalError(w, "Внутренняя ошибка при чтении файла")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(doc, ext)))
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// downloadName — имя файла для Content-Disposition: отображаемое имя
// с расширением результата или идентификатор документа.
func downloadName(doc *model.Document, ext string) string {
	if doc.FileName == nil || *doc.FileName == "" {
		return doc.DocumentID + ext
	}
	name := *doc.FileName
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

// writeDocumentError отображает ошибки сервисов документов в HTTP-ответ.
func (h *APIHandler) writeDocumentError(w http.ResponseWriter, documentID routes.DocumentId, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Документ не найден")
	case errors.Is(err, service.ErrJobActive):
		apierrors.Conflict(w, "Задание выполняется, удаление недоступно")
	case errors.Is(err, service.ErrNotActive):
		apierrors.Conflict(w, "Задание не выполняется")
	case errors.Is(err, service.ErrNotReady):
		apierrors.Conflict(w, "Результат ещё не готов")
	default:
		h.logger.Error("Ошибка операции с документом",
			slog.String("document_id", documentID.String()),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при обработке запроса")
	}
}
