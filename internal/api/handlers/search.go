// search.go — обработчик GET /api/v1/search.
// Булев поиск по извлечённому тексту документов.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/ocr-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/routes"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
)

// searchResponse — ответ поиска.
type searchResponse struct {
	Items []service.SearchHit `json:"items"`
	Total int                 `json:"total"`
}

// SearchDocuments — поиск документов по запросу q.
func (h *APIHandler) SearchDocuments(w http.ResponseWriter, r *http.Request, params routes.SearchDocumentsParams) {
	hits, err := h.search.Search(r.Context(), params.Q)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, "Пустой поисковый запрос")
			return
		}
		h.logger.Error("Ошибка поиска", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при поиске")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Items: hits, Total: len(hits)})
}
