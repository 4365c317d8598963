// status.go — обработчик GET /api/v1/status.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/config"
)

// versionTimeout — ограничение на запуск `tool --version`.
const versionTimeout = 5 * time.Second

// statusResponse — версия сервиса и инструмента OCR.
type statusResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Version    string `json:"version"`
	OCRVersion string `json:"ocr_version,omitempty"`
}

// GetStatus — версия сервиса и внешнего инструмента.
// Недоступность инструмента даёт degraded, но не ошибку.
func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  statusOK,
		Service: serviceName,
		Version: config.Version,
	}

	ctx, cancel := context.WithTimeout(r.Context(), versionTimeout)
	defer cancel()

	version, err := h.tool.Version(ctx)
	if err != nil {
		h.logger.Warn("Не удалось получить версию инструмента OCR", slog.String("error", err.Error()))
		resp.Status = statusDegraded
	} else {
		resp.OCRVersion = version
	}

	writeJSON(w, http.StatusOK, resp)
}
