// metrics.go — Prometheus HTTP метрики для OCR Module.
// Регистрирует метрики: om_http_requests_total, om_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики OCR Module
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "om_http_requests_total",
			Help: "Общее количество HTTP-запросов к OCR Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	// Синхронный OCR может занимать минуты, поэтому верхние бакеты большие.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "om_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к OCR Module в секундах",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			status := strconv.Itoa(rec.status)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор документа на {id}.
// /api/v1/documents/a1b2c3d4-... → /api/v1/documents/{id}
// /api/v1/documents/a1b2c3d4-.../output → /api/v1/documents/{id}/output
func normalizePath(path string) string {
	const documentsPrefix = "/api/v1/documents/"
	rest, ok := strings.CutPrefix(path, documentsPrefix)
	if !ok || rest == "" {
		return path
	}

	_, suffix, found := strings.Cut(rest, "/")
	if !found {
		return documentsPrefix + "{id}"
	}
	switch suffix {
	case "output", "text", "cancel":
		return documentsPrefix + "{id}/" + suffix
	default:
		return documentsPrefix + "{id}/other"
	}
}
