package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"успех", "/api/v1/documents", http.StatusOK, "INFO"},
		{"ошибка клиента", "/api/v1/documents", http.StatusNotFound, "WARN"},
		{"ошибка сервера", "/api/v1/ocr", http.StatusInternalServerError, "ERROR"},
		{"probe", "/health/live", http.StatusOK, "DEBUG"},
		{"probe с ошибкой", "/health/ready", http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("запись лога не JSON: %q", buf.String())
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, ожидался %s", entry["level"], tt.level)
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, ожидался %d", entry["status"], tt.status)
			}
			if entry["bytes"] != float64(4) {
				t.Errorf("bytes = %v, ожидалось 4", entry["bytes"])
			}
		})
	}
}

// TestRequestLogger_RouteAndRequestID проверяет шаблон маршрута chi и request_id.
func TestRequestLogger_RouteAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := chi.NewRouter()
	router.Use(chimw.RequestID, RequestLogger(logger))
	router.Get("/api/v1/documents/{document_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/documents/abc", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("запись лога не JSON: %q", buf.String())
	}
	if entry["route"] != "/api/v1/documents/{document_id}" {
		t.Errorf("route = %v, ожидался шаблон маршрута", entry["route"])
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Error("ожидался request_id")
	}
	if entry["status"] != float64(http.StatusNoContent) {
		t.Errorf("status = %v, ожидался 204", entry["status"])
	}
}

// TestStatusRecorder_FirstStatusWins проверяет, что повторный WriteHeader не меняет статус.
func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusInternalServerError)

	if rec.status != http.StatusOK {
		t.Errorf("status = %d, ожидался 200", rec.status)
	}
	if rec.bytes != 2 {
		t.Errorf("bytes = %d, ожидалось 2", rec.bytes)
	}
}
