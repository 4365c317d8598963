package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/ocr-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/routes"
	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
)

const testDocumentID = "6b1c2f8e-3a4d-4e5f-9a0b-1c2d3e4f5a6b"

// --- Моки ---

type mockJobs struct {
	submitFn      func(ctx context.Context, req service.SubmitRequest) (*model.Document, error)
	submitAsyncFn func(ctx context.Context, req service.SubmitRequest) (*model.Document, error)
	cancelFn      func(documentID string) error
}

func (m *mockJobs) Submit(ctx context.Context, req service.SubmitRequest) (*model.Document, error) {
	return m.submitFn(ctx, req)
}

func (m *mockJobs) SubmitAsync(ctx context.Context, req service.SubmitRequest) (*model.Document, error) {
	return m.submitAsyncFn(ctx, req)
}

func (m *mockJobs) Cancel(documentID string) error {
	return m.cancelFn(documentID)
}

type mockDocuments struct {
	getFn    func(ctx context.Context, id string) (*model.Document, error)
	listFn   func(ctx context.Context, status *model.DocumentStatus, limit, offset int) (*service.ListResult, error)
	deleteFn func(ctx context.Context, id string) error
	pathFn   func(ctx context.Context, id string) (*model.Document, string, error)
}

func (m *mockDocuments) Get(ctx context.Context, id string) (*model.Document, error) {
	return m.getFn(ctx, id)
}

func (m *mockDocuments) List(ctx context.Context, status *model.DocumentStatus, limit, offset int) (*service.ListResult, error) {
	return m.listFn(ctx, status, limit, offset)
}

func (m *mockDocuments) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockDocuments) OutputPath(ctx context.Context, id string) (*model.Document, string, error) {
	return m.pathFn(ctx, id)
}

func (m *mockDocuments) TextPath(ctx context.Context, id string) (*model.Document, string, error) {
	return m.pathFn(ctx, id)
}

func (m *mockDocuments) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("открытие %s: %w", path, err)
	}
	return f, nil
}

type mockSearcher struct {
	searchFn func(ctx context.Context, q string) ([]service.SearchHit, error)
}

func (m *mockSearcher) Search(ctx context.Context, q string) ([]service.SearchHit, error) {
	return m.searchFn(ctx, q)
}

type mockTool struct {
	version string
	err     error
}

func (m *mockTool) Version(context.Context) (string, error) {
	return m.version, m.err
}

type staticChecker struct {
	status string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, ""
}

// --- Хелперы ---

func testDocument(status model.DocumentStatus) *model.Document {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := "scan.png"
	return &model.Document{
		DocumentID: testDocumentID,
		Languages:  []string{"eng"},
		Status:     status,
		InputPath:  "/work/i_x.png",
		OutputPath: "/work/o_x.pdf",
		TextPath:   "/work/o_x.txt",
		StatePath:  "/work/o_x.json",
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		FileName:   &name,
	}
}

type fixture struct {
	jobs    *mockJobs
	docs    *mockDocuments
	search  *mockSearcher
	tool    *mockTool
	handler http.Handler
}

func newFixture(maxUpload int64) *fixture {
	f := &fixture{
		jobs:   &mockJobs{},
		docs:   &mockDocuments{},
		search: &mockSearcher{},
		tool:   &mockTool{version: "16.5.0"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := NewAPIHandler(
		NewHealthHandler(staticChecker{statusOK}, staticChecker{statusOK}),
		f.jobs, f.docs, f.search, f.tool, maxUpload, logger,
	)
	f.handler = routes.HandlerWithOptions(api, routes.Options{
		BaseRouter: chi.NewRouter(),
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			apierrors.ValidationError(w, err.Error())
		},
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// multipartRequest собирает POST /api/v1/ocr с файлом.
func multipartRequest(t *testing.T, query, fileName string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != nil {
		part, err := mw.CreateFormFile("file", "upload.png")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(content)
	}
	if fileName != "" {
		_ = mw.WriteField("file_name", fileName)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr"+query, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %s", rec.Body.String())
	}
	return body.Error.Code
}

// --- OCR ---

func TestSubmitOCR_Sync(t *testing.T) {
	f := newFixture(1 << 20)
	var got service.SubmitRequest
	f.jobs.submitFn = func(_ context.Context, req service.SubmitRequest) (*model.Document, error) {
		got = req
		data, _ := io.ReadAll(req.Input)
		if string(data) != "image-bytes" {
			t.Errorf("содержимое файла = %q", data)
		}
		doc := testDocument(model.StatusDone)
		code := 0
		doc.ExitCode = &code
		return doc, nil
	}

	rec := f.do(multipartRequest(t, "?lang=eng&lang=vie", "invoice.png", []byte("image-bytes")))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if got.FileName != "invoice.png" {
		t.Errorf("FileName = %q, ожидался invoice.png", got.FileName)
	}
	if strings.Join(got.Languages, ",") != "eng,vie" {
		t.Errorf("Languages = %v, ожидались eng,vie", got.Languages)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "done" || resp["document_id"] != testDocumentID {
		t.Errorf("неожиданный ответ: %v", resp)
	}
	if _, ok := resp["input_path"]; ok {
		t.Error("пути к файлам не должны попадать в ответ")
	}
}

func TestSubmitOCR_PassesSubject(t *testing.T) {
	f := newFixture(1 << 20)
	var got service.SubmitRequest
	f.jobs.submitFn = func(_ context.Context, req service.SubmitRequest) (*model.Document, error) {
		got = req
		return testDocument(model.StatusDone), nil
	}

	req := multipartRequest(t, "", "scan.pdf", []byte("%PDF"))
	claims := &middleware.AuthClaims{Subject: "svc-scanner", Method: "jwt"}
	req = req.WithContext(context.WithValue(req.Context(), middleware.ContextKeyClaims, claims))

	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if got.Submitter != "svc-scanner" {
		t.Errorf("Submitter = %q, ожидался svc-scanner", got.Submitter)
	}
}

func TestSubmitOCR_AsyncUsesUploadName(t *testing.T) {
	f := newFixture(1 << 20)
	var got service.SubmitRequest
	f.jobs.submitAsyncFn = func(_ context.Context, req service.SubmitRequest) (*model.Document, error) {
		got = req
		return testDocument(model.StatusReceived), nil
	}

	rec := f.do(multipartRequest(t, "?async=true", "", []byte("x")))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидался статус 202, получен %d: %s", rec.Code, rec.Body.String())
	}
	if got.FileName != "upload.png" {
		t.Errorf("FileName = %q, ожидалось имя части upload.png", got.FileName)
	}
	if len(got.Languages) != 0 {
		t.Errorf("Languages = %v, ожидался пустой список", got.Languages)
	}
}

func TestSubmitOCR_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"валидация", fmt.Errorf("%w: язык xxx", service.ErrValidation), http.StatusBadRequest, apierrors.CodeValidationError},
		{"таймаут слота", service.ErrAdmissionTimeout, http.StatusServiceUnavailable, apierrors.CodeAdmissionTimeout},
		{"остановка", fmt.Errorf("%w: %w", service.ErrCanceled, service.ErrShutdown), http.StatusServiceUnavailable, apierrors.CodeUnavailable},
		{"сохранение", service.ErrPersist, http.StatusInternalServerError, apierrors.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(1 << 20)
			f.jobs.submitFn = func(context.Context, service.SubmitRequest) (*model.Document, error) {
				return nil, tt.err
			}
			rec := f.do(multipartRequest(t, "", "", []byte("x")))
			if rec.Code != tt.status {
				t.Fatalf("ожидался статус %d, получен %d", tt.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("код ошибки = %s, ожидался %s", code, tt.code)
			}
		})
	}
}

func TestSubmitOCR_AdmissionRetryAfter(t *testing.T) {
	f := newFixture(1 << 20)
	f.jobs.submitFn = func(context.Context, service.SubmitRequest) (*model.Document, error) {
		return nil, service.ErrAdmissionTimeout
	}
	rec := f.do(multipartRequest(t, "", "", []byte("x")))
	if rec.Header().Get("Retry-After") == "" {
		t.Error("ожидался заголовок Retry-After")
	}
}

func TestSubmitOCR_MissingFile(t *testing.T) {
	f := newFixture(1 << 20)
	rec := f.do(multipartRequest(t, "", "name.pdf", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", rec.Code)
	}
}

func TestSubmitOCR_TooLarge(t *testing.T) {
	f := newFixture(16)
	f.jobs.submitFn = func(context.Context, service.SubmitRequest) (*model.Document, error) {
		t.Error("Submit не должен вызываться")
		return nil, nil
	}
	rec := f.do(multipartRequest(t, "", "", bytes.Repeat([]byte("a"), 2<<20)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("ожидался статус 413, получен %d", rec.Code)
	}
}

func TestSubmitOCR_BadAsyncParam(t *testing.T) {
	f := newFixture(1 << 20)
	rec := f.do(multipartRequest(t, "?async=maybe", "", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", rec.Code)
	}
}

// --- Документы ---

func TestGetDocument(t *testing.T) {
	f := newFixture(0)
	f.docs.getFn = func(_ context.Context, id string) (*model.Document, error) {
		if id != testDocumentID {
			return nil, service.ErrNotFound
		}
		return testDocument(model.StatusDone), nil
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+testDocumentID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/2f1c2f8e-3a4d-4e5f-9a0b-1c2d3e4f5a6b", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("ожидался статус 404, получен %d", rec.Code)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400 для невалидного UUID, получен %d", rec.Code)
	}
}

func TestListDocuments(t *testing.T) {
	f := newFixture(0)
	var gotStatus *model.DocumentStatus
	var gotLimit, gotOffset int
	f.docs.listFn = func(_ context.Context, status *model.DocumentStatus, limit, offset int) (*service.ListResult, error) {
		gotStatus, gotLimit, gotOffset = status, limit, offset
		return &service.ListResult{
			Items:  []*model.Document{testDocument(model.StatusDone)},
			Total:  7,
			Limit:  limit,
			Offset: offset,
		}, nil
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=done&limit=5000&offset=-3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if gotStatus == nil || *gotStatus != model.StatusDone {
		t.Errorf("status = %v, ожидался done", gotStatus)
	}
	if gotLimit != 1000 || gotOffset != 0 {
		t.Errorf("limit=%d offset=%d, ожидались 1000 и 0", gotLimit, gotOffset)
	}

	var resp documentListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 7 || len(resp.Items) != 1 {
		t.Errorf("Total=%d Items=%d", resp.Total, len(resp.Items))
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=unknown", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался статус 400 для неизвестного статуса, получен %d", rec.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"удалён", nil, http.StatusNoContent},
		{"не найден", service.ErrNotFound, http.StatusNotFound},
		{"выполняется", service.ErrJobActive, http.StatusConflict},
		{"сбой", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			f.docs.deleteFn = func(context.Context, string) error { return tt.err }
			rec := f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+testDocumentID, nil))
			if rec.Code != tt.status {
				t.Errorf("ожидался статус %d, получен %d", tt.status, rec.Code)
			}
		})
	}
}

func TestCancelDocument(t *testing.T) {
	f := newFixture(0)
	var canceled string
	f.jobs.cancelFn = func(id string) error {
		if canceled != "" {
			return service.ErrNotActive
		}
		canceled = id
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+testDocumentID+"/cancel", nil)
	if rec := f.do(req); rec.Code != http.StatusAccepted {
		t.Fatalf("ожидался статус 202, получен %d", rec.Code)
	}
	if canceled != testDocumentID {
		t.Errorf("отменён %q, ожидался %q", canceled, testDocumentID)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+testDocumentID+"/cancel", nil)
	if rec := f.do(req); rec.Code != http.StatusConflict {
		t.Errorf("повторная отмена: ожидался статус 409, получен %d", rec.Code)
	}
}

func TestDownloadText(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "o_x.txt")
	if err := os.WriteFile(textPath, []byte("recognized text"), 0o640); err != nil {
		t.Fatal(err)
	}

	f := newFixture(0)
	f.docs.pathFn = func(context.Context, string) (*model.Document, string, error) {
		return testDocument(model.StatusDone), textPath, nil
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+testDocumentID+"/text", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	if rec.Body.String() != "recognized text" {
		t.Errorf("тело = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `"scan.txt"`) {
		t.Errorf("Content-Disposition = %q, ожидалось имя scan.txt", cd)
	}
}

func TestDownloadOutput_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"не готов", "", service.ErrNotReady, http.StatusConflict},
		{"не найден", "", service.ErrNotFound, http.StatusNotFound},
		{"файл отсутствует", "/nonexistent/o_x.pdf", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			f.docs.pathFn = func(context.Context, string) (*model.Document, string, error) {
				if tt.err != nil {
					return nil, "", tt.err
				}
				return testDocument(model.StatusDone), tt.path, nil
			}
			rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+testDocumentID+"/output", nil))
			if rec.Code != tt.status {
				t.Errorf("ожидался статус %d, получен %d", tt.status, rec.Code)
			}
		})
	}
}

// --- Поиск ---

func TestSearchDocuments(t *testing.T) {
	f := newFixture(0)
	var gotQuery string
	f.search.searchFn = func(_ context.Context, q string) ([]service.SearchHit, error) {
		gotQuery = q
		if strings.TrimSpace(q) == "" {
			return nil, service.ErrValidation
		}
		name := "scan.png"
		return []service.SearchHit{{DocumentID: testDocumentID, FileName: &name}}, nil
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=invoice+%26%26+total", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if gotQuery != "invoice && total" {
		t.Errorf("запрос = %q", gotQuery)
	}
	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].DocumentID != testDocumentID {
		t.Errorf("неожиданный ответ: %+v", resp)
	}

	if rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=+", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("пустой запрос: ожидался статус 400, получен %d", rec.Code)
	}
	if rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("без q: ожидался статус 400, получен %d", rec.Code)
	}
}

// --- Status и health ---

func TestGetStatus(t *testing.T) {
	f := newFixture(0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != statusOK || resp.OCRVersion != "16.5.0" {
		t.Errorf("неожиданный ответ: %+v", resp)
	}

	f.tool.err = errors.New("not found")
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || resp.Status != statusDegraded {
		t.Errorf("ожидался degraded со статусом 200, получен %d %s", rec.Code, resp.Status)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name   string
		pg, fs ReadinessChecker
		status int
	}{
		{"всё ок", staticChecker{statusOK}, staticChecker{statusOK}, http.StatusOK},
		{"degraded", staticChecker{statusDegraded}, staticChecker{statusOK}, http.StatusOK},
		{"БД недоступна", staticChecker{statusFail}, staticChecker{statusOK}, http.StatusServiceUnavailable},
		{"нет checker", nil, staticChecker{statusOK}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.fs)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.status {
				t.Errorf("ожидался статус %d, получен %d", tt.status, rec.Code)
			}
		})
	}
}

func TestOverallStatus(t *testing.T) {
	if got := overallStatus(statusOK, statusDegraded); got != statusDegraded {
		t.Errorf("ожидался degraded, получен %s", got)
	}
	if got := overallStatus(statusDegraded, statusFail); got != statusFail {
		t.Errorf("ожидался fail, получен %s", got)
	}
	if got := overallStatus(); got != statusOK {
		t.Errorf("ожидался ok, получен %s", got)
	}
}
