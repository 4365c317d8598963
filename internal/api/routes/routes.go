// Пакет routes — маршруты HTTP API OCR Module и привязка параметров.
// Повторяет схему oapi-codegen chi-server: ServerInterface, обёртка
// с разбором path/query параметров через oapi-codegen/runtime, HandlerFromMux.
package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
)

// DocumentId — идентификатор документа в пути.
type DocumentId = uuid.UUID //nolint:revive // имя как в схеме API

// SubmitOCRParams — query-параметры POST /api/v1/ocr.
type SubmitOCRParams struct {
	// Lang — языки распознавания (повторяемый параметр)
	Lang *[]string `form:"lang,omitempty" json:"lang,omitempty"`
	// Async — асинхронный режим (ответ 202 со статусом received)
	Async *bool `form:"async,omitempty" json:"async,omitempty"`
}

// ListDocumentsParams — query-параметры GET /api/v1/documents.
type ListDocumentsParams struct {
	Status *string `form:"status,omitempty" json:"status,omitempty"`
	Limit  *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int    `form:"offset,omitempty" json:"offset,omitempty"`
}

// SearchDocumentsParams — query-параметры GET /api/v1/search.
type SearchDocumentsParams struct {
	// Q — булев запрос: || из && литеральных подстрок, без скобок и экранирования
	Q string `form:"q" json:"q"`
}

// ServerInterface — обработчики HTTP API.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/status)
	GetStatus(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/ocr)
	SubmitOCR(w http.ResponseWriter, r *http.Request, params SubmitOCRParams)
	// (GET /api/v1/documents)
	ListDocuments(w http.ResponseWriter, r *http.Request, params ListDocumentsParams)
	// (GET /api/v1/documents/{document_id})
	GetDocument(w http.ResponseWriter, r *http.Request, documentID DocumentId)
	// (DELETE /api/v1/documents/{document_id})
	DeleteDocument(w http.ResponseWriter, r *http.Request, documentID DocumentId)
	// (POST /api/v1/documents/{document_id}/cancel)
	CancelDocument(w http.ResponseWriter, r *http.Request, documentID DocumentId)
	// (GET /api/v1/documents/{document_id}/output)
	DownloadOutput(w http.ResponseWriter, r *http.Request, documentID DocumentId)
	// (GET /api/v1/documents/{document_id}/text)
	DownloadText(w http.ResponseWriter, r *http.Request, documentID DocumentId)
	// (GET /api/v1/search)
	SearchDocuments(w http.ResponseWriter, r *http.Request, params SearchDocumentsParams)
}

// InvalidParamFormatError — параметр не удалось разобрать.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// RequiredParamError — обязательный параметр отсутствует.
type RequiredParamError struct {
	ParamName string
}

func (e *RequiredParamError) Error() string {
	return fmt.Sprintf("Query argument %s is required, but not found", e.ParamName)
}

// Options — параметры HandlerWithOptions.
type Options struct {
	// BaseRouter — роутер, на котором регистрируются маршруты (nil — новый chi.Router)
	BaseRouter chi.Router
	// Middlewares — дополнительные middleware для каждого маршрута
	Middlewares []func(http.Handler) http.Handler
	// ErrorHandlerFunc — ответ на ошибку разбора параметров
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// wrapper разбирает параметры и вызывает ServerInterface.
type wrapper struct {
	handler      ServerInterface
	middlewares  []func(http.Handler) http.Handler
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// serve применяет middleware маршрута и вызывает h.
func (siw *wrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	var handler http.Handler = h
	for i := len(siw.middlewares) - 1; i >= 0; i-- {
		handler = siw.middlewares[i](handler)
	}
	handler.ServeHTTP(w, r)
}

func (siw *wrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.handler.HealthLive)
}

func (siw *wrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.handler.HealthReady)
}

func (siw *wrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.handler.GetMetrics)
}

func (siw *wrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.handler.GetStatus)
}

func (siw *wrapper) SubmitOCR(w http.ResponseWriter, r *http.Request) {
	var params SubmitOCRParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "lang", query, &params.Lang); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "lang", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "async", query, &params.Async); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "async", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.handler.SubmitOCR(w, r, params)
	})
}

func (siw *wrapper) ListDocuments(w http.ResponseWriter, r *http.Request) {
	var params ListDocumentsParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "status", query, &params.Status); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "status", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &params.Offset); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "offset", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.handler.ListDocuments(w, r, params)
	})
}

func (siw *wrapper) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var params SearchDocumentsParams
	query := r.URL.Query()

	if _, ok := query["q"]; !ok {
		siw.errorHandler(w, r, &RequiredParamError{ParamName: "q"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "q", query, &params.Q); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "q", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.handler.SearchDocuments(w, r, params)
	})
}

// documentHandler разбирает {document_id} и вызывает обработчик документа.
func (siw *wrapper) documentHandler(fn func(ServerInterface, http.ResponseWriter, *http.Request, DocumentId)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var documentID DocumentId
		err := runtime.BindStyledParameterWithOptions("simple", "document_id", chi.URLParam(r, "document_id"), &documentID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "document_id", Err: err})
			return
		}

		siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
			fn(siw.handler, w, r, documentID)
		})
	}
}

// HandlerFromMux регистрирует маршруты на переданном роутере.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, Options{BaseRouter: r})
}

// HandlerWithOptions регистрирует маршруты с дополнительными параметрами.
func HandlerWithOptions(si ServerInterface, options Options) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}

	siw := &wrapper{
		handler:      si,
		middlewares:  options.Middlewares,
		errorHandler: options.ErrorHandlerFunc,
	}

	r.Get("/health/live", siw.HealthLive)
	r.Get("/health/ready", siw.HealthReady)
	r.Get("/metrics", siw.GetMetrics)
	r.Get("/api/v1/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		siw.serve(w, r, serveOpenAPI)
	})
	r.Get("/api/v1/status", siw.GetStatus)
	r.Post("/api/v1/ocr", siw.SubmitOCR)
	r.Get("/api/v1/documents", siw.ListDocuments)
	r.Get("/api/v1/documents/{document_id}", siw.documentHandler(ServerInterface.GetDocument))
	r.Delete("/api/v1/documents/{document_id}", siw.documentHandler(ServerInterface.DeleteDocument))
	r.Post("/api/v1/documents/{document_id}/cancel", siw.documentHandler(ServerInterface.CancelDocument))
	r.Get("/api/v1/documents/{document_id}/output", siw.documentHandler(ServerInterface.DownloadOutput))
	r.Get("/api/v1/documents/{document_id}/text", siw.documentHandler(ServerInterface.DownloadText))
	r.Get("/api/v1/search", siw.SearchDocuments)

	return r
}
