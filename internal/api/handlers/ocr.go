// ocr.go — обработчик POST /api/v1/ocr.
// Приём multipart-файла, синхронная (200) или асинхронная (202) обработка.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/ocr-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ocr-module/internal/api/routes"
	"github.com/bigkaa/goartstore/ocr-module/internal/service"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
)

// multipartMemory — часть формы, которая держится в памяти; остальное во временных файлах.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки частей и поле file_name сверх размера файла.
const multipartOverhead = 1 << 20

// SubmitOCR — загрузка документа на распознавание.
//
// Поля формы: file (обязательно), file_name (отображаемое имя).
// Query: lang (повторяемый), async.
func (h *APIHandler) SubmitOCR(w http.ResponseWriter, r *http.Request, params routes.SubmitOCRParams) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, "Файл превышает максимальный размер")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полем file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	fileName := r.FormValue("file_name")
	if fileName == "" {
		fileName = header.Filename
	}

	var langs []string
	if params.Lang != nil {
		langs = *params.Lang
	}
	req := service.SubmitRequest{
		Input:     file,
		FileName:  fileName,
		Languages: langs,
		Submitter: middleware.SubjectFromContext(r.Context()),
	}

	if params.Async != nil && *params.Async {
		doc, err := h.jobs.SubmitAsync(r.Context(), req)
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
		return
	}

	doc, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// writeSubmitError отображает ошибки оркестратора в HTTP-ответ.
func (h *APIHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filestore.ErrTooLarge):
		apierrors.PayloadTooLarge(w, "Файл превышает максимальный размер")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrAdmissionTimeout):
		apierrors.AdmissionTimeout(w, "Нет свободного слота обработки, повторите позже")
	case errors.Is(err, service.ErrShutdown):
		apierrors.Unavailable(w, "Сервис завершает работу")
	case errors.Is(err, service.ErrCanceled):
		apierrors.Unavailable(w, "Задание отменено")
	default:
		h.logger.Error("Ошибка обработки задания OCR", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при обработке документа")
	}
}
