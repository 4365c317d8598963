// validate.go — предварительный разбор входного PDF через pdfcpu.
// Структурные ошибки не отклоняют документ: ocrmypdf часто чинит такие
// файлы сам, итог определяет код выхода инструмента.
package service

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// InputValidator — проверка сохранённого входного файла.
// Возвращает число страниц (nil, если неизвестно). Ошибка отклоняет запрос.
type InputValidator interface {
	Validate(path string) (*int, error)
}

// PDFValidator — разбор PDF через pdfcpu. Изображения не проверяются.
type PDFValidator struct {
	logger *slog.Logger
}

// NewPDFValidator создаёт проверку PDF.
func NewPDFValidator(logger *slog.Logger) *PDFValidator {
	return &PDFValidator{
		logger: logger.With(slog.String("component", "pdf_validator")),
	}
}

// Validate считает страницы PDF. Нарушения структуры (relaxed-режим)
// и неизвестное число страниц только попадают в журнал.
func (v *PDFValidator) Validate(path string) (*int, error) {
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return nil, nil
	}
	log := v.logger.With(slog.String("file", filepath.Base(path)))

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		log.Warn("PDF не прошёл проверку структуры, решение за инструментом OCR",
			slog.String("error", err.Error()),
		)
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		log.Warn("Не удалось определить число страниц", slog.String("error", err.Error()))
		return nil, nil
	}
	if pages < 1 {
		return nil, nil
	}
	return &pages, nil
}
