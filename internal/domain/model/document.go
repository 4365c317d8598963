// Пакет model — доменные модели OCR Module.
// Document — единая структура задания OCR, используется как строка
// таблицы documents и как формат state-снимка (o_{id}_{expire}.json) на диске.
package model

import (
	"slices"
	"time"
)

// DocumentStatus — статус задания OCR.
type DocumentStatus string

const (
	// StatusReceived — документ принят, ожидает слота в очереди
	StatusReceived DocumentStatus = "received"
	// StatusProcessing — внешний инструмент OCR запущен
	StatusProcessing DocumentStatus = "processing"
	// StatusDone — OCR завершён успешно (конечный статус)
	StatusDone DocumentStatus = "done"
	// StatusError — OCR завершён с ошибкой (конечный статус)
	StatusError DocumentStatus = "error"
)

// Служебные коды завершения. Коды внешнего инструмента всегда >= 0,
// поэтому отрицательные значения не пересекаются с ними.
const (
	// CodeLaunchFailed — инструмент не удалось запустить
	CodeLaunchFailed = -1
	// CodeCanceled — задание отменено во время обработки
	CodeCanceled = -2
	// CodeTimeout — превышен таймаут задания
	CodeTimeout = -3
	// CodeInterrupted — обработка прервана перезапуском сервиса
	CodeInterrupted = -4
)

// Document — метаданные задания OCR.
// Пути к файлам непрозрачны для ядра: проверяется только их существование.
type Document struct {
	// DocumentID — уникальный идентификатор (UUID v4)
	DocumentID string `json:"document_id"`

	// Languages — запрошенные языки (коды инструмента, например eng, vie)
	Languages []string `json:"languages"`

	// Status — текущий статус
	Status DocumentStatus `json:"status"`

	// InputPath — загруженный входной файл
	InputPath string `json:"input_path"`
	// OutputPath — результирующий PDF с текстовым слоем
	OutputPath string `json:"output_path"`
	// TextPath — извлечённый текст (sidecar), UTF-8
	TextPath string `json:"text_path"`
	// StatePath — JSON-снимок записи
	StatePath string `json:"state_path"`

	// Result — диагностический вывод инструмента
	Result *string `json:"result,omitempty"`
	// ExitCode — код завершения инструмента или служебный код (< 0)
	ExitCode *int `json:"exit_code,omitempty"`
	// PageCount — число страниц входного PDF, если известно
	PageCount *int `json:"page_count,omitempty"`

	// CreatedAt — момент приёма документа
	CreatedAt time.Time `json:"created_at"`
	// ProcessingAt — момент перехода в processing
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	// ExpiresAt — момент истечения (created_at + TTL)
	ExpiresAt time.Time `json:"expires_at"`
	// FinishedAt — момент перехода в done/error
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// FileName — отображаемое имя файла (опционально)
	FileName *string `json:"file_name,omitempty"`

	// TextContent — извлечённый текст для поиска.
	// В API-ответ не попадает, отдаётся отдельным endpoint.
	TextContent *string `json:"-"`

	// UpdatedAt — время последнего сохранения в БД
	UpdatedAt time.Time `json:"-"`
}

// IsTerminal возвращает true для конечных статусов done и error.
func (d *Document) IsTerminal() bool {
	return d.Status == StatusDone || d.Status == StatusError
}

// IsExpired возвращает true, если срок хранения истёк (expires_at <= now).
func (d *Document) IsExpired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}

// HasText возвращает true, если у документа есть непустой извлечённый текст.
func (d *Document) HasText() bool {
	return d.TextContent != nil && *d.TextContent != ""
}

// Files возвращает все файлы документа в порядке удаления:
// output, text, state, input.
func (d *Document) Files() []string {
	return []string{d.OutputPath, d.TextPath, d.StatePath, d.InputPath}
}

// Clone возвращает глубокую копию документа.
func (d *Document) Clone() *Document {
	c := *d
	c.Languages = slices.Clone(d.Languages)
	c.Result = clonePtr(d.Result)
	c.ExitCode = clonePtr(d.ExitCode)
	c.PageCount = clonePtr(d.PageCount)
	c.ProcessingAt = clonePtr(d.ProcessingAt)
	c.FinishedAt = clonePtr(d.FinishedAt)
	c.FileName = clonePtr(d.FileName)
	c.TextContent = clonePtr(d.TextContent)
	return &c
}

// ParseStatus проверяет строку статуса.
func ParseStatus(s string) (DocumentStatus, bool) {
	st := DocumentStatus(s)
	switch st {
	case StatusReceived, StatusProcessing, StatusDone, StatusError:
		return st, true
	default:
		return "", false
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
