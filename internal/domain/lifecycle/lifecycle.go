// Пакет lifecycle — конечный автомат статусов задания OCR.
//
// Жизненный цикл: received → processing → {done | error}.
// received — начальный статус, done и error — конечные.
// Пропустить processing нельзя, вернуться в received нельзя.
//
// Функции пакета не потокобезопасны: документ изменяет только
// оркестратор, владеющий заданием.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[model.DocumentStatus]map[model.DocumentStatus]bool{
	model.StatusReceived:   {model.StatusProcessing: true},
	model.StatusProcessing: {model.StatusDone: true, model.StatusError: true},
	model.StatusDone:       {},
	model.StatusError:      {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.DocumentStatus) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// StartProcessing выполняет переход received → processing
// и фиксирует время начала обработки.
func StartProcessing(doc *model.Document, now time.Time) error {
	if err := check(doc, model.StatusProcessing); err != nil {
		return err
	}
	if doc.ProcessingAt != nil {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("документ %s: время начала обработки уже установлено", doc.DocumentID),
		}
	}

	t := now.UTC()
	doc.Status = model.StatusProcessing
	doc.ProcessingAt = &t
	return nil
}

// Complete выполняет переход processing → done: код 0,
// диагностический вывод и извлечённый текст.
func Complete(doc *model.Document, now time.Time, result, text string) error {
	return finish(doc, model.StatusDone, now, 0, result, text)
}

// Fail выполняет переход processing → error с кодом инструмента
// или служебным кодом и частичным текстом (может быть пустым).
func Fail(doc *model.Document, now time.Time, code int, result, text string) error {
	if code == 0 {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("документ %s: код 0 недопустим для статуса error", doc.DocumentID),
		}
	}
	return finish(doc, model.StatusError, now, code, result, text)
}

// finish устанавливает конечный статус. finished_at не может быть
// раньше processing_at: при скачке часов назад значение выравнивается.
func finish(doc *model.Document, target model.DocumentStatus, now time.Time, code int, result, text string) error {
	if err := check(doc, target); err != nil {
		return err
	}
	if doc.FinishedAt != nil {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("документ %s: время завершения уже установлено", doc.DocumentID),
		}
	}

	t := now.UTC()
	if doc.ProcessingAt != nil && t.Before(*doc.ProcessingAt) {
		t = *doc.ProcessingAt
	}

	doc.Status = target
	doc.FinishedAt = &t
	doc.ExitCode = &code
	doc.Result = &result
	doc.TextContent = &text
	return nil
}

func check(doc *model.Document, target model.DocumentStatus) error {
	if !CanTransition(doc.Status, target) {
		return &TransitionError{
			Code: "INVALID_TRANSITION",
			Message: fmt.Sprintf("документ %s: переход %s → %s недопустим",
				doc.DocumentID, doc.Status, target),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
