// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — документ не найден.
	ErrNotFound = errors.New("документ не найден")
	// ErrValidation — ошибка валидации входных данных (язык, файл).
	ErrValidation = errors.New("ошибка валидации")
	// ErrAdmissionTimeout — не удалось получить слот очереди за отведённое время.
	ErrAdmissionTimeout = errors.New("превышено время ожидания слота обработки")
	// ErrCanceled — задание отменено до начала обработки.
	ErrCanceled = errors.New("задание отменено")
	// ErrJobActive — операция недоступна, пока задание выполняется.
	ErrJobActive = errors.New("задание выполняется")
	// ErrNotActive — задание не выполняется (уже завершено или не существует в очереди).
	ErrNotActive = errors.New("задание не выполняется")
	// ErrNotReady — результат ещё не готов (документ не в конечном статусе).
	ErrNotReady = errors.New("результат ещё не готов")
	// ErrPersist — не удалось сохранить переход статуса после повторов.
	ErrPersist = errors.New("ошибка сохранения документа")
	// ErrShutdown — сервис останавливается.
	ErrShutdown = errors.New("сервис останавливается")
)
