// recovery.go — восстановление состояния при старте сервиса.
//
// Порядок:
//  1. Импорт state-снимков из рабочей директории, которых нет в БД
//  2. Документы в processing переводятся в error с CodeInterrupted
//  3. Документы в received (слот не был получен) удаляются вместе с файлами
//
// Выполняется до запуска HTTP-сервера, когда активных заданий нет.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/statefile"
)

// interruptedResult — диагностика для документа, прерванного перезапуском.
const interruptedResult = "обработка прервана перезапуском сервиса"

// RecoveryResult — результат восстановления.
type RecoveryResult struct {
	// Imported — импортировано снимков, отсутствовавших в БД
	Imported int
	// Invalid — снимков, которые не удалось прочитать
	Invalid int
	// Interrupted — документов processing, переведённых в error
	Interrupted int
	// Removed — удалено документов received
	Removed int
	// Errors — ошибок при обработке отдельных документов
	Errors int
	// Duration — длительность
	Duration time.Duration
}

// Recovery — восстановление состояния при старте.
type Recovery struct {
	repo   repository.DocumentRepository
	store  *filestore.FileStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRecovery создаёт сервис восстановления.
func NewRecovery(repo repository.DocumentRepository, store *filestore.FileStore, logger *slog.Logger) *Recovery {
	return &Recovery{
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "recovery")),
		now:    time.Now,
	}
}

// Run выполняет восстановление. Ошибка возвращается, только если
// не удалось прочитать БД или рабочую директорию.
func (r *Recovery) Run(ctx context.Context) (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{}

	docs, err := r.repo.ReloadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("загрузка документов: %w", err)
	}

	// Фаза 1: импорт снимков
	scan, err := statefile.ScanDir(r.store.WorkDir())
	if err != nil {
		return nil, fmt.Errorf("сканирование рабочей директории: %w", err)
	}
	for _, path := range scan.Invalid {
		r.logger.Warn("Невалидный снимок документа пропущен", slog.String("path", path))
	}
	result.Invalid = len(scan.Invalid)

	for _, doc := range scan.Documents {
		if _, ok := docs[doc.DocumentID]; ok {
			continue
		}
		if doc.IsTerminal() {
			r.attachText(doc)
		}
		if err := r.repo.Insert(ctx, doc); err != nil {
			r.logger.Error("Не удалось импортировать снимок",
				slog.String("document_id", doc.DocumentID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		docs[doc.DocumentID] = doc
		result.Imported++
	}

	// Фаза 2 и 3: незавершённые задания
	for _, doc := range docs {
		switch doc.Status {
		case model.StatusProcessing:
			if r.interrupt(ctx, doc) {
				result.Interrupted++
			} else {
				result.Errors++
			}
		case model.StatusReceived:
			if r.remove(ctx, doc) {
				result.Removed++
			} else {
				result.Errors++
			}
		}
	}

	result.Duration = time.Since(start)
	r.logger.Info("Восстановление завершено",
		slog.Int("total", len(docs)),
		slog.Int("imported", result.Imported),
		slog.Int("invalid", result.Invalid),
		slog.Int("interrupted", result.Interrupted),
		slog.Int("removed", result.Removed),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// interrupt переводит документ processing в error с CodeInterrupted.
func (r *Recovery) interrupt(ctx context.Context, doc *model.Document) bool {
	text, _, _ := r.store.ReadText(doc.TextPath)
	if err := lifecycle.Fail(doc, r.now().UTC(), model.CodeInterrupted, interruptedResult, text); err != nil {
		r.logger.Error("Недопустимый переход при восстановлении",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !r.store.Exists(doc.TextPath) {
		if err := r.store.WriteText(doc.TextPath, ""); err != nil {
			r.logger.Warn("Не удалось создать файл текста",
				slog.String("document_id", doc.DocumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := r.repo.Update(ctx, doc); err != nil {
		r.logger.Error("Не удалось сохранить прерванный документ",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := statefile.Write(doc.StatePath, doc); err != nil {
		r.logger.Warn("Не удалось обновить снимок",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
	}
	r.logger.Warn("Документ прерван перезапуском", slog.String("document_id", doc.DocumentID))
	return true
}

// remove удаляет документ received: файлы, затем строку.
func (r *Recovery) remove(ctx context.Context, doc *model.Document) bool {
	if err := r.store.DeleteAll(doc.Files()...); err != nil {
		r.logger.Error("Не удалось удалить файлы документа",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := r.repo.Delete(ctx, doc.DocumentID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.logger.Error("Не удалось удалить документ",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	r.logger.Info("Незапущенное задание удалено", slog.String("document_id", doc.DocumentID))
	return true
}

// attachText загружает извлечённый текст импортируемого документа.
func (r *Recovery) attachText(doc *model.Document) {
	text, ok, err := r.store.ReadText(doc.TextPath)
	if err != nil {
		r.logger.Warn("Не удалось прочитать текст снимка",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}
	if ok {
		doc.TextContent = &text
	}
}
