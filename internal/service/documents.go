// documents.go — чтение, список и удаление документов.
// Координирует repository, LRU cache и файлы рабочей директории.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
)

// ListResult — страница списка документов.
type ListResult struct {
	// Items — документы текущей страницы
	Items []*model.Document
	// Total — общее количество с учётом фильтра
	Total int
	// Limit — запрошенный лимит
	Limit int
	// Offset — текущее смещение
	Offset int
}

// DocumentService — сервис метаданных документов.
type DocumentService struct {
	repo   repository.DocumentRepository
	store  *filestore.FileStore
	active ActiveChecker
	cache  *CacheService
	logger *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(
	repo repository.DocumentRepository,
	store *filestore.FileStore,
	active ActiveChecker,
	cache *CacheService,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		repo:   repo,
		store:  store,
		active: active,
		cache:  cache,
		logger: logger.With(slog.String("component", "document_service")),
	}
}

// Get возвращает документ. Документы в конечном статусе кэшируются.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*model.Document, error) {
	if doc, ok := s.cache.Get(documentID); ok {
		s.logger.Debug("Кэш hit для документа", slog.String("document_id", documentID))
		return doc, nil
	}

	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение документа: %w", err)
	}

	s.cache.Set(doc)
	return doc, nil
}

// List возвращает страницу документов. limit <= 0 — все документы.
func (s *DocumentService) List(ctx context.Context, status *model.DocumentStatus, limit, offset int) (*ListResult, error) {
	filters := repository.DocumentFilters{Status: status}

	items, err := s.repo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список документов: %w", err)
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("подсчёт документов: %w", err)
	}

	return &ListResult{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Delete удаляет документ: сначала файлы, затем строку метаданных.
// Выполняющееся задание удалить нельзя (ErrJobActive).
func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if s.active != nil && s.active.IsActive(documentID) {
		return ErrJobActive
	}

	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("получение документа: %w", err)
	}

	if err := s.store.DeleteAll(doc.Files()...); err != nil {
		return fmt.Errorf("удаление файлов документа: %w", err)
	}

	if err := s.repo.Delete(ctx, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление документа: %w", err)
	}
	s.cache.Delete(documentID)

	s.logger.Info("Документ удалён",
		slog.String("document_id", documentID),
		slog.String("status", string(doc.Status)),
	)
	return nil
}

// OutputPath возвращает путь к результирующему PDF.
// Для документа не в конечном статусе — ErrNotReady.
func (s *DocumentService) OutputPath(ctx context.Context, documentID string) (*model.Document, string, error) {
	doc, err := s.ready(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	return doc, doc.OutputPath, nil
}

// TextPath возвращает путь к файлу извлечённого текста.
func (s *DocumentService) TextPath(ctx context.Context, documentID string) (*model.Document, string, error) {
	doc, err := s.ready(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	return doc, doc.TextPath, nil
}

// Open открывает файл документа для скачивания.
// Отсутствующий файл — ошибка, совместимая с os.ErrNotExist.
func (s *DocumentService) Open(path string) (*os.File, error) {
	return s.store.Open(path)
}

func (s *DocumentService) ready(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.IsTerminal() {
		return nil, fmt.Errorf("%w: статус %s", ErrNotReady, doc.Status)
	}
	return doc, nil
}
