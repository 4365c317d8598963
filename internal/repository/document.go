package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
)

// DocumentRepository — интерфейс хранилища метаданных заданий OCR.
type DocumentRepository interface {
	// Insert создаёт запись документа.
	Insert(ctx context.Context, d *model.Document) error
	// GetByID возвращает документ по UUID.
	GetByID(ctx context.Context, documentID string) (*model.Document, error)
	// List возвращает документы с фильтрацией (без текста).
	List(ctx context.Context, filters DocumentFilters, limit, offset int) ([]*model.Document, error)
	// Count возвращает количество документов с фильтрацией.
	Count(ctx context.Context, filters DocumentFilters) (int, error)
	// Update сохраняет изменяемые поля (статус, время, результат, текст).
	Update(ctx context.Context, d *model.Document) error
	// Delete удаляет строку метаданных. Файлы удаляет вызывающий код.
	Delete(ctx context.Context, documentID string) error
	// ListExpired возвращает документы с expires_at <= now.
	ListExpired(ctx context.Context, now time.Time) ([]*model.Document, error)
	// ListWithText возвращает обработанные документы с непустым текстом.
	ListWithText(ctx context.Context) ([]*model.Document, error)
	// ReloadAll загружает все записи (id → документ).
	ReloadAll(ctx context.Context) (map[string]*model.Document, error)
}

// DocumentFilters — фильтры для списка документов.
type DocumentFilters struct {
	Status *model.DocumentStatus
}

// documentColumns — колонки таблицы documents без text_content.
const documentColumns = `document_id, languages, status, input_path, output_path,
	text_path, state_path, result, exit_code, page_count, created_at,
	processing_at, expires_at, finished_at, file_name, updated_at`

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Insert(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (document_id, languages, status, input_path, output_path,
			text_path, state_path, result, exit_code, page_count, created_at,
			processing_at, expires_at, finished_at, file_name, text_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		d.DocumentID, d.Languages, d.Status, d.InputPath, d.OutputPath,
		d.TextPath, d.StatePath, d.Result, d.ExitCode, d.PageCount, d.CreatedAt,
		d.ProcessingAt, d.ExpiresAt, d.FinishedAt, d.FileName, d.TextContent,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, documentID string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + `, text_content
		FROM documents
		WHERE document_id = $1`

	d := &model.Document{}
	err := r.db.QueryRow(ctx, query, documentID).Scan(append(scanTargets(d), &d.TextContent)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

// buildDocumentWhere строит WHERE-условие и аргументы для фильтрации.
func buildDocumentWhere(filters DocumentFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// List возвращает документы в порядке created_at DESC.
// limit <= 0 — без ограничения.
func (r *documentRepo) List(ctx context.Context, filters DocumentFilters, limit, offset int) ([]*model.Document, error) {
	where, args := buildDocumentWhere(filters, 1)
	query := fmt.Sprintf(`SELECT %s FROM documents %s ORDER BY created_at DESC`, documentColumns, where)

	if limit > 0 {
		argNum := len(args) + 1
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
		args = append(args, limit, offset)
	}

	return r.queryDocuments(ctx, query, false, args...)
}

func (r *documentRepo) Count(ctx context.Context, filters DocumentFilters) (int, error) {
	where, args := buildDocumentWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM documents %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}
	return count, nil
}

func (r *documentRepo) Update(ctx context.Context, d *model.Document) error {
	query := `
		UPDATE documents
		SET status = $2, result = $3, exit_code = $4, page_count = $5,
			processing_at = $6, finished_at = $7, file_name = $8,
			text_content = $9, updated_at = now()
		WHERE document_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		d.DocumentID, d.Status, d.Result, d.ExitCode, d.PageCount,
		d.ProcessingAt, d.FinishedAt, d.FileName, d.TextContent,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления документа: %w", err)
	}
	return nil
}

func (r *documentRepo) Delete(ctx context.Context, documentID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE document_id = $1`, documentID)
	if err != nil {
		if isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE expires_at <= $1
		ORDER BY expires_at`

	return r.queryDocuments(ctx, query, false, now)
}

func (r *documentRepo) ListWithText(ctx context.Context) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + `, text_content
		FROM documents
		WHERE status IN ('done', 'error')
			AND text_content IS NOT NULL AND text_content <> ''`

	return r.queryDocuments(ctx, query, true)
}

func (r *documentRepo) ReloadAll(ctx context.Context) (map[string]*model.Document, error) {
	query := `SELECT ` + documentColumns + `, text_content FROM documents`

	docs, err := r.queryDocuments(ctx, query, true)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		result[d.DocumentID] = d
	}
	return result, nil
}

// queryDocuments выполняет SELECT по documentColumns (и text_content, если withText).
func (r *documentRepo) queryDocuments(ctx context.Context, query string, withText bool, args ...any) ([]*model.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d := &model.Document{}
		targets := scanTargets(d)
		if withText {
			targets = append(targets, &d.TextContent)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// scanTargets возвращает указатели на поля в порядке documentColumns.
func scanTargets(d *model.Document) []any {
	return []any{
		&d.DocumentID, &d.Languages, &d.Status, &d.InputPath, &d.OutputPath,
		&d.TextPath, &d.StatePath, &d.Result, &d.ExitCode, &d.PageCount, &d.CreatedAt,
		&d.ProcessingAt, &d.ExpiresAt, &d.FinishedAt, &d.FileName, &d.UpdatedAt,
	}
}
