// Пакет statefile — JSON-снимки записей документов (o_{id}_{expire}.json).
// Снимок пишется после каждого сохранения записи в БД и позволяет
// восстановить таблицу по рабочей директории.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
)

// Suffix — суффикс файла снимка.
const Suffix = ".json"

// Prefix — префикс выходных файлов задания.
const Prefix = "o_"

// maxStateFileSize — максимальный допустимый размер снимка (64 КБ).
// Диагностический вывод инструмента может быть длинным.
const maxStateFileSize = 64 * 1024

// IsStateFile проверяет, является ли путь файлом снимка.
func IsStateFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, Prefix) && strings.HasSuffix(base, Suffix)
}

// Write атомарно записывает снимок документа в path.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func Write(path string, doc *model.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	if len(data) > maxStateFileSize {
		return fmt.Errorf("размер снимка (%d байт) превышает максимум (%d байт)", len(data), maxStateFileSize)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и десериализует снимок.
func Read(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снимка %s: %w", path, err)
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снимка %s: %w", path, err)
	}
	if doc.DocumentID == "" {
		return nil, fmt.Errorf("снимок %s: отсутствует document_id", path)
	}

	return &doc, nil
}

// Delete удаляет снимок. Возвращает nil, если файл уже не существует.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления снимка %s: %w", path, err)
	}
	return nil
}

// ScanResult — результат сканирования директории.
type ScanResult struct {
	// Documents — прочитанные снимки
	Documents []*model.Document
	// Invalid — пути снимков, которые не удалось прочитать
	Invalid []string
}

// ScanDir сканирует директорию и возвращает все снимки.
// Не рекурсивный. Невалидные файлы пропускаются и перечисляются в Invalid.
func ScanDir(dir string) (*ScanResult, error) {
	pattern := filepath.Join(dir, Prefix+"*"+Suffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	result := &ScanResult{}
	for _, path := range matches {
		doc, err := Read(path)
		if err != nil {
			result.Invalid = append(result.Invalid, path)
			continue
		}
		result.Documents = append(result.Documents, doc)
	}

	return result, nil
}
