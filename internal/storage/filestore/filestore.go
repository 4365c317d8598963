// Пакет filestore — файлы заданий OCR в рабочей директории.
// Обеспечивает streaming-запись загрузки с подсчётом SHA-256 на лету,
// формирование путей файлов задания, чтение текста и удаление.
//
// Имена файлов задания:
//
//	i_{id}_{expireUnix}{ext}   — входной файл
//	o_{id}_{expireUnix}.pdf    — результирующий PDF
//	o_{id}_{expireUnix}.txt    — извлечённый текст (sidecar)
//	o_{id}_{expireUnix}.json   — state-снимок записи
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge — загружаемый файл превышает допустимый размер.
var ErrTooLarge = errors.New("файл превышает максимальный размер")

// allowedInputExt — расширения входных файлов, которые принимает инструмент.
// Остальные сохраняются как .pdf.
var allowedInputExt = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// FileStore — управление файлами заданий в рабочей директории.
type FileStore struct {
	// workDir — абсолютный путь рабочей директории (OM_WORK_DIR)
	workDir string
}

// Paths — полный набор файлов одного задания.
type Paths struct {
	Input  string
	Output string
	Text   string
	State  string
}

// SaveResult — результат сохранения входного файла.
type SaveResult struct {
	// Path — абсолютный путь файла на диске
	Path string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(workDir string) (*FileStore, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный путь рабочей директории %s: %w", workDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать рабочую директорию %s: %w", abs, err)
	}

	return &FileStore{workDir: abs}, nil
}

// WorkDir возвращает путь к рабочей директории.
func (fs *FileStore) WorkDir() string {
	return fs.workDir
}

// PathsFor формирует пути файлов задания.
// originalName используется только для выбора расширения входного файла.
func (fs *FileStore) PathsFor(documentID string, expiresAt time.Time, originalName string) Paths {
	base := fmt.Sprintf("%s_%d", documentID, expiresAt.Unix())
	return Paths{
		Input:  filepath.Join(fs.workDir, "i_"+base+inputExt(originalName)),
		Output: filepath.Join(fs.workDir, "o_"+base+".pdf"),
		Text:   filepath.Join(fs.workDir, "o_"+base+".txt"),
		State:  filepath.Join(fs.workDir, "o_"+base+".json"),
	}
}

// SaveInput записывает данные из reader в path с подсчётом SHA-256 на лету.
// maxSize <= 0 — без ограничения.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) SaveInput(reader io.Reader, path string, maxSize int64) (*SaveResult, error) {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	src := io.TeeReader(reader, hasher)
	if maxSize > 0 {
		// +1 байт, чтобы отличить файл ровно maxSize от превышения
		src = io.LimitReader(src, maxSize+1)
	}

	size, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: больше %d байт", ErrTooLarge, maxSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Path:     path,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ReadText читает файл извлечённого текста. Невалидные последовательности
// UTF-8 заменяются на U+FFFD. Для отсутствующего файла возвращает ("", false, nil).
func (fs *FileStore) ReadText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ошибка чтения текста %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(data), "�"), true, nil
}

// WriteText записывает текст в UTF-8 (temp → rename).
// Используется, когда инструмент не создал sidecar.
func (fs *FileStore) WriteText(path, text string) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strings.ToValidUTF8(text, "�")), 0o640); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи текста %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s: %w", filepath.Base(path), os.ErrNotExist)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// Exists проверяет существование файла.
func (fs *FileStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DeleteFile удаляет файл. Возвращает nil, если файл уже не существует.
// Пустой путь игнорируется.
func (fs *FileStore) DeleteFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// DeleteAll удаляет все файлы задания best-effort: продолжает после ошибки
// и возвращает их объединение.
func (fs *FileStore) DeleteAll(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := fs.DeleteFile(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// inputExt выбирает расширение входного файла по имени загрузки.
func inputExt(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if allowedInputExt[ext] {
		return ext
	}
	return ".pdf"
}

// CheckReady проверяет, что рабочая директория существует и доступна на запись.
// Реализует интерфейс ReadinessChecker для readiness probe.
func (fs *FileStore) CheckReady() (status string, message string) {
	info, err := os.Stat(fs.workDir)
	if err != nil {
		return "fail", fmt.Sprintf("рабочая директория недоступна: %v", err)
	}
	if !info.IsDir() {
		return "fail", "рабочая директория не является директорией"
	}

	probe, err := os.CreateTemp(fs.workDir, ".ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("рабочая директория недоступна на запись: %v", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return "ok", ""
}
