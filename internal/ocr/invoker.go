// Пакет ocr — вызов внешнего инструмента OCR (ocrmypdf).
//
// Инструмент запускается как отдельный процесс без shell:
//
//	<tool> <options...> -l eng+vie --sidecar <text> <input> <output>
//
// Ненулевой код завершения — штатный результат, а не ошибка:
// Invoke возвращает Result с кодом и диагностикой. Ошибкой считается
// только невозможность запуска (ErrLaunch), таймаут (ErrTimeout)
// и отмена (context.Canceled).
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrLaunch — инструмент не удалось запустить (нет файла, нет прав)
	ErrLaunch = errors.New("не удалось запустить инструмент OCR")
	// ErrTimeout — превышено время выполнения задания
	ErrTimeout = errors.New("превышен таймаут инструмента OCR")
)

// waitDelay — сколько ждать закрытия stdout/stderr после завершения
// процесса по контексту (дочерние процессы могут держать pipe).
const waitDelay = 5 * time.Second

// Request — параметры одного вызова.
type Request struct {
	// InputPath — входной файл
	InputPath string
	// OutputPath — результирующий PDF
	OutputPath string
	// TextPath — файл для извлечённого текста (--sidecar)
	TextPath string
	// Languages — непустой список проверенных тегов языков
	Languages []string
}

// Result — результат выполнения инструмента.
type Result struct {
	// ExitCode — код завершения процесса (0 — успех)
	ExitCode int
	// Output — объединённый stdout+stderr, обрезанный по краям
	Output string
	// Duration — время выполнения процесса
	Duration time.Duration
}

// Invoker — интерфейс вызова OCR. Реализация блокирующая.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// CommandInvoker — вызов внешнего инструмента через exec.CommandContext.
type CommandInvoker struct {
	toolPath string
	options  []string
	logger   *slog.Logger
}

// NewCommandInvoker создаёт вызов инструмента.
// options — строка дополнительных флагов, разделённых пробелами.
func NewCommandInvoker(toolPath, options string, logger *slog.Logger) *CommandInvoker {
	return &CommandInvoker{
		toolPath: toolPath,
		options:  strings.Fields(options),
		logger:   logger.With(slog.String("component", "ocr_invoker")),
	}
}

// ToolPath возвращает путь к инструменту.
func (i *CommandInvoker) ToolPath() string {
	return i.toolPath
}

// Args формирует аргументы командной строки для запроса.
func (i *CommandInvoker) Args(req Request) []string {
	args := make([]string, 0, len(i.options)+6)
	args = append(args, i.options...)
	args = append(args,
		"-l", languageArg(req.Languages),
		"--sidecar", req.TextPath,
		req.InputPath,
		req.OutputPath,
	)
	return args
}

// Invoke запускает инструмент и ждёт завершения.
func (i *CommandInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if len(req.Languages) == 0 {
		return nil, fmt.Errorf("не указан ни один язык")
	}

	cmd := exec.CommandContext(ctx, i.toolPath, i.Args(req)...)
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	i.logger.Debug("Запуск инструмента OCR",
		slog.String("tool", i.toolPath),
		slog.String("input", req.InputPath),
		slog.String("languages", languageArg(req.Languages)),
	)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	output := strings.TrimSpace(strings.ToValidUTF8(out.String(), "�"))

	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{ExitCode: -1, Output: output, Duration: duration},
				fmt.Errorf("%w: %v", ErrTimeout, duration.Round(time.Millisecond))
		}
		return &Result{ExitCode: -1, Output: output, Duration: duration},
			fmt.Errorf("инструмент OCR остановлен: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Result{ExitCode: exitErr.ExitCode(), Output: output, Duration: duration}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, i.toolPath, err)
	}

	return &Result{ExitCode: 0, Output: output, Duration: duration}, nil
}

// Version возвращает вывод `<tool> --version`.
func (i *CommandInvoker) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, i.toolPath, "--version").CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("инструмент OCR завершился с кодом %d", exitErr.ExitCode())
		}
		return "", fmt.Errorf("%w: %s: %v", ErrLaunch, i.toolPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}
