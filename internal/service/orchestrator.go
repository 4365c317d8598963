// orchestrator.go — оркестратор заданий OCR.
//
// Жизненный цикл задания:
//  1. Prepare: проверка языков, сохранение входного файла, запись received
//  2. Run: ожидание слота в Gate → processing → вызов инструмента → done | error
//
// Каждый переход сохраняется в БД (с ограниченным числом повторов) до
// возврата управления, после чего обновляется state-снимок на диске.
// Слот Gate освобождается всегда, в том числе при panic в инструменте.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/ocr"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/statefile"
)

// Prometheus метрики оркестратора
var (
	// jobsTotal — завершённые задания по конечному статусу.
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "om_jobs_total",
		Help: "Общее количество завершённых заданий OCR",
	}, []string{"status"})

	// jobDurationSeconds — время от начала обработки до конечного статуса.
	jobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "om_job_duration_seconds",
		Help:    "Длительность обработки задания OCR в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// admissionRejectedTotal — задания, не получившие слот.
	admissionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "om_admission_rejected_total",
		Help: "Количество заданий, не допущенных к обработке",
	}, []string{"reason"})

	// persistRetriesTotal — повторы сохранения переходов статуса.
	persistRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_persist_retries_total",
		Help: "Общее количество повторных попыток сохранения документа",
	})
)

// OrchestratorConfig — параметры оркестратора.
type OrchestratorConfig struct {
	// SupportedLanguages — допустимые коды языков
	SupportedLanguages []string
	// DefaultLanguages — языки, если запрос не указал ни одного
	DefaultLanguages []string
	// MaxUploadSize — максимальный размер входного файла (0 — без ограничения)
	MaxUploadSize int64
	// AdmissionTimeout — максимальное ожидание слота (0 — до отмены)
	AdmissionTimeout time.Duration
	// JobTimeout — таймаут инструмента на одно задание (0 — без таймаута)
	JobTimeout time.Duration
	// DocumentTTL — время жизни документа от создания
	DocumentTTL time.Duration
	// PersistRetries — число попыток сохранения перехода
	PersistRetries int
	// PersistRetryDelay — базовая пауза между попытками (растёт линейно)
	PersistRetryDelay time.Duration
}

// SubmitRequest — входные данные задания.
type SubmitRequest struct {
	// Input — содержимое входного файла
	Input io.Reader
	// FileName — отображаемое имя (может быть пустым)
	FileName string
	// Languages — запрошенные языки (пусто — языки по умолчанию)
	Languages []string
	// Submitter — аутентифицированный субъект запроса (для журнала)
	Submitter string
}

// job — задание, зарегистрированное в оркестраторе (от Prepare до конца Run).
type job struct {
	doc    *model.Document
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Orchestrator — оркестратор заданий OCR.
type Orchestrator struct {
	repo      repository.DocumentRepository
	store     *filestore.FileStore
	invoker   ocr.Invoker
	gate      *Gate
	cache     *CacheService
	validator InputValidator
	cfg       OrchestratorConfig
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*job
	closed bool
	wg     sync.WaitGroup

	// baseCtx — родитель контекстов всех заданий; отменяется при Shutdown
	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
}

// NewOrchestrator создаёт оркестратор. validator и cache могут быть nil.
func NewOrchestrator(
	repo repository.DocumentRepository,
	store *filestore.FileStore,
	invoker ocr.Invoker,
	gate *Gate,
	cache *CacheService,
	validator InputValidator,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.PersistRetries < 1 {
		cfg.PersistRetries = 1
	}
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		repo:       repo,
		store:      store,
		invoker:    invoker,
		gate:       gate,
		cache:      cache,
		validator:  validator,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
		now:        time.Now,
		active:     make(map[string]*job),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// --- Приём задания ---

// Prepare проверяет запрос, сохраняет входной файл и создаёт запись received.
// Возвращает копию документа. После успешного Prepare вызывающий код обязан
// вызвать Run для этого документа.
//
// Ошибки валидации (язык, пустой файл, превышение размера)
// возвращаются как ErrValidation до создания записи.
func (o *Orchestrator) Prepare(ctx context.Context, req SubmitRequest) (*model.Document, error) {
	if req.Input == nil {
		return nil, fmt.Errorf("%w: входной файл не передан", ErrValidation)
	}

	requested := req.Languages
	if len(requested) == 0 {
		requested = o.cfg.DefaultLanguages
	}
	langs, err := ocr.ValidateLanguages(requested, o.cfg.SupportedLanguages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := o.now().UTC()
	doc := &model.Document{
		DocumentID: uuid.New().String(),
		Languages:  langs,
		Status:     model.StatusReceived,
		CreatedAt:  now,
		ExpiresAt:  now.Add(o.cfg.DocumentTTL),
	}
	paths := o.store.PathsFor(doc.DocumentID, doc.ExpiresAt, req.FileName)
	doc.InputPath = paths.Input
	doc.OutputPath = paths.Output
	doc.TextPath = paths.Text
	doc.StatePath = paths.State
	if name := displayName(req.FileName); name != "" {
		doc.FileName = &name
	}

	saved, err := o.store.SaveInput(req.Input, paths.Input, o.cfg.MaxUploadSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, fmt.Errorf("сохранение входного файла: %w", err)
	}
	if saved.Size == 0 {
		o.removeFiles(doc)
		return nil, fmt.Errorf("%w: входной файл пуст", ErrValidation)
	}

	if o.validator != nil {
		pages, err := o.validator.Validate(paths.Input)
		if err != nil {
			o.removeFiles(doc)
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		doc.PageCount = pages
	}

	if err := o.register(doc); err != nil {
		o.removeFiles(doc)
		return nil, err
	}

	if err := o.persist(ctx, doc, func(ctx context.Context) error {
		return o.repo.Insert(ctx, doc)
	}); err != nil {
		o.unregister(doc.DocumentID)
		o.removeFiles(doc)
		return nil, err
	}
	o.snapshot(doc)

	o.logger.Info("Документ принят",
		slog.String("document_id", doc.DocumentID),
		slog.String("languages", strings.Join(doc.Languages, "+")),
		slog.String("submitted_by", req.Submitter),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
	)
	return doc.Clone(), nil
}

// --- Обработка ---

// Run ожидает слот и доводит документ до конечного статуса.
// Отмена ctx отменяет задание: до получения слота запись удаляется,
// во время обработки инструмент останавливается и документ переходит в error.
//
// Возвращает копию документа в конечном статусе.
// Ошибки: ErrNotActive, ErrAdmissionTimeout, ErrCanceled, ErrPersist.
func (o *Orchestrator) Run(ctx context.Context, documentID string) (*model.Document, error) {
	j := o.lookup(documentID)
	if j == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, documentID)
	}
	defer o.unregister(documentID)

	stop := context.AfterFunc(ctx, func() { j.cancel(ErrCanceled) })
	defer stop()

	doc := j.doc
	log := o.logger.With(slog.String("document_id", doc.DocumentID))

	if err := o.gate.Acquire(j.ctx, o.cfg.AdmissionTimeout); err != nil {
		reason := "timeout"
		if errors.Is(err, ErrCanceled) {
			reason = "canceled"
		}
		admissionRejectedTotal.WithLabelValues(reason).Inc()
		log.Warn("Задание не допущено к обработке",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		o.discard(doc, log)
		return nil, err
	}
	defer o.gate.Release()

	if err := lifecycle.StartProcessing(doc, o.now().UTC()); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, doc, func(ctx context.Context) error {
		return o.repo.Update(ctx, doc)
	}); err != nil {
		log.Error("Не удалось сохранить начало обработки", slog.String("error", err.Error()))
		o.discard(doc, log)
		return nil, err
	}
	o.snapshot(doc)
	log.Info("Обработка начата", slog.String("languages", strings.Join(doc.Languages, "+")))

	res, runErr := o.invoke(j.ctx, doc)
	o.finish(j.ctx, doc, res, runErr, log)

	if err := o.persist(ctx, doc, func(ctx context.Context) error {
		return o.repo.Update(ctx, doc)
	}); err != nil {
		log.Error("Не удалось сохранить результат обработки",
			slog.String("status", string(doc.Status)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	o.snapshot(doc)
	o.invalidate(doc.DocumentID)

	jobsTotal.WithLabelValues(string(doc.Status)).Inc()
	if doc.ProcessingAt != nil && doc.FinishedAt != nil {
		jobDurationSeconds.Observe(doc.FinishedAt.Sub(*doc.ProcessingAt).Seconds())
	}
	return doc.Clone(), nil
}

// Submit — синхронный режим: Prepare + Run в вызывающей горутине.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.Document, error) {
	doc, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, doc.DocumentID)
}

// SubmitAsync — асинхронный режим: Prepare в вызывающей горутине,
// Run в фоне. Возвращает документ в статусе received.
// Фоновое задание не зависит от ctx вызывающего кода.
func (o *Orchestrator) SubmitAsync(ctx context.Context, req SubmitRequest) (*model.Document, error) {
	doc, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, err := o.Run(context.Background(), doc.DocumentID); err != nil {
			o.logger.Warn("Фоновое задание завершено с ошибкой",
				slog.String("document_id", doc.DocumentID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return doc, nil
}

// invoke вызывает инструмент с таймаутом задания. panic инструмента
// и пустой результат без ошибки превращаются в ошибку запуска.
func (o *Orchestrator) invoke(ctx context.Context, doc *model.Document) (res *ocr.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: panic: %v", ocr.ErrLaunch, r)
		}
	}()

	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}

	res, err = o.invoker.Invoke(ctx, ocr.Request{
		InputPath:  doc.InputPath,
		OutputPath: doc.OutputPath,
		TextPath:   doc.TextPath,
		Languages:  doc.Languages,
	})
	if err == nil && res == nil {
		err = fmt.Errorf("%w: инструмент не вернул результат", ocr.ErrLaunch)
	}
	return res, err
}

// finish переводит документ в конечный статус по результату инструмента.
// jobCtx нужен для различения причины отмены (клиент или остановка сервиса).
func (o *Orchestrator) finish(jobCtx context.Context, doc *model.Document, res *ocr.Result, runErr error, log *slog.Logger) {
	text := o.collectText(doc, log)
	now := o.now().UTC()

	output := ""
	if res != nil {
		output = res.Output
	}

	var err error
	switch {
	case runErr == nil && res.ExitCode == 0:
		err = lifecycle.Complete(doc, now, output, text)
		log.Info("Обработка завершена",
			slog.Int("exit_code", 0),
			slog.Duration("duration", res.Duration),
			slog.Int("text_length", len(text)),
		)

	case runErr == nil:
		err = lifecycle.Fail(doc, now, res.ExitCode, output, text)
		log.Warn("Инструмент OCR завершился с ошибкой",
			slog.Int("exit_code", res.ExitCode),
			slog.Duration("duration", res.Duration),
		)

	case errors.Is(runErr, ocr.ErrTimeout):
		err = lifecycle.Fail(doc, now, model.CodeTimeout, joinDiagnostic(runErr, output), text)
		log.Warn("Превышен таймаут задания", slog.String("error", runErr.Error()))

	case errors.Is(runErr, context.Canceled):
		code := model.CodeCanceled
		if errors.Is(context.Cause(jobCtx), ErrShutdown) {
			code = model.CodeInterrupted
		}
		err = lifecycle.Fail(doc, now, code, joinDiagnostic(runErr, output), text)
		log.Warn("Обработка отменена", slog.Int("exit_code", code))

	default:
		err = lifecycle.Fail(doc, now, model.CodeLaunchFailed, joinDiagnostic(runErr, output), text)
		log.Error("Не удалось запустить инструмент OCR", slog.String("error", runErr.Error()))
	}

	if err != nil {
		// Документ в processing принадлежит этому заданию, переход всегда допустим
		log.Error("Недопустимый переход статуса", slog.String("error", err.Error()))
	}
}

// collectText читает sidecar-файл. Если инструмент его не создал,
// записывает пустой файл, чтобы после конечного статуса он существовал всегда.
func (o *Orchestrator) collectText(doc *model.Document, log *slog.Logger) string {
	text, ok, err := o.store.ReadText(doc.TextPath)
	if err != nil {
		log.Warn("Не удалось прочитать извлечённый текст", slog.String("error", err.Error()))
	}
	if !ok {
		if err := o.store.WriteText(doc.TextPath, text); err != nil {
			log.Warn("Не удалось создать файл текста", slog.String("error", err.Error()))
		}
	}
	return text
}

// --- Отмена и остановка ---

// Cancel отменяет задание. Возвращает ErrNotActive, если задание не выполняется.
func (o *Orchestrator) Cancel(documentID string) error {
	j := o.lookup(documentID)
	if j == nil {
		return fmt.Errorf("%w: %s", ErrNotActive, documentID)
	}
	j.cancel(ErrCanceled)
	o.logger.Info("Задание отменено", slog.String("document_id", documentID))
	return nil
}

// IsActive сообщает, выполняется ли задание (от Prepare до конца Run).
func (o *Orchestrator) IsActive(documentID string) bool {
	return o.lookup(documentID) != nil
}

// ActiveCount возвращает число активных заданий.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Wait ждёт завершения всех активных заданий или отмены ctx.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown прекращает приём заданий и ждёт активные. По истечении ctx
// оставшиеся задания прерываются и завершаются с CodeInterrupted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	remaining := len(o.active)
	o.mu.Unlock()

	o.logger.Info("Остановка оркестратора", slog.Int("active_jobs", remaining))

	if err := o.Wait(ctx); err == nil {
		o.baseCancel(ErrShutdown)
		return nil
	}

	o.baseCancel(ErrShutdown)
	o.logger.Warn("Таймаут ожидания заданий, задания прерываются",
		slog.Int("active_jobs", o.ActiveCount()),
	)
	// Прерванным заданиям нужно сохранить конечный статус
	o.wg.Wait()
	return fmt.Errorf("задания прерваны при остановке: %w", ctx.Err())
}

// --- Вспомогательные ---

// register добавляет задание в таблицу активных.
func (o *Orchestrator) register(doc *model.Document) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShutdown
	}
	ctx, cancel := context.WithCancelCause(o.baseCtx)
	o.active[doc.DocumentID] = &job{doc: doc, ctx: ctx, cancel: cancel}
	o.wg.Add(1)
	return nil
}

// unregister удаляет задание из таблицы активных.
func (o *Orchestrator) unregister(documentID string) {
	o.mu.Lock()
	j, ok := o.active[documentID]
	if ok {
		delete(o.active, documentID)
	}
	o.mu.Unlock()

	if ok {
		j.cancel(nil)
		o.wg.Done()
	}
}

func (o *Orchestrator) lookup(documentID string) *job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[documentID]
}

// persist выполняет запись в БД с ограниченным числом повторов.
// Отмена ctx вызывающего кода не прерывает сохранение перехода.
// ErrConflict и ErrNotFound не повторяются.
func (o *Orchestrator) persist(ctx context.Context, doc *model.Document, op func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= o.cfg.PersistRetries; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			break
		}
		if attempt < o.cfg.PersistRetries {
			persistRetriesTotal.Inc()
			o.logger.Warn("Ошибка сохранения документа, повтор",
				slog.String("document_id", doc.DocumentID),
				slog.String("status", string(doc.Status)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			time.Sleep(o.cfg.PersistRetryDelay * time.Duration(attempt))
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPersist, doc.DocumentID, err)
}

// snapshot записывает state-снимок. Ошибка не фатальна: источник истины — БД.
func (o *Orchestrator) snapshot(doc *model.Document) {
	if err := statefile.Write(doc.StatePath, doc); err != nil {
		o.logger.Warn("Не удалось записать снимок документа",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
	}
}

// discard удаляет задание, не получившее слот: файлы, затем запись.
func (o *Orchestrator) discard(doc *model.Document, log *slog.Logger) {
	o.removeFiles(doc)
	err := o.repo.Delete(context.Background(), doc.DocumentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Error("Не удалось удалить запись задания", slog.String("error", err.Error()))
	}
	o.invalidate(doc.DocumentID)
}

func (o *Orchestrator) removeFiles(doc *model.Document) {
	if err := o.store.DeleteAll(doc.Files()...); err != nil {
		o.logger.Warn("Не удалось удалить файлы задания",
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) invalidate(documentID string) {
	if o.cache != nil {
		o.cache.Delete(documentID)
	}
}

// displayName — имя файла без пути клиента.
func displayName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// joinDiagnostic объединяет ошибку и вывод инструмента.
func joinDiagnostic(err error, output string) string {
	if output == "" {
		return err.Error()
	}
	return err.Error() + "\n" + output
}
