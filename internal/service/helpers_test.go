package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ocr-module/internal/ocr"
	"github.com/bigkaa/goartstore/ocr-module/internal/repository"
	"github.com/bigkaa/goartstore/ocr-module/internal/storage/filestore"
)

// --- Общие помощники ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupStore(t *testing.T) *filestore.FileStore {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	return store
}

// testClock — часы, сдвигающиеся на секунду при каждом вызове.
type testClock struct {
	mu   sync.Mutex
	base time.Time
}

func newTestClock() *testClock {
	return &testClock{base: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = c.base.Add(time.Second)
	return c.base
}

// --- In-memory repository ---

// memRepo — DocumentRepository в памяти. Хранит и отдаёт копии.
// failUpdates — число первых вызовов Update, завершающихся ошибкой.
type memRepo struct {
	mu          sync.Mutex
	docs        map[string]*model.Document
	failUpdates int
	updates     int
	deleteFn    func(documentID string) error
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[string]*model.Document)}
}

var errStoreDown = errors.New("хранилище недоступно")

func (r *memRepo) Insert(_ context.Context, d *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.DocumentID]; ok {
		return repository.ErrConflict
	}
	r.docs[d.DocumentID] = d.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, documentID string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *memRepo) List(_ context.Context, filters repository.DocumentFilters, limit, offset int) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Document
	for _, d := range r.docs {
		if filters.Status != nil && d.Status != *filters.Status {
			continue
		}
		c := d.Clone()
		c.TextContent = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Count(_ context.Context, filters repository.DocumentFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.docs {
		if filters.Status == nil || d.Status == *filters.Status {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Update(_ context.Context, d *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.failUpdates > 0 {
		r.failUpdates--
		return errStoreDown
	}
	if _, ok := r.docs[d.DocumentID]; !ok {
		return repository.ErrNotFound
	}
	r.docs[d.DocumentID] = d.Clone()
	return nil
}

func (r *memRepo) Delete(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteFn != nil {
		if err := r.deleteFn(documentID); err != nil {
			return err
		}
	}
	if _, ok := r.docs[documentID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.docs, documentID)
	return nil
}

func (r *memRepo) ListExpired(_ context.Context, now time.Time) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Document
	for _, d := range r.docs {
		if d.IsExpired(now) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) ListWithText(_ context.Context) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Document
	for _, d := range r.docs {
		if d.IsTerminal() && d.HasText() {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) ReloadAll(_ context.Context) (map[string]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*model.Document, len(r.docs))
	for id, d := range r.docs {
		out[id] = d.Clone()
	}
	return out, nil
}

func (r *memRepo) get(t *testing.T, documentID string) *model.Document {
	t.Helper()
	d, err := r.GetByID(context.Background(), documentID)
	if err != nil {
		t.Fatalf("документ %s не найден в хранилище: %v", documentID, err)
	}
	return d
}

func (r *memRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// --- Scripted invoker ---

// fakeInvoker — сценарный инструмент OCR. Пишет text в sidecar и
// output в результирующий файл, учитывает отмену ctx.
type fakeInvoker struct {
	delay    time.Duration
	exitCode int
	output   string
	text     string
	err      error
	panicMsg string
	// block — если задан, Invoke ждёт закрытия канала (или отмены ctx)
	block chan struct{}
	// started — получает сигнал при входе в Invoke
	started chan string

	calls      atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (f *fakeInvoker) Invoke(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxRunning.Load()
		if n <= m || f.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- req.InputPath
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	var wait <-chan time.Time
	if f.delay > 0 {
		wait = time.After(f.delay)
	}
	if f.block != nil || wait != nil {
		select {
		case <-f.block:
		case <-wait:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &ocr.Result{ExitCode: -1}, fmt.Errorf("%w: fake", ocr.ErrTimeout)
			}
			return &ocr.Result{ExitCode: -1}, fmt.Errorf("остановлен: %w", ctx.Err())
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	if f.text != "" {
		if err := os.WriteFile(req.TextPath, []byte(f.text), 0o640); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(req.OutputPath, []byte("%PDF-1.4 fake"), 0o640); err != nil {
		return nil, err
	}
	return &ocr.Result{ExitCode: f.exitCode, Output: f.output, Duration: f.delay}, nil
}

// input — тело загружаемого файла.
func input(s string) io.Reader {
	return strings.NewReader(s)
}

// defaultOrchestratorConfig — конфигурация для тестов.
func defaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SupportedLanguages: []string{"eng", "vie"},
		DefaultLanguages:   []string{"eng"},
		MaxUploadSize:      1 << 20,
		DocumentTTL:        time.Hour,
		PersistRetries:     3,
		PersistRetryDelay:  time.Millisecond,
	}
}

// newTestOrchestrator собирает оркестратор на memRepo и fakeInvoker.
func newTestOrchestrator(t *testing.T, capacity int, inv ocr.Invoker, cfg OrchestratorConfig) (*Orchestrator, *memRepo, *filestore.FileStore) {
	t.Helper()
	repo := newMemRepo()
	store := setupStore(t)
	o := NewOrchestrator(repo, store, inv, NewGate(capacity), NewCacheService(100, time.Minute), nil, cfg, testLogger())
	o.now = newTestClock().Now
	return o, repo, store
}
