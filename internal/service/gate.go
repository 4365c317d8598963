// gate.go — admission gate: ограничение числа одновременно выполняемых
// вызовов инструмента OCR.
//
// Реализован на golang.org/x/sync/semaphore: ожидающие получают слот
// в порядке FIFO. Ограничивается число выполняемых заданий, а не
// число ожидающих в очереди.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus-метрики admission gate.
var (
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "om_jobs_running",
		Help: "Количество выполняемых заданий OCR.",
	})
	jobsWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "om_jobs_waiting",
		Help: "Количество заданий, ожидающих слот обработки.",
	})
	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "om_admission_wait_seconds",
		Help:    "Время ожидания слота обработки.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 600},
	})
)

// Gate — счётный admission gate ёмкостью capacity.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	running  atomic.Int64
	waiting  atomic.Int64
}

// NewGate создаёт gate. capacity < 1 приводится к 1.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire блокируется до получения слота.
// timeout <= 0 — ожидание до отмены ctx.
//
// Ошибки:
//   - ErrAdmissionTimeout — слот не освободился за timeout
//   - ErrCanceled — ctx отменён во время ожидания
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) error {
	g.waiting.Add(1)
	jobsWaiting.Inc()
	defer func() {
		g.waiting.Add(-1)
		jobsWaiting.Dec()
	}()

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
		}
		return fmt.Errorf("%w: %v", ErrAdmissionTimeout, timeout)
	}
	admissionWaitSeconds.Observe(time.Since(start).Seconds())

	g.running.Add(1)
	jobsRunning.Inc()
	return nil
}

// Release освобождает слот. Вызывается ровно один раз на успешный Acquire.
func (g *Gate) Release() {
	g.running.Add(-1)
	jobsRunning.Dec()
	g.sem.Release(1)
}

// Running возвращает число занятых слотов.
func (g *Gate) Running() int {
	return int(g.running.Load())
}

// Waiting возвращает число ожидающих слот.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

// Capacity возвращает ёмкость gate.
func (g *Gate) Capacity() int {
	return g.capacity
}
