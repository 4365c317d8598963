// Пакет service — бизнес-логика OCR Module.
// CacheService — LRU-кэш метаданных документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "om_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш документов в конечном статусе.
// Записи в received/processing не кэшируются: они меняются.
// Хранит копии, наружу также отдаёт копии.
type CacheService struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает документ из кэша.
// Возвращает (копия, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(documentID string) (*model.Document, bool) {
	val, ok := c.cache.Get(documentID)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет документ в кэш, если он в конечном статусе.
func (c *CacheService) Set(doc *model.Document) {
	if !doc.IsTerminal() {
		return
	}
	c.cache.Add(doc.DocumentID, doc.Clone())
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(documentID string) {
	c.cache.Remove(documentID)
}

// Len возвращает число записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
