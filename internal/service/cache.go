// cache.go — LRU-кэш прочитанных sidecar-файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_sidecar_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш sidecar-файлов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_sidecar_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша sidecar-файлов.",
	})
)

// Параметры кэша по умолчанию.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// CacheService — LRU-кэш метаданных из sidecar-файлов.
// Ключ включает updated_at записи индекса, поэтому изменённый
// sidecar-файл после переиндексации читается заново.
type CacheService struct {
	cache *expirable.LRU[string, *model.AssetMetadata]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	cache := expirable.NewLRU[string, *model.AssetMetadata](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

func cacheKey(assetID string, updatedAt time.Time) string {
	return assetID + "@" + updatedAt.UTC().Format(time.RFC3339Nano)
}

// Get возвращает метаданные из кэша.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(assetID string, updatedAt time.Time) (*model.AssetMetadata, bool) {
	val, ok := c.cache.Get(cacheKey(assetID, updatedAt))
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(meta *model.AssetMetadata) {
	c.cache.Add(cacheKey(meta.AssetID, meta.UpdatedAt), meta)
}

// Purge очищает кэш (после перестроения индекса).
func (c *CacheService) Purge() {
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
