// search.go — сервис поиска по индексу архива.
// Координирует индекс, LRU-кэш sidecar-файлов и Prometheus-метрики.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
)

// Prometheus-метрики поиска.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_search_total",
		Help: "Общее количество поисковых запросов.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oa_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// Ограничения пагинации.
const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 1000
)

// SearchParams — параметры поиска.
type SearchParams struct {
	// Text — свободный текст; пустой вместе с Filters — все активы
	Text    string         `json:"text,omitempty"`
	Filters []index.Filter `json:"filters,omitempty"`
	// SortBy и SortOrder ("asc"/"desc") — для запросов без текста
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	// WithMetadata — перечитать custom_metadata из sidecar-файла
	WithMetadata bool `json:"with_metadata,omitempty"`
}

// SearchItem — найденный актив.
type SearchItem struct {
	*index.Record
	// SidecarError — sidecar-файл не прочитан, показаны данные индекса
	SidecarError string `json:"sidecar_error,omitempty"`
}

// SearchResult — результат поиска с пагинацией.
type SearchResult struct {
	Items   []SearchItem `json:"items"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}

// SearchService — сервис поиска активов.
type SearchService struct {
	arc      *archive.Archive
	cache    *CacheService
	maxLimit int
	logger   *slog.Logger
}

// NewSearchService создаёт сервис поиска.
// maxLimit <= 0 — используется MaxSearchLimit.
func NewSearchService(arc *archive.Archive, cache *CacheService, maxLimit int, logger *slog.Logger) *SearchService {
	if maxLimit <= 0 {
		maxLimit = MaxSearchLimit
	}
	return &SearchService{
		arc:      arc,
		cache:    cache,
		maxLimit: maxLimit,
		logger:   logger.With(slog.String("component", "search_service")),
	}
}

// Search выполняет поиск. Предикаты объединяются через AND.
// Текстовые запросы упорядочены по релевантности, остальные —
// по SortBy; при равенстве — по asset_id.
func (s *SearchService) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if params.Offset < 0 {
		return nil, fmt.Errorf("%w: offset не может быть отрицательным", model.ErrInvalidQuery)
	}

	var desc bool
	switch strings.ToLower(params.SortOrder) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("%w: sort_order должен быть asc или desc", model.ErrInvalidQuery)
	}

	page, err := s.arc.Index.Query(ctx, index.Query{
		Text:     params.Text,
		Filters:  params.Filters,
		SortBy:   params.SortBy,
		SortDesc: desc,
		Limit:    limit,
		Offset:   params.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("поиск активов: %w", err)
	}

	items := make([]SearchItem, 0, len(page.Records))
	for _, rec := range page.Records {
		item := SearchItem{Record: rec}
		if params.WithMetadata {
			if meta, err := s.sidecarFor(rec); err != nil {
				item.SidecarError = err.Error()
			} else {
				rec.CustomMetadata = meta.CustomMetadata
			}
		}
		items = append(items, item)
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.String("text", params.Text),
		slog.Int("filters", len(params.Filters)),
		slog.Int("total", page.Total),
		slog.Int("returned", len(items)),
		slog.Duration("duration", duration),
	)

	return &SearchResult{
		Items:   items,
		Total:   page.Total,
		Limit:   limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(items) < page.Total,
	}, nil
}

// sidecarFor читает sidecar-файл записи через кэш.
func (s *SearchService) sidecarFor(rec *index.Record) (*model.AssetMetadata, error) {
	if meta, ok := s.cache.Get(rec.AssetID, rec.UpdatedAt); ok {
		return meta, nil
	}
	meta, err := s.arc.ReadSidecar(rec.ArchivePath)
	if err != nil {
		return nil, err
	}
	if meta.AssetID != rec.AssetID {
		return nil, fmt.Errorf("sidecar %s принадлежит другому активу (%s)", rec.ArchivePath, meta.AssetID)
	}
	s.cache.Set(meta)
	return meta, nil
}

// ByChecksum возвращает активы с заданным SHA-256 в порядке asset_id.
func (s *SearchService) ByChecksum(ctx context.Context, sum string) ([]*index.Record, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if !model.ValidChecksum(sum) {
		return nil, fmt.Errorf("%w: некорректный SHA-256 %q", model.ErrInvalidQuery, sum)
	}
	searchTotal.Inc()
	records, err := s.arc.Index.ByChecksum(ctx, sum)
	if err != nil {
		return nil, fmt.Errorf("поиск по checksum: %w", err)
	}
	return records, nil
}

// GetAsset возвращает метаданные актива из sidecar-файла.
func (s *SearchService) GetAsset(ctx context.Context, assetID string) (*model.AssetMetadata, error) {
	return s.arc.Lookup(ctx, assetID)
}

// All возвращает все записи, удовлетворяющие запросу, постранично
// обходя индекс. Используется экспортом.
func (s *SearchService) All(ctx context.Context, params SearchParams) ([]*index.Record, error) {
	var out []*index.Record
	params.Offset = 0
	params.Limit = s.maxLimit
	params.WithMetadata = false
	for {
		res, err := s.Search(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, item := range res.Items {
			out = append(out, item.Record)
		}
		if !res.HasMore || len(res.Items) == 0 {
			return out, nil
		}
		params.Offset += len(res.Items)
	}
}

// Duplicates возвращает группы активов с одинаковым содержимым.
func (s *SearchService) Duplicates(ctx context.Context) ([]index.DuplicateGroup, error) {
	return s.arc.Index.Duplicates(ctx)
}

// Statistics возвращает статистику индекса.
func (s *SearchService) Statistics(ctx context.Context) (*index.Statistics, error) {
	return s.arc.Index.Stats(ctx)
}

// FieldUsage возвращает частоту использования ключей custom_metadata.
func (s *SearchService) FieldUsage(ctx context.Context) ([]index.FieldUsage, error) {
	return s.arc.Index.FieldUsage(ctx)
}

// InvalidateCache очищает кэш sidecar-файлов.
func (s *SearchService) InvalidateCache() {
	s.cache.Purge()
}
