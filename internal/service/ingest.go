// Пакет service — операции архивного движка: приём файлов, поиск,
// проверка целостности, экспорт и управление профилями.
// ingest.go — сервис приёма файлов в архив.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/filestore"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// Prometheus метрики приёма файлов
var (
	// ingestTotal — количество принятых файлов по результату.
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oa_ingest_total",
		Help: "Количество операций приёма файлов по результату",
	}, []string{"result"})

	// ingestBytesTotal — объём принятых данных.
	ingestBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_ingest_bytes_total",
		Help: "Общий объём принятых файлов в байтах",
	})

	// ingestIndexFailuresTotal — сбои обновления индекса после записи sidecar.
	ingestIndexFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_ingest_index_failures_total",
		Help: "Количество сбоев обновления индекса после успешного приёма",
	})
)

// DefaultIngestWorkers — число параллельных обработчиков пакета по умолчанию.
const DefaultIngestWorkers = 4

// IngestParams — параметры приёма одного файла.
type IngestParams struct {
	// SourcePath — путь к исходному файлу
	SourcePath string
	// ProfileID — профиль метаданных (опционально)
	ProfileID string
	// Metadata — начальные пользовательские метаданные
	Metadata map[string]any
	// TargetSubdir — каталог внутри assets/ вместо схемы раскладки
	TargetSubdir string
}

// IngestResult — результат приёма файла.
type IngestResult struct {
	Asset *model.AssetMetadata
	// IndexErr — ошибка обновления индекса. Актив при этом принят
	// и будет восстановлен при перестроении индекса.
	IndexErr error
}

// IngestService — сервис приёма файлов.
type IngestService struct {
	arc    *archive.Archive
	logger *slog.Logger
	now    func() time.Time
}

// NewIngestService создаёт сервис приёма файлов.
func NewIngestService(arc *archive.Archive, logger *slog.Logger) *IngestService {
	return &IngestService{
		arc:    arc,
		logger: logger.With(slog.String("component", "ingest_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ingest принимает один файл в архив.
//
// Поток:
//  1. Проверка источника, профиля и метаданных (без побочных эффектов)
//  2. Выбор каталога по схеме раскладки
//  3. Копирование + SHA-256 сохранённой копии
//  4. Запись sidecar-файла (точка фиксации)
//  5. Обновление индекса (ошибка не отменяет приём)
//
// Ошибка на шагах 3–4 удаляет скопированный файл.
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	res, err := s.ingest(ctx, params)
	if err != nil {
		ingestTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	ingestTotal.WithLabelValues("ok").Inc()
	ingestBytesTotal.Add(float64(res.Asset.FileSize))
	return res, nil
}

func (s *IngestService) ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	// 1. Проверка источника
	info, err := os.Stat(params.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, params.SourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", model.ErrNotRegularFile, params.SourcePath)
	}
	f, err := os.Open(params.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, params.SourcePath, err)
	}
	f.Close()

	// Профиль и метаданные
	custom, err := s.resolveMetadata(params.ProfileID, params.Metadata)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. Каталог и имя по схеме раскладки
	now := s.now()
	cfg := s.arc.Config()
	mimeType, err := filestore.DetectContentType(params.SourcePath)
	if err != nil {
		return nil, err
	}
	baseName := filepath.Base(params.SourcePath)
	relDir := params.TargetSubdir
	if relDir == "" {
		relDir = filestore.DestinationDir(cfg.Organization, now, mimeType, baseName)
	}
	storedName := filestore.StoredName(cfg.Organization, baseName)

	// 3. Копирование и checksum копии
	placed, err := s.arc.Files.Place(params.SourcePath, relDir, storedName)
	if err != nil {
		s.logger.Error("Ошибка копирования файла",
			slog.String("source", params.SourcePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ошибка копирования %s: %w", params.SourcePath, err)
	}

	originalPath := params.SourcePath
	if abs, err := filepath.Abs(params.SourcePath); err == nil {
		originalPath = abs
	}

	meta := &model.AssetMetadata{
		AssetID:        uuid.New().String(),
		OriginalPath:   originalPath,
		ArchivePath:    placed.ArchivePath,
		FileSize:       placed.Size,
		MimeType:       mimeType,
		ChecksumSHA256: placed.Checksum,
		ProfileID:      model.StringPtr(params.ProfileID),
		CustomMetadata: custom,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 4. sidecar — точка фиксации
	if err := sidecar.Write(sidecar.Path(placed.FullPath), meta); err != nil {
		_ = s.arc.Files.Remove(placed.ArchivePath)
		s.logger.Error("Ошибка записи sidecar-файла",
			slog.String("archive_path", placed.ArchivePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ошибка записи метаданных %s: %w", placed.ArchivePath, err)
	}

	result := &IngestResult{Asset: meta}

	// 5. Индекс
	if err := s.arc.Index.Upsert(ctx, meta); err != nil {
		result.IndexErr = err
		ingestIndexFailuresTotal.Inc()
		s.logger.Warn("Актив принят, но индекс не обновлён; требуется перестроение",
			slog.String("asset_id", meta.AssetID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Файл принят",
		slog.String("asset_id", meta.AssetID),
		slog.String("archive_path", meta.ArchivePath),
		slog.Int64("size", meta.FileSize),
		slog.String("checksum", meta.ChecksumSHA256),
	)
	return result, nil
}

// resolveMetadata проверяет профиль и метаданные.
// Без профиля метаданные сохраняются как есть.
func (s *IngestService) resolveMetadata(profileID string, custom map[string]any) (map[string]any, error) {
	if profileID == "" {
		out := make(map[string]any, len(custom))
		for k, v := range custom {
			out[k] = v
		}
		return out, nil
	}

	profile, err := s.arc.Profiles.Get(profileID)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownProfile, profileID)
		}
		return nil, err
	}
	typed, err := profile.ValidateMetadata(custom)
	if err != nil {
		return nil, err
	}
	return typed.Map(), nil
}

// BatchParams — параметры пакетного приёма каталога.
type BatchParams struct {
	// Dir — исходный каталог
	Dir string
	// Recursive — обходить подкаталоги
	Recursive bool
	// ProfileID и Metadata применяются ко всем файлам
	ProfileID string
	Metadata  map[string]any
	// Workers — число параллельных обработчиков
	Workers int
	// PreserveStructure — сохранять относительные пути вместо схемы раскладки
	PreserveStructure bool
	// Progress вызывается после каждого файла в горутине обработчика
	Progress func(item BatchItem, done, total int)
}

// BatchItem — результат обработки одного файла пакета.
type BatchItem struct {
	SourcePath  string `json:"source_path"`
	AssetID     string `json:"asset_id,omitempty"`
	ArchivePath string `json:"archive_path,omitempty"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
	// IndexError — актив принят, но индекс не обновлён
	IndexError string `json:"index_error,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

// OK возвращает true для успешно принятого файла.
func (i BatchItem) OK() bool {
	return i.Err == nil && !i.Cancelled
}

// BatchResult — итог пакетного приёма.
type BatchResult struct {
	Items     []BatchItem   `json:"items"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// IngestDirectory принимает все файлы каталога. Ошибка одного файла
// не прерывает пакет; результат содержит исход по каждому файлу
// в порядке обхода. Отмена проверяется перед каждым файлом.
func (s *IngestService) IngestDirectory(ctx context.Context, params BatchParams) (*BatchResult, error) {
	start := time.Now()

	files, err := collectFiles(params.Dir, params.Recursive)
	if err != nil {
		return nil, err
	}

	workers := params.Workers
	if workers <= 0 {
		workers = DefaultIngestWorkers
	}

	result := &BatchResult{Items: make([]BatchItem, len(files)), Total: len(files)}
	var (
		done       atomic.Int64
		progressMu sync.Mutex
	)

	// Контекст группы не используется: ошибки файлов не отменяют пакет
	var g errgroup.Group
	g.SetLimit(workers)

	for i, src := range files {
		g.Go(func() error {
			item := BatchItem{SourcePath: src}

			if err := ctx.Err(); err != nil {
				item.Cancelled = true
				item.Err = err
				item.Error = "отменено"
				result.Items[i] = item
				return nil
			}

			ip := IngestParams{
				SourcePath: src,
				ProfileID:  params.ProfileID,
				Metadata:   params.Metadata,
			}
			if params.PreserveStructure {
				if rel, err := filepath.Rel(params.Dir, filepath.Dir(src)); err == nil && rel != "." {
					ip.TargetSubdir = filepath.ToSlash(rel)
				}
			}

			res, err := s.Ingest(ctx, ip)
			if err != nil {
				item.Err = err
				item.Error = err.Error()
			} else {
				item.AssetID = res.Asset.AssetID
				item.ArchivePath = res.Asset.ArchivePath
				if res.IndexErr != nil {
					item.IndexError = res.IndexErr.Error()
				}
			}
			result.Items[i] = item

			n := int(done.Add(1))
			if params.Progress != nil {
				progressMu.Lock()
				params.Progress(item, n, len(files))
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Items {
		switch {
		case item.Cancelled:
			result.Cancelled = true
		case item.Err != nil:
			result.Failed++
		default:
			result.Succeeded++
		}
	}
	result.Duration = time.Since(start)

	s.logger.Info("Пакетный приём завершён",
		slog.String("dir", params.Dir),
		slog.Int("total", result.Total),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// collectFiles перечисляет обычные файлы каталога в отсортированном
// порядке. Скрытые файлы, sidecar-файлы и служебные каталоги пропускаются.
func collectFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s не является каталогом", model.ErrSourceNotFound, dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || strings.HasPrefix(name, ".") || name == index.DirName {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || sidecar.IsSidecar(name) || sidecar.IsTemp(name) {
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода каталога %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
