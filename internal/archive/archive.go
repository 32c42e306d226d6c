// Пакет archive — дескриптор открытого архива.
// Archive владеет конфигурацией, хранилищем профилей, файловым
// хранилищем и индексом одного корня. Сервисы получают его явно;
// глобальных реестров нет, поэтому в одном процессе можно держать
// несколько архивов и закрывать их независимо.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/filestore"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/profiles"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// ConfigFileName — имя файла конфигурации в корне архива.
const ConfigFileName = "archive.json"

// InitOptions — параметры создания архива.
type InitOptions struct {
	Name         string
	Description  string
	Organization *model.OrganizationScheme
}

// Archive — открытый архив.
type Archive struct {
	root     string
	configMu sync.RWMutex
	config   *model.ArchiveConfig
	logger   *slog.Logger

	Files    *filestore.FileStore
	Profiles *profiles.Store
	Index    *index.Index
}

// Init создаёт новый архив в root и открывает его.
// Возвращает ErrArchiveExists, если archive.json уже есть.
func Init(ctx context.Context, root string, opts InitOptions, logger *slog.Logger) (*Archive, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления пути архива: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корень архива %s: %w", root, err)
	}

	cfgPath := filepath.Join(root, ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrArchiveExists, root)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(root)
	}
	org := model.DefaultOrganization()
	if opts.Organization != nil {
		org = *opts.Organization
	}

	now := time.Now().UTC()
	cfg := &model.ArchiveConfig{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  opts.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      model.ConfigVersion,
		Organization: org,
	}
	if err := writeConfig(cfgPath, cfg); err != nil {
		return nil, err
	}

	logger.Info("Архив создан",
		slog.String("root", root),
		slog.String("archive_id", cfg.ID),
		slog.String("structure", org.Structure),
	)
	return open(ctx, root, cfg, logger)
}

// Open открывает существующий архив.
// Возвращает ErrArchiveNotFound, если archive.json отсутствует.
func Open(ctx context.Context, root string, logger *slog.Logger) (*Archive, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления пути архива: %w", err)
	}
	cfg, err := readConfig(filepath.Join(root, ConfigFileName))
	if err != nil {
		return nil, err
	}
	return open(ctx, root, cfg, logger)
}

func open(ctx context.Context, root string, cfg *model.ArchiveConfig, logger *slog.Logger) (*Archive, error) {
	files, err := filestore.New(root)
	if err != nil {
		return nil, err
	}
	prof, err := profiles.New(filepath.Join(root, profiles.DirName))
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(ctx, filepath.Join(root, index.DirName, index.FileName), logger)
	if err != nil {
		return nil, err
	}

	return &Archive{
		root:     root,
		config:   cfg,
		logger:   logger.With(slog.String("component", "archive")),
		Files:    files,
		Profiles: prof,
		Index:    idx,
	}, nil
}

// Close закрывает индекс архива.
func (a *Archive) Close() error {
	if err := a.Index.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия индекса: %w", err)
	}
	return nil
}

// Root возвращает абсолютный путь корня архива.
func (a *Archive) Root() string {
	return a.root
}

// Config возвращает копию конфигурации архива.
func (a *Archive) Config() model.ArchiveConfig {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return *a.config
}

// UpdateConfig изменяет имя, описание и схему раскладки.
// Новая схема применяется только к активам, принятым после изменения.
func (a *Archive) UpdateConfig(fn func(cfg *model.ArchiveConfig)) error {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	cfg := *a.config
	fn(&cfg)
	cfg.ID = a.config.ID
	cfg.CreatedAt = a.config.CreatedAt
	cfg.Version = model.ConfigVersion
	cfg.UpdatedAt = time.Now().UTC()

	if err := writeConfig(filepath.Join(a.root, ConfigFileName), &cfg); err != nil {
		return err
	}
	a.config = &cfg
	a.logger.Info("Конфигурация архива обновлена",
		slog.String("name", cfg.Name),
		slog.String("structure", cfg.Organization.Structure),
	)
	return nil
}

// AssetsDir возвращает путь к каталогу assets.
func (a *Archive) AssetsDir() string {
	return a.Files.AssetsDir()
}

// SidecarPath возвращает путь к sidecar-файлу по archive_path.
func (a *Archive) SidecarPath(archivePath string) string {
	return a.Files.SidecarPath(archivePath)
}

// ReadSidecar читает sidecar-файл актива по archive_path.
func (a *Archive) ReadSidecar(archivePath string) (*model.AssetMetadata, error) {
	return sidecar.Read(a.SidecarPath(archivePath))
}

// ScanSidecars читает все sidecar-файлы архива.
func (a *Archive) ScanSidecars() ([]sidecar.Entry, error) {
	return sidecar.Scan(a.root, a.AssetsDir())
}

// Rebuild перестраивает индекс из sidecar-файлов.
func (a *Archive) Rebuild(ctx context.Context, forceAll bool) (*index.RebuildResult, error) {
	return a.Index.Rebuild(ctx, a.root, a.AssetsDir(), forceAll)
}

// Lookup находит метаданные актива по id: путь берётся из индекса,
// содержимое — из sidecar-файла. Если индекс не знает id,
// выполняется полное сканирование sidecar-файлов.
func (a *Archive) Lookup(ctx context.Context, assetID string) (*model.AssetMetadata, error) {
	rec, err := a.Index.Get(ctx, assetID)
	if err == nil {
		meta, rerr := a.ReadSidecar(rec.ArchivePath)
		if rerr == nil && meta.AssetID == assetID {
			return meta, nil
		}
	} else if !errors.Is(err, model.ErrAssetNotFound) {
		return nil, err
	}

	entries, err := a.ScanSidecars()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Meta != nil && e.Meta.AssetID == assetID {
			return e.Meta, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", model.ErrAssetNotFound, assetID)
}

func writeConfig(path string, cfg *model.ArchiveConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфигурации архива: %w", err)
	}
	return sidecar.WriteFileAtomic(path, append(data, '\n'))
}

func readConfig(path string) (*model.ArchiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrArchiveNotFound, filepath.Dir(path))
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	var cfg model.ArchiveConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	if cfg.Organization.Structure == "" {
		cfg.Organization.Structure = model.DefaultStructure
	}
	return &cfg, nil
}
