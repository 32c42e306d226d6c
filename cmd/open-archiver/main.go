// main.go — точка входа HTTP-сервиса Open Archiver.
// Инициализирует конфигурацию, логгер, архив, сервисы, фоновые процессы
// и HTTP-сервер.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/open-archiver/internal/api/handlers"
	"github.com/bigkaa/goartstore/open-archiver/internal/api/middleware"
	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/config"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/server"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/s3sink"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Open Archiver запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("archive_root", cfg.ArchiveRoot),
	)

	ctx := context.Background()

	// 3. Открытие архива (создание при OA_ARCHIVE_AUTO_INIT)
	arc, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия архива",
			slog.String("root", cfg.ArchiveRoot),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() {
		if err := arc.Close(); err != nil {
			logger.Error("Ошибка закрытия архива", slog.String("error", err.Error()))
		}
	}()
	archiveCfg := arc.Config()
	logger.Info("Архив открыт",
		slog.String("archive_id", archiveCfg.ID),
		slog.String("name", archiveCfg.Name),
	)

	// 4. Публикация экспорта в S3 (опционально)
	var publisher service.Publisher
	if cfg.S3.Enabled() {
		sink, err := s3sink.New(ctx, cfg.S3, logger)
		if err != nil {
			logger.Error("Ошибка инициализации S3", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publisher = sink
		logger.Info("Публикация экспорта в S3 настроена",
			slog.String("bucket", cfg.S3.Bucket),
			slog.String("prefix", cfg.S3.Prefix),
		)
	}

	// 5. Сервисы
	cacheSvc := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	searchSvc := service.NewSearchService(arc, cacheSvc, cfg.SearchMaxLimit, logger)
	ingestSvc := service.NewIngestService(arc, logger)
	profileSvc := service.NewProfileService(arc, logger)
	integritySvc := service.NewIntegrityService(arc, cfg.VerifyWorkers, cfg.VerifyInterval, logger)
	exportSvc := service.NewExportService(arc, searchSvc, publisher, config.Version, logger)

	// 6. Фоновые процессы

	// 6.1 Периодическая проверка целостности
	integritySvc.Start(ctx)

	// 6.2 topologymetrics — мониторинг зависимостей (только при JWKS)
	var dephealthSvc *service.DephealthService
	if cfg.AuthEnabled() {
		svc, dephealthErr := service.NewDephealthService(
			archiveCfg.ID,
			cfg.DephealthGroup,
			cfg.JWKSUrl,
			cfg.DephealthCheckInterval,
			cfg.TLSSkipVerify,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else if startErr := svc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			dephealthSvc = svc
			logger.Info("topologymetrics запущен",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	apiHandler := handlers.NewAPIHandler(arc, handlers.Services{
		Ingest:        ingestSvc,
		Search:        searchSvc,
		Profiles:      profileSvc,
		Integrity:     integritySvc,
		Export:        exportSvc,
		IngestWorkers: cfg.IngestWorkers,
	}, logger)
	healthHandler := handlers.NewHealthHandler(arc.Root(), index.NewReadinessChecker(arc.Index))

	// 8. JWT middleware (без OA_JWKS_URL — без аутентификации)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("OA_JWKS_URL не задан, API работает без аутентификации")
	}

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)
	runErr := srv.Run()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	integritySvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		_ = arc.Close()
		os.Exit(1)
	}
	logger.Info("Open Archiver остановлен")
}

// openArchive открывает архив; при OA_ARCHIVE_AUTO_INIT создаёт его,
// если archive.json отсутствует.
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*archive.Archive, error) {
	arc, err := archive.Open(ctx, cfg.ArchiveRoot, logger)
	if err == nil || !cfg.ArchiveAutoInit || !errors.Is(err, model.ErrArchiveNotFound) {
		return arc, err
	}
	logger.Info("Архив не найден, создаётся новый", slog.String("name", cfg.ArchiveName))
	return archive.Init(ctx, cfg.ArchiveRoot, archive.InitOptions{Name: cfg.ArchiveName}, logger)
}
