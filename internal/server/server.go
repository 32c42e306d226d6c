// Пакет server — HTTP-сервер Open Archiver с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/api/handlers"
	"github.com/bigkaa/goartstore/open-archiver/internal/api/middleware"
	"github.com/bigkaa/goartstore/open-archiver/internal/config"
)

// Server — HTTP-сервер Open Archiver.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth == nil отключает аутентификацию /api/v1.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, health *handlers.HealthHandler, auth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, api, health, auth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты сервера.
//
// Публичные: /health/live, /health/ready, /metrics, GET /api/v1/info.
// Остальные маршруты /api/v1 при заданном auth требуют JWT:
// чтение — scope archive:read, изменение — archive:write.
func NewRouter(logger *slog.Logger, api *handlers.APIHandler, health *handlers.HealthHandler, auth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError, "Метод не поддерживается")
	})

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", api.GetArchiveInfo)

		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth.Middleware())
			}

			// Чтение
			r.Group(func(r chi.Router) {
				if auth != nil {
					r.Use(middleware.RequireScope(middleware.ScopeRead))
				}
				r.Get("/assets", api.FindAssetsByChecksum)
				r.Get("/assets/{id}", api.GetAsset)
				r.Get("/search", api.SearchAssets)
				r.Post("/search", api.SearchAssetsPost)
				r.Get("/duplicates", api.GetDuplicates)
				r.Get("/stats", api.GetStats)
				r.Get("/profiles", api.ListProfiles)
				r.Get("/profiles/{id}", api.GetProfile)
				r.Get("/profiles/{id}/usage", api.GetProfileUsage)
				r.Get("/maintenance/verify/last", api.LastVerifyReport)
				r.Get("/maintenance/orphans", api.OrphanedFiles)
				r.Get("/export/manifest", api.GetManifest)
			})

			// Изменение
			r.Group(func(r chi.Router) {
				if auth != nil {
					r.Use(middleware.RequireScope(middleware.ScopeWrite))
				}
				r.Patch("/info", api.UpdateArchiveInfo)
				r.Post("/assets", api.IngestAsset)
				r.Post("/assets/batch", api.IngestBatch)
				r.Post("/assets/{id}/verify", api.VerifyAsset)
				r.Post("/profiles", api.SaveProfile)
				r.Delete("/profiles/{id}", api.DeleteProfile)
				r.Post("/maintenance/verify", api.Verify)
				r.Post("/maintenance/verify/cancel", api.CancelVerify)
				r.Post("/maintenance/rebuild", api.Rebuild)
				r.Post("/maintenance/repair", api.Repair)
				r.Post("/export", api.Export)
			})
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
