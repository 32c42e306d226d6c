// system.go — информация об архиве: GET /api/v1/info (публичный,
// для мониторинга) и PATCH /api/v1/info (изменение описания архива).
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/config"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
)

// archiveInfo — ответ GET /api/v1/info.
type archiveInfo struct {
	Archive model.ArchiveConfig `json:"archive"`
	Version string              `json:"version"`
	// Status — "online" или "verifying" во время проверки целостности
	Status     string            `json:"status"`
	Statistics *index.Statistics `json:"statistics,omitempty"`
	// StatisticsError — индекс недоступен, статистика не собрана
	StatisticsError string `json:"statistics_error,omitempty"`
}

// GetArchiveInfo обрабатывает GET /api/v1/info.
func (h *APIHandler) GetArchiveInfo(w http.ResponseWriter, r *http.Request) {
	info := archiveInfo{
		Archive: h.arc.Config(),
		Version: config.Version,
		Status:  "online",
	}
	if h.integrity != nil && h.integrity.IsInProgress() {
		info.Status = "verifying"
	}

	stats, err := h.search.Statistics(r.Context())
	if err != nil {
		info.StatisticsError = "статистика недоступна"
		h.logger.Warn("Не удалось собрать статистику для /info", slog.String("error", err.Error()))
	} else {
		info.Statistics = stats
	}
	writeJSON(w, http.StatusOK, info)
}

// archiveInfoUpdate — тело PATCH /api/v1/info. Отсутствующие поля
// не меняются.
type archiveInfoUpdate struct {
	Name         *string                   `json:"name"`
	Description  *string                   `json:"description"`
	Organization *model.OrganizationScheme `json:"organization_schema"`
}

// UpdateArchiveInfo обрабатывает PATCH /api/v1/info.
// Новая схема раскладки действует только для последующих приёмов.
func (h *APIHandler) UpdateArchiveInfo(w http.ResponseWriter, r *http.Request) {
	var req archiveInfoUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		apierrors.ValidationError(w, "name не может быть пустым")
		return
	}
	if req.Organization != nil && len(req.Organization.Segments()) == 0 {
		apierrors.ValidationError(w, "organization_schema.structure не может быть пустым")
		return
	}

	err := h.arc.UpdateConfig(func(cfg *model.ArchiveConfig) {
		if req.Name != nil {
			cfg.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			cfg.Description = *req.Description
		}
		if req.Organization != nil {
			cfg.Organization = *req.Organization
		}
	})
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.arc.Config())
}
