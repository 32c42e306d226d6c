// profiles.go — управление профилями метаданных.
package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/profiles"
)

// ListProfiles обрабатывает GET /api/v1/profiles.
func (h *APIHandler) ListProfiles(w http.ResponseWriter, _ *http.Request) {
	list := h.profiles.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": list,
		"total": len(list),
	})
}

// GetProfile обрабатывает GET /api/v1/profiles/{id}.
// ?format=yaml возвращает профиль в YAML.
func (h *APIHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	if r.URL.Query().Get("format") == "yaml" {
		data, err := profiles.EncodeYAML(p)
		if err != nil {
			apierrors.FromError(w, err, h.logger)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SaveProfile обрабатывает POST /api/v1/profiles.
// Тело — JSON или YAML (Content-Type: application/yaml).
// Новый профиль — 201, обновление существующего — 200.
func (h *APIHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}
	if len(data) == 0 {
		apierrors.ValidationError(w, "пустое тело запроса")
		return
	}

	name := "profile.json"
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/yaml" || ct == "application/x-yaml" || ct == "text/yaml" {
		name = "profile.yaml"
	}
	p, err := profiles.Decode(name, data)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}

	saved, err := h.profiles.Save(p)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	status := http.StatusOK
	if saved.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

// DeleteProfile обрабатывает DELETE /api/v1/profiles/{id}.
// ?reassign=true снимает профиль с активов, ?replace_with=<id>
// переназначает их на другой профиль.
func (h *APIHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	opts := service.DeleteProfileOptions{ReplaceWith: r.URL.Query().Get("replace_with")}
	if raw := r.URL.Query().Get("reassign"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apierrors.ValidationError(w, "Некорректное значение reassign: "+raw)
			return
		}
		opts.Reassign = v
	}
	if opts.ReplaceWith != "" {
		opts.Reassign = true
	}

	res, err := h.profiles.Delete(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetProfileUsage обрабатывает GET /api/v1/profiles/{id}/usage.
func (h *APIHandler) GetProfileUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.profiles.Get(id); err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	ids, err := h.profiles.Usage(r.Context(), id)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	indexed, err := h.profiles.IndexedCount(r.Context(), id)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile_id": id,
		"asset_ids":  ids,
		"total":      len(ids),
		"indexed":    indexed,
		"in_sync":    indexed == len(ids),
	})
}
