// assets.go — приём файлов и чтение метаданных актива.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
)

// ingestRequest — тело POST /api/v1/assets.
type ingestRequest struct {
	SourcePath   string         `json:"source_path"`
	ProfileID    string         `json:"profile_id"`
	Metadata     map[string]any `json:"metadata"`
	TargetSubdir string         `json:"target_subdir"`
}

// ingestResponse — принятый актив.
type ingestResponse struct {
	Asset *model.AssetMetadata `json:"asset"`
	// IndexError — актив принят, индекс будет восстановлен перестроением
	IndexError string `json:"index_error,omitempty"`
}

// batchRequest — тело POST /api/v1/assets/batch.
type batchRequest struct {
	Directory         string         `json:"directory"`
	Recursive         bool           `json:"recursive"`
	ProfileID         string         `json:"profile_id"`
	Metadata          map[string]any `json:"metadata"`
	Workers           int            `json:"workers"`
	PreserveStructure bool           `json:"preserve_structure"`
}

// IngestAsset обрабатывает POST /api/v1/assets.
func (h *APIHandler) IngestAsset(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		apierrors.ValidationError(w, "Не указан source_path")
		return
	}

	res, err := h.ingest.Ingest(r.Context(), service.IngestParams{
		SourcePath:   req.SourcePath,
		ProfileID:    req.ProfileID,
		Metadata:     req.Metadata,
		TargetSubdir: req.TargetSubdir,
	})
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}

	resp := ingestResponse{Asset: res.Asset}
	if res.IndexErr != nil {
		resp.IndexError = res.IndexErr.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// IngestBatch обрабатывает POST /api/v1/assets/batch.
// Ошибки отдельных файлов возвращаются в items, статус ответа — 200.
func (h *APIHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Directory) == "" {
		apierrors.ValidationError(w, "Не указан directory")
		return
	}
	if req.Workers < 0 {
		apierrors.ValidationError(w, "workers не может быть отрицательным")
		return
	}
	workers := req.Workers
	if workers == 0 {
		workers = h.ingestWorkers
	}

	res, err := h.ingest.IngestDirectory(r.Context(), service.BatchParams{
		Dir:               req.Directory,
		Recursive:         req.Recursive,
		ProfileID:         req.ProfileID,
		Metadata:          req.Metadata,
		Workers:           workers,
		PreserveStructure: req.PreserveStructure,
	})
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAsset обрабатывает GET /api/v1/assets/{id}.
// Метаданные читаются из sidecar-файла.
func (h *APIHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := assetIDParam(w, r)
	if !ok {
		return
	}
	meta, err := h.search.GetAsset(r.Context(), id)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// FindAssetsByChecksum обрабатывает GET /api/v1/assets?checksum=<sha256>.
// Позволяет проверить, есть ли файл в архиве, до приёма.
func (h *APIHandler) FindAssetsByChecksum(w http.ResponseWriter, r *http.Request) {
	sum := r.URL.Query().Get("checksum")
	if sum == "" {
		apierrors.ValidationError(w, "Не указан параметр checksum")
		return
	}
	records, err := h.search.ByChecksum(r.Context(), sum)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checksum_sha256": strings.ToLower(sum),
		"items":           records,
		"total":           len(records),
	})
}

// VerifyAsset обрабатывает POST /api/v1/assets/{id}/verify.
func (h *APIHandler) VerifyAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := assetIDParam(w, r)
	if !ok {
		return
	}
	check, err := h.integrity.VerifySingle(r.Context(), id)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// assetIDParam извлекает и проверяет {id} из пути.
func assetIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный id актива: "+raw)
		return "", false
	}
	return id.String(), true
}
