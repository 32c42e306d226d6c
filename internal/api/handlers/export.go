// export.go — экспорт активов и manifest архива.
package handlers

import (
	"bytes"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
)

// exportRequest — тело POST /api/v1/export.
type exportRequest struct {
	AssetIDs    []string              `json:"asset_ids"`
	Query       *service.SearchParams `json:"query"`
	Destination string                `json:"destination"`
	Format      service.ExportFormat  `json:"format"`
	AllowMerge  bool                  `json:"allow_merge"`
	BagInfo     map[string]string     `json:"bag_info"`
	Publish     bool                  `json:"publish"`
}

// Export обрабатывает POST /api/v1/export.
// Частичный экспорт (success=false) возвращается со статусом 200.
func (h *APIHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Destination) == "" {
		apierrors.ValidationError(w, "Не указан destination")
		return
	}

	res, err := h.export.Export(r.Context(), service.ExportParams{
		AssetIDs:    req.AssetIDs,
		Query:       req.Query,
		Destination: req.Destination,
		Format:      req.Format,
		AllowMerge:  req.AllowMerge,
		BagInfo:     req.BagInfo,
		Publish:     req.Publish,
	})
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetManifest обрабатывает GET /api/v1/export/manifest?format=json|csv.
func (h *APIHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	format := service.ManifestFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = service.ManifestJSON
	}

	// Буфер: ошибка генерации должна вернуться до записи заголовков
	var buf bytes.Buffer
	if err := h.export.GenerateManifest(r.Context(), &buf, format); err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}

	contentType := "application/json"
	if format == service.ManifestCSV {
		contentType = "text/csv; charset=utf-8"
		w.Header().Set("Content-Disposition", `attachment; filename="manifest.csv"`)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
