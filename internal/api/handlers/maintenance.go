// maintenance.go — проверка целостности и обслуживание индекса.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
)

// verifyRequest — тело POST /api/v1/maintenance/verify.
type verifyRequest struct {
	AssetIDs []string `json:"asset_ids"`
	Workers  int      `json:"workers"`
}

// rebuildRequest — тело POST /api/v1/maintenance/rebuild.
type rebuildRequest struct {
	ForceAll bool `json:"force_all"`
}

// Verify обрабатывает POST /api/v1/maintenance/verify.
// Прогон синхронный; если проверка уже идёт — 409 VERIFY_IN_PROGRESS.
func (h *APIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Workers < 0 {
		apierrors.ValidationError(w, "workers не может быть отрицательным")
		return
	}

	report, err := h.integrity.Verify(r.Context(), service.VerifyParams{
		AssetIDs: req.AssetIDs,
		Workers:  req.Workers,
	})
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":  report,
		"summary": report.Summary(),
		"clean":   report.Clean(),
	})
}

// CancelVerify обрабатывает POST /api/v1/maintenance/verify/cancel.
func (h *APIHandler) CancelVerify(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": h.integrity.Cancel(),
	})
}

// LastVerifyReport обрабатывает GET /api/v1/maintenance/verify/last.
func (h *APIHandler) LastVerifyReport(w http.ResponseWriter, _ *http.Request) {
	report := h.integrity.LastReport()
	if report == nil {
		apierrors.NotFound(w, "Проверка целостности ещё не выполнялась")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":      report,
		"summary":     report.Summary(),
		"clean":       report.Clean(),
		"in_progress": h.integrity.IsInProgress(),
	})
}

// Rebuild обрабатывает POST /api/v1/maintenance/rebuild.
func (h *APIHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	res, err := h.arc.Rebuild(r.Context(), req.ForceAll)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	h.search.InvalidateCache()
	writeJSON(w, http.StatusOK, res)
}

// Repair обрабатывает POST /api/v1/maintenance/repair.
func (h *APIHandler) Repair(w http.ResponseWriter, r *http.Request) {
	res, err := h.integrity.RepairIndex(r.Context())
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	h.search.InvalidateCache()
	writeJSON(w, http.StatusOK, res)
}

// OrphanedFiles обрабатывает GET /api/v1/maintenance/orphans.
func (h *APIHandler) OrphanedFiles(w http.ResponseWriter, r *http.Request) {
	paths, err := h.integrity.FindOrphanedFiles(r.Context())
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orphaned_files": paths,
		"total":          len(paths),
	})
}
