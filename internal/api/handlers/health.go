// health.go — обработчики health endpoints для проверок liveness и readiness Kubernetes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexReadinessChecker — проверка готовности индекса.
type IndexReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// root — корень архива (для проверки FS)
	root string
	idx  IndexReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// idx может быть nil — тогда индекс не проверяется.
func NewHealthHandler(root string, idx IndexReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		root:    root,
		idx:     idx,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "open-archiver",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет запись в корень архива и доступность индекса.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	indexCheck := map[string]any{"status": "ok", "message": "Проверка не настроена"}
	if h.idx != nil {
		status, msg := h.idx.CheckReady()
		indexCheck = map[string]any{"status": status, "message": msg}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "open-archiver",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"index":      indexCheck,
		},
	})
}

// checkFilesystem проверяет доступность корня архива на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.root == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.root, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Корень архива недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
