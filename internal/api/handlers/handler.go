// Пакет handlers — HTTP-обработчики API архива.
// Обработчики только разбирают запрос и сериализуют ответ,
// вся логика — в пакете service.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
)

// maxBodySize — ограничение размера JSON-тела запроса.
const maxBodySize = 1 << 20

// APIHandler — обработчики /api/v1, собранные над сервисами одного архива.
type APIHandler struct {
	arc       *archive.Archive
	ingest    *service.IngestService
	search    *service.SearchService
	profiles  *service.ProfileService
	integrity *service.IntegrityService
	export    *service.ExportService
	// ingestWorkers — воркеры пакетного приёма, если в запросе не указано
	ingestWorkers int
	logger        *slog.Logger
}

// Services — зависимости APIHandler.
type Services struct {
	Ingest        *service.IngestService
	Search        *service.SearchService
	Profiles      *service.ProfileService
	Integrity     *service.IntegrityService
	Export        *service.ExportService
	IngestWorkers int
}

// NewAPIHandler создаёт обработчики API.
func NewAPIHandler(arc *archive.Archive, svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		arc:           arc,
		ingest:        svc.Ingest,
		search:        svc.Search,
		profiles:      svc.Profiles,
		integrity:     svc.Integrity,
		export:        svc.Export,
		ingestWorkers: svc.IngestWorkers,
		logger:        logger.With(slog.String("component", "api")),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Пустое тело допустимо,
// если allowEmpty; неизвестные поля — ошибка.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return errors.New("пустое тело запроса")
		}
		return fmt.Errorf("некорректный JSON в теле запроса: %v", err)
	}
	return nil
}
