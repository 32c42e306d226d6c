// Пакет errors — конструкторы стандартных ошибок API архива.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// Коды ошибок API.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeVerifyInProgress = "VERIFY_IN_PROGRESS"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeCancelled        = "CANCELLED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 состояние архива не допускает операцию.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// VerifyInProgress — 409 проверка целостности уже выполняется.
func VerifyInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeVerifyInProgress, message)
}

// NotConfigured — 501 подсистема не настроена.
func NotConfigured(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotImplemented, CodeNotConfigured, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromError сопоставляет доменную ошибку с HTTP-ответом.
// Неизвестные ошибки логируются и возвращаются как 500 без деталей.
func FromError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case stderrors.Is(err, model.ErrAssetNotFound),
		stderrors.Is(err, model.ErrProfileNotFound),
		stderrors.Is(err, model.ErrArchiveNotFound):
		NotFound(w, err.Error())

	case stderrors.Is(err, model.ErrSourceNotFound),
		stderrors.Is(err, model.ErrNotRegularFile),
		stderrors.Is(err, model.ErrUnknownProfile),
		stderrors.Is(err, model.ErrInvalidProfile),
		stderrors.Is(err, model.ErrRequiredField),
		stderrors.Is(err, model.ErrInvalidFieldValue),
		stderrors.Is(err, model.ErrInvalidQuery),
		stderrors.Is(err, model.ErrInvalidExport):
		ValidationError(w, err.Error())

	case stderrors.Is(err, model.ErrVerifyInProgress):
		VerifyInProgress(w, err.Error())

	case stderrors.Is(err, model.ErrProfileInUse),
		stderrors.Is(err, model.ErrDestinationNotEmpty),
		stderrors.Is(err, model.ErrArchiveExists):
		Conflict(w, err.Error())

	case stderrors.Is(err, model.ErrPublishNotConfigured):
		NotConfigured(w, err.Error())

	case stderrors.Is(err, context.Canceled):
		// 499 — клиент закрыл соединение
		WriteError(w, 499, CodeCancelled, "Запрос отменён")

	default:
		if logger != nil {
			logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		}
		InternalError(w, "Внутренняя ошибка сервера")
	}
}
