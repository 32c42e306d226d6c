package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"актив", fmt.Errorf("get: %w", model.ErrAssetNotFound), http.StatusNotFound, CodeNotFound},
		{"профиль", model.ErrProfileNotFound, http.StatusNotFound, CodeNotFound},
		{"обязательное поле", fmt.Errorf("%w: title", model.ErrRequiredField), http.StatusBadRequest, CodeValidationError},
		{"запрос", model.ErrInvalidQuery, http.StatusBadRequest, CodeValidationError},
		{"экспорт", model.ErrInvalidExport, http.StatusBadRequest, CodeValidationError},
		{"проверка", model.ErrVerifyInProgress, http.StatusConflict, CodeVerifyInProgress},
		{"профиль занят", model.ErrProfileInUse, http.StatusConflict, CodeConflict},
		{"каталог", model.ErrDestinationNotEmpty, http.StatusConflict, CodeConflict},
		{"публикация", model.ErrPublishNotConfigured, http.StatusNotImplemented, CodeNotConfigured},
		{"отмена", context.Canceled, 499, CodeCancelled},
		{"прочее", fmt.Errorf("диск сломался"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, tt.err, nil)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: ожидалось %d, получено %d", tt.wantStatus, rec.Code)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("некорректный JSON: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("код: ожидалось %s, получено %s", tt.wantCode, body.Error.Code)
			}
			if body.Error.Message == "" {
				t.Error("пустое сообщение")
			}
		})
	}
}

func TestFromError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, fmt.Errorf("open /secret/path: permission denied"), nil)

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("некорректный JSON: %v", err)
	}
	if body.Error.Message != "Внутренняя ошибка сервера" {
		t.Errorf("сообщение раскрывает детали: %q", body.Error.Message)
	}
}
