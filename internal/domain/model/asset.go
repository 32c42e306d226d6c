package model

import (
	"errors"
	"path"
	"strings"
	"time"
)

// AssetMetadata — метаданные актива. Соответствует содержимому
// sidecar-файла <file>.metadata.json, который является единственным
// источником истины. Индекс хранит производную копию.
type AssetMetadata struct {
	// AssetID — стабильный идентификатор актива (UUID v4)
	AssetID string `json:"asset_id"`

	// OriginalPath — исходный путь при приёме, только для истории
	OriginalPath string `json:"original_path"`

	// ArchivePath — путь относительно корня архива, через "/"
	ArchivePath string `json:"archive_path"`

	// FileSize — размер хранимого файла в байтах
	FileSize int64 `json:"file_size"`

	// MimeType — определённый MIME-тип
	MimeType string `json:"mime_type"`

	// ChecksumSHA256 — SHA-256 хранимого файла (64 hex-символа)
	ChecksumSHA256 string `json:"checksum_sha256"`

	// ChecksumVerifiedAt — время последней успешной сверки
	ChecksumVerifiedAt *time.Time `json:"checksum_verified_at"`

	// ProfileID — профиль метаданных, nil если не назначен
	ProfileID *string `json:"profile_id"`

	// CustomMetadata — пользовательские поля по имени
	CustomMetadata map[string]any `json:"custom_metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile возвращает profile_id или пустую строку.
func (m *AssetMetadata) Profile() string {
	if m.ProfileID == nil {
		return ""
	}
	return *m.ProfileID
}

// FileName возвращает имя хранимого файла.
func (m *AssetMetadata) FileName() string {
	return path.Base(m.ArchivePath)
}

// Validate проверяет обязательные поля sidecar-файла.
func (m *AssetMetadata) Validate() error {
	if m.AssetID == "" {
		return errors.New("отсутствует поле asset_id")
	}
	if m.ArchivePath == "" {
		return errors.New("отсутствует поле archive_path")
	}
	if strings.HasPrefix(m.ArchivePath, "/") || strings.Contains(m.ArchivePath, "..") {
		return errors.New("archive_path должен быть относительным путём внутри архива")
	}
	if m.ChecksumSHA256 == "" {
		return errors.New("отсутствует поле checksum_sha256")
	}
	if !ValidChecksum(m.ChecksumSHA256) {
		return errors.New("checksum_sha256 должен содержать 64 hex-символа в нижнем регистре")
	}
	if m.FileSize < 0 {
		return errors.New("отрицательный file_size")
	}
	return nil
}

// ValidChecksum проверяет формат SHA-256: 64 hex-символа в нижнем регистре.
func ValidChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// StringPtr возвращает указатель на строку или nil для пустой строки.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
