// Пакет model — доменные модели архива: конфигурация архива,
// профили метаданных, метаданные актива (формат sidecar-файла)
// и отчёт проверки целостности.
package model

import (
	"strings"
	"time"
)

// ConfigVersion — версия формата archive.json.
const ConfigVersion = "1.0"

// DefaultStructure — схема раскладки по умолчанию.
const DefaultStructure = "year/month/type"

// OrganizationScheme — правило построения пути актива внутри assets/.
type OrganizationScheme struct {
	// Structure — шаблон из сегментов через "/".
	// Поддерживаются year, month, day, type, extension;
	// прочие сегменты используются как есть.
	Structure string `json:"structure"`

	// PreserveOriginalNames — сохранять исходное имя файла
	PreserveOriginalNames bool `json:"preserve_original_names"`

	// NormalizeNames — нижний регистр и "_" вместо пробелов
	NormalizeNames bool `json:"normalize_names"`
}

// DefaultOrganization возвращает схему раскладки по умолчанию.
func DefaultOrganization() OrganizationScheme {
	return OrganizationScheme{
		Structure:             DefaultStructure,
		PreserveOriginalNames: true,
	}
}

// Segments возвращает непустые сегменты шаблона.
func (s OrganizationScheme) Segments() []string {
	structure := s.Structure
	if strings.TrimSpace(structure) == "" {
		structure = DefaultStructure
	}
	var out []string
	for _, seg := range strings.Split(structure, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ArchiveConfig — содержимое archive.json в корне архива.
type ArchiveConfig struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Version      string             `json:"version"`
	Organization OrganizationScheme `json:"organization_schema"`
}
