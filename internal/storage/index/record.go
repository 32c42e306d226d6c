package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// timeLayout — формат времени в базе. Фиксированная ширина
// сохраняет лексикографический порядок.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record — запись индекса: структурные колонки актива.
type Record struct {
	AssetID            string         `json:"asset_id"`
	OriginalPath       string         `json:"original_path"`
	ArchivePath        string         `json:"archive_path"`
	FileName           string         `json:"file_name"`
	FileSize           int64          `json:"file_size"`
	MimeType           string         `json:"mime_type"`
	ChecksumSHA256     string         `json:"checksum_sha256"`
	ChecksumVerifiedAt *time.Time     `json:"checksum_verified_at"`
	ProfileID          string         `json:"profile_id,omitempty"`
	CustomMetadata     map[string]any `json:"custom_metadata"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	// Score — релевантность для текстового запроса (больше — лучше)
	Score float64 `json:"score,omitempty"`
}

// row — проекция sidecar-файла в колонки базы.
// Все поля сравнимы, что позволяет сравнивать проекции через ==.
type row struct {
	assetID      string
	originalPath string
	archivePath  string
	fileName     string
	fileSize     int64
	mimeType     string
	checksum     string
	verifiedAt   sql.NullString
	profileID    sql.NullString
	custom       string
	createdAt    string
	updatedAt    string
	text         string
}

// project — единственное преобразование метаданных актива в запись
// индекса. Используется и при Upsert, и при Rebuild, поэтому оба пути
// дают одинаковый результат для одного и того же sidecar-файла.
func project(meta *model.AssetMetadata) (row, error) {
	if err := meta.Validate(); err != nil {
		return row{}, err
	}

	custom := meta.CustomMetadata
	if custom == nil {
		custom = map[string]any{}
	}
	// Канонический JSON: ключи отсортированы encoding/json
	raw, err := json.Marshal(custom)
	if err != nil {
		return row{}, fmt.Errorf("ошибка сериализации custom_metadata: %w", err)
	}
	// Текст строится по разобранному JSON, а не по значениям в памяти
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return row{}, fmt.Errorf("ошибка разбора custom_metadata: %w", err)
	}

	r := row{
		assetID:      meta.AssetID,
		originalPath: meta.OriginalPath,
		archivePath:  meta.ArchivePath,
		fileName:     meta.FileName(),
		fileSize:     meta.FileSize,
		mimeType:     meta.MimeType,
		checksum:     meta.ChecksumSHA256,
		custom:       string(raw),
		createdAt:    formatTime(meta.CreatedAt),
		updatedAt:    formatTime(meta.UpdatedAt),
		text:         metadataText(normalized),
	}
	if meta.ChecksumVerifiedAt != nil {
		r.verifiedAt = sql.NullString{String: formatTime(*meta.ChecksumVerifiedAt), Valid: true}
	}
	if p := meta.Profile(); p != "" {
		r.profileID = sql.NullString{String: p, Valid: true}
	}
	return r, nil
}

// metadataText собирает полнотекстовый документ из значений
// custom_metadata в порядке ключей.
func metadataText(custom map[string]any) string {
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = appendText(parts, custom[k])
	}
	return strings.Join(parts, " ")
}

func appendText(parts []string, v any) []string {
	switch t := v.(type) {
	case nil:
		return parts
	case string:
		if s := strings.TrimSpace(t); s != "" {
			parts = append(parts, s)
		}
	case float64:
		parts = append(parts, strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		parts = append(parts, strconv.FormatBool(t))
	case []any:
		for _, item := range t {
			parts = appendText(parts, item)
		}
	case map[string]any:
		parts = append(parts, metadataText(t))
	}
	return parts
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// recordColumns — колонки для scanRecord; последней идёт оценка.
const recordColumns = `a.asset_id, a.original_path, a.archive_path, a.file_name, a.file_size,
a.mime_type, a.checksum_sha256, a.checksum_verified_at, a.profile_id,
a.custom_metadata, a.created_at, a.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec        Record
		verifiedAt sql.NullString
		profileID  sql.NullString
		custom     string
		createdAt  string
		updatedAt  string
		score      float64
	)
	if err := s.Scan(&rec.AssetID, &rec.OriginalPath, &rec.ArchivePath, &rec.FileName, &rec.FileSize,
		&rec.MimeType, &rec.ChecksumSHA256, &verifiedAt, &profileID,
		&custom, &createdAt, &updatedAt, &score); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("некорректный created_at %q: %w", createdAt, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("некорректный updated_at %q: %w", updatedAt, err)
	}
	if verifiedAt.Valid {
		t, err := parseTime(verifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("некорректный checksum_verified_at %q: %w", verifiedAt.String, err)
		}
		rec.ChecksumVerifiedAt = &t
	}
	rec.ProfileID = profileID.String
	if err := json.Unmarshal([]byte(custom), &rec.CustomMetadata); err != nil {
		return nil, fmt.Errorf("некорректный custom_metadata: %w", err)
	}
	if rec.CustomMetadata == nil {
		rec.CustomMetadata = map[string]any{}
	}
	// bm25 возвращает отрицательные значения: меньше — релевантнее
	rec.Score = -score
	return &rec, nil
}
