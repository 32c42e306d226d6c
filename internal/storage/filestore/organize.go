package filestore

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// Корзины типов содержимого для сегмента "type".
const (
	BucketImages    = "images"
	BucketVideo     = "video"
	BucketAudio     = "audio"
	BucketDocuments = "documents"
	BucketArchives  = "archives"
	BucketOther     = "other"
)

// maxNameLength — предельная длина основы имени файла.
const maxNameLength = 120

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/rtf":    true,
	"application/json":   true,
	"application/xml":    true,
	"application/vnd.oasis.opendocument.text":                                 true,
	"application/vnd.oasis.opendocument.spreadsheet":                          true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-excel":                                               true,
}

var archiveTypes = map[string]bool{
	"application/zip":              true,
	"application/x-tar":            true,
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/vnd.rar":          true,
	"application/x-bzip2":          true,
	"application/x-xz":             true,
	"application/zstd":             true,
}

// ContentBucket возвращает грубую категорию MIME-типа.
func ContentBucket(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return BucketImages
	case strings.HasPrefix(mt, "video/"):
		return BucketVideo
	case strings.HasPrefix(mt, "audio/"):
		return BucketAudio
	case strings.HasPrefix(mt, "text/"), documentTypes[mt]:
		return BucketDocuments
	case archiveTypes[mt]:
		return BucketArchives
	}
	return BucketOther
}

// DestinationDir вычисляет каталог внутри assets/ по схеме раскладки.
// Результат использует "/" как разделитель.
func DestinationDir(scheme model.OrganizationScheme, at time.Time, mimeType, fileName string) string {
	at = at.UTC()
	var parts []string
	for _, seg := range scheme.Segments() {
		switch seg {
		case "year":
			parts = append(parts, fmt.Sprintf("%04d", at.Year()))
		case "month":
			parts = append(parts, fmt.Sprintf("%02d", int(at.Month())))
		case "day":
			parts = append(parts, fmt.Sprintf("%02d", at.Day()))
		case "type":
			parts = append(parts, ContentBucket(mimeType))
		case "extension":
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
			if ext == "" {
				ext = "noext"
			}
			parts = append(parts, SafeSegment(ext))
		default:
			parts = append(parts, SafeSegment(seg))
		}
	}
	return path.Join(parts...)
}

// StoredName вычисляет имя файла в архиве по схеме раскладки.
func StoredName(scheme model.OrganizationScheme, originalName string) string {
	ext := filepath.Ext(originalName)
	stem := strings.TrimSuffix(originalName, ext)

	if !scheme.PreserveOriginalNames {
		stem = uuid.New().String()
	}
	if scheme.NormalizeNames {
		stem = strings.ToLower(strings.ReplaceAll(stem, " ", "_"))
		ext = strings.ToLower(ext)
	}
	return SafeFilename(stem + ext)
}

// SafeFilename убирает из имени символы, небезопасные для файловых систем.
// Оставляет буквы (включая кириллицу), цифры, пробел, точку, дефис
// и подчёркивание.
func SafeFilename(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	stem = sanitize(stem, true)
	ext = sanitize(ext, false)
	if r := []rune(stem); len(r) > maxNameLength {
		stem = string(r[:maxNameLength])
	}
	stem = strings.Trim(stem, " .")
	if stem == "" {
		stem = "file"
	}
	if ext == "." {
		ext = ""
	}
	return stem + ext
}

// SafeSegment приводит сегмент пути к безопасному виду.
func SafeSegment(s string) string {
	s = strings.Trim(sanitize(s, false), ".")
	if s == "" {
		return "_"
	}
	return s
}

func sanitize(s string, allowSpace bool) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' && allowSpace:
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return b.String()
}

// DetectContentType определяет MIME-тип: по расширению,
// а при неудаче по первым 512 байтам содержимого.
func DetectContentType(filePath string) (string, error) {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath))); mt != "" {
		return mt, nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", filePath, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("ошибка чтения заголовка %s: %w", filePath, err)
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(head[:n]), nil
}
