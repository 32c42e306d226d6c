// Пакет sidecar — чтение и запись файлов метаданных актива
// (<file>.metadata.json). Sidecar-файл лежит рядом с файлом данных
// и является единственным источником истины: индекс целиком
// восстанавливается из этих файлов.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package sidecar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// Suffix — суффикс sidecar-файла.
const Suffix = ".metadata.json"

// tmpSuffix — суффикс временного файла при атомарной записи.
const tmpSuffix = ".tmp"

// maxSidecarSize — максимальный размер sidecar-файла (1 МБ).
const maxSidecarSize = 1 << 20

// Path возвращает путь к sidecar-файлу для данного файла данных.
// Пример: "/a/photo.jpg" → "/a/photo.jpg.metadata.json"
func Path(dataFilePath string) string {
	return dataFilePath + Suffix
}

// DataPath возвращает путь к файлу данных по пути sidecar-файла.
func DataPath(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, Suffix)
}

// IsSidecar проверяет, является ли путь sidecar-файлом.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// IsTemp проверяет, является ли путь временным файлом атомарной записи.
func IsTemp(path string) bool {
	return strings.HasSuffix(path, tmpSuffix)
}

// Encode сериализует метаданные в канонический вид sidecar-файла.
func Encode(meta *model.AssetMetadata) ([]byte, error) {
	if meta.CustomMetadata == nil {
		meta.CustomMetadata = map[string]any{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if len(data) > maxSidecarSize {
		return nil, fmt.Errorf("размер sidecar-файла (%d байт) превышает максимум (%d байт)", len(data), maxSidecarSize)
	}
	return append(data, '\n'), nil
}

// Decode разбирает и проверяет содержимое sidecar-файла.
// Числа в custom_metadata декодируются как float64.
func Decode(data []byte) (*model.AssetMetadata, error) {
	var meta model.AssetMetadata
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("некорректный JSON: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.CustomMetadata == nil {
		meta.CustomMetadata = map[string]any{}
	}
	return &meta, nil
}

// Write атомарно записывает метаданные в sidecar-файл.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func Write(path string, meta *model.AssetMetadata) error {
	data, err := Encode(meta)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic записывает данные через временный файл с fsync
// и атомарным переименованием.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и проверяет sidecar-файл.
func Read(path string) (*model.AssetMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения sidecar %s: %w", path, err)
	}
	meta, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", path, err)
	}
	return meta, nil
}

// Delete удаляет sidecar-файл.
// Возвращает nil если файл уже не существует.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления sidecar %s: %w", path, err)
	}
	return nil
}

// Entry — результат чтения одного sidecar-файла при сканировании.
type Entry struct {
	// Path — абсолютный путь sidecar-файла
	Path string
	// RelPath — путь файла данных относительно корня архива, через "/"
	RelPath string
	// Meta — метаданные, nil при ошибке
	Meta *model.AssetMetadata
	// Err — причина, по которой sidecar не прочитан
	Err error
}

// Scan рекурсивно обходит каталог assets и читает все sidecar-файлы.
// root — корень архива, относительно него вычисляется RelPath.
// Невалидные файлы не пропускаются молча: они возвращаются с Err.
// Результат отсортирован по RelPath.
func Scan(root, assetsDir string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(assetsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == assetsDir {
				return walkErr
			}
			entries = append(entries, Entry{Path: path, Err: fmt.Errorf("ошибка обхода: %w", walkErr)})
			return nil
		}
		if d.IsDir() || !IsSidecar(path) {
			return nil
		}

		entry := Entry{Path: path}
		if rel, err := filepath.Rel(root, DataPath(path)); err == nil {
			entry.RelPath = filepath.ToSlash(rel)
		}
		entry.Meta, entry.Err = Read(path)
		if entry.Err == nil && entry.Meta.ArchivePath != entry.RelPath {
			entry.Err = fmt.Errorf("sidecar %s: archive_path %q не совпадает с расположением %q",
				path, entry.Meta.ArchivePath, entry.RelPath)
			entry.Meta = nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", assetsDir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ScanDataFiles рекурсивно перечисляет файлы данных (не sidecar
// и не временные) и возвращает их пути относительно root через "/".
func ScanDataFiles(root, assetsDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(assetsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || IsSidecar(path) || IsTemp(path) || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования файлов %s: %w", assetsDir, err)
	}
	sort.Strings(files)
	return files, nil
}
