// Пакет filestore — размещение файлов в дереве assets/ архива.
// Копирует исходный файл через временный файл (fsync → atomic rename),
// разрешает коллизии имён суффиксом и считает SHA-256 уже
// сохранённой копии, а не источника.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/open-archiver/internal/storage/checksum"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// AssetsDirName — имя каталога файлов данных внутри архива.
const AssetsDirName = "assets"

// maxCollisionAttempts — предел перебора суффиксов при коллизии имён.
const maxCollisionAttempts = 10000

// FileStore — управление файлами данных архива.
type FileStore struct {
	// root — корень архива
	root string
	// assetsDir — <root>/assets
	assetsDir string
}

// PlaceResult — результат размещения файла в архиве.
type PlaceResult struct {
	// ArchivePath — путь относительно корня архива, через "/"
	ArchivePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер сохранённого файла
	Size int64
	// Checksum — SHA-256 сохранённого файла
	Checksum string
}

// New создаёт FileStore и каталог assets, если его нет.
func New(root string) (*FileStore, error) {
	assetsDir := filepath.Join(root, AssetsDirName)
	if err := os.MkdirAll(assetsDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", assetsDir, err)
	}
	return &FileStore{root: root, assetsDir: assetsDir}, nil
}

// Root возвращает корень архива.
func (fs *FileStore) Root() string {
	return fs.root
}

// AssetsDir возвращает путь к каталогу assets.
func (fs *FileStore) AssetsDir() string {
	return fs.assetsDir
}

// Place копирует sourcePath в assets/<relDir>/<name>.
// Источник не изменяется. При занятом имени выбирается
// name_1.ext, name_2.ext и так далее; существующие файлы
// никогда не перезаписываются. Имя резервируется через O_EXCL,
// поэтому параллельные вызовы не получат одинаковый путь.
func (fs *FileStore) Place(sourcePath, relDir, name string) (*PlaceResult, error) {
	dir, err := fs.resolveDir(relDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	fullPath, err := reserve(dir, name)
	if err != nil {
		return nil, err
	}

	size, err := copyFile(sourcePath, fullPath)
	if err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	// Checksum считается по сохранённой копии
	sum, _, err := checksum.File(fullPath)
	if err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	rel, err := filepath.Rel(fs.root, fullPath)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("ошибка вычисления относительного пути %s: %w", fullPath, err)
	}

	return &PlaceResult{
		ArchivePath: filepath.ToSlash(rel),
		FullPath:    fullPath,
		Size:        size,
		Checksum:    sum,
	}, nil
}

// resolveDir проверяет, что relDir не выходит за пределы assets.
func (fs *FileStore) resolveDir(relDir string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + relDir))
	dir := filepath.Join(fs.assetsDir, clean)
	if dir != fs.assetsDir && !strings.HasPrefix(dir, fs.assetsDir+string(filepath.Separator)) {
		return "", fmt.Errorf("путь %q выходит за пределы каталога assets", relDir)
	}
	return dir, nil
}

// reserve создаёт пустой файл с уникальным именем в dir.
func reserve(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxCollisionAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		// Имена, совпадающие со служебными суффиксами, не используем
		if sidecar.IsSidecar(candidate) || sidecar.IsTemp(candidate) {
			candidate += "_"
		}
		full := filepath.Join(dir, candidate)

		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			f.Close()
			return full, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("ошибка резервирования имени %s: %w", full, err)
		}
	}
	return "", fmt.Errorf("не удалось подобрать свободное имя для %s в %s", name, dir)
}

// copyFile копирует src в dst через временный файл.
// Паттерн: temp файл → запись → fsync → atomic rename.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия источника %s: %w", src, err)
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	buf := make([]byte, checksum.ChunkSize)
	size, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка копирования данных: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// FullPath возвращает абсолютный путь по archive_path.
func (fs *FileStore) FullPath(archivePath string) string {
	return filepath.Join(fs.root, filepath.FromSlash(archivePath))
}

// SidecarPath возвращает путь к sidecar-файлу по archive_path.
func (fs *FileStore) SidecarPath(archivePath string) string {
	return sidecar.Path(fs.FullPath(archivePath))
}

// Remove удаляет файл данных.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) Remove(archivePath string) error {
	err := os.Remove(fs.FullPath(archivePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", archivePath, err)
	}
	return nil
}

// FileExists проверяет существование файла данных.
func (fs *FileStore) FileExists(archivePath string) bool {
	info, err := os.Stat(fs.FullPath(archivePath))
	return err == nil && info.Mode().IsRegular()
}

// FileSize возвращает размер файла данных.
func (fs *FileStore) FileSize(archivePath string) (int64, error) {
	info, err := os.Stat(fs.FullPath(archivePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", archivePath, err)
	}
	return info.Size(), nil
}

// ComputeChecksum вычисляет SHA-256 файла данных.
func (fs *FileStore) ComputeChecksum(archivePath string) (string, int64, error) {
	return checksum.File(fs.FullPath(archivePath))
}
