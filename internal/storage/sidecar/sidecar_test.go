package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

const testChecksum = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

// testMetadata создаёт тестовые метаданные актива.
func testMetadata(archivePath string) *model.AssetMetadata {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.AssetMetadata{
		AssetID:        "asset-001",
		OriginalPath:   "/home/user/report.txt",
		ArchivePath:    archivePath,
		FileSize:       3,
		MimeType:       "text/plain; charset=utf-8",
		ChecksumSHA256: testChecksum,
		ProfileID:      model.StringPtr("documents"),
		CustomMetadata: map[string]any{"title": "Отчёт", "tags": []any{"a", "b"}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TestWriteAndRead проверяет запись и чтение sidecar-файла.
func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := Path(filepath.Join(dir, "report.txt"))
	meta := testMetadata("assets/report.txt")

	if err := Write(path, meta); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.AssetID != meta.AssetID || got.ChecksumSHA256 != meta.ChecksumSHA256 {
		t.Errorf("поля не совпадают: %+v", got)
	}
	if got.Profile() != "documents" {
		t.Errorf("profile_id: получено %q", got.Profile())
	}
	if !got.CreatedAt.Equal(meta.CreatedAt) {
		t.Errorf("created_at: ожидалось %v, получено %v", meta.CreatedAt, got.CreatedAt)
	}
	if got.CustomMetadata["title"] != "Отчёт" {
		t.Errorf("custom_metadata.title: получено %v", got.CustomMetadata["title"])
	}
}

// TestFormatFields проверяет имена полей в JSON.
func TestFormatFields(t *testing.T) {
	meta := testMetadata("assets/report.txt")
	meta.ProfileID = nil
	data, err := Encode(meta)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	for _, key := range []string{
		`"asset_id"`, `"original_path"`, `"archive_path"`, `"file_size"`, `"mime_type"`,
		`"checksum_sha256"`, `"checksum_verified_at": null`, `"profile_id": null`,
		`"custom_metadata"`, `"created_at"`, `"updated_at"`,
	} {
		if !strings.Contains(string(data), key) {
			t.Errorf("в sidecar отсутствует %s", key)
		}
	}
}

func TestReadInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"битый JSON", `{"asset_id": `, "JSON"},
		{"без checksum", `{"asset_id":"x","archive_path":"assets/a"}`, "checksum_sha256"},
		{"без asset_id", `{"archive_path":"assets/a","checksum_sha256":"` + testChecksum + `"}`, "asset_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+Suffix)
			if err := os.WriteFile(path, []byte(tt.content), 0o640); err != nil {
				t.Fatalf("ошибка записи: %v", err)
			}
			_, err := Read(path)
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("причина должна упоминать %q: %v", tt.reason, err)
			}
		})
	}
}

// TestScanRecursive проверяет рекурсивное сканирование и отчёт об ошибках.
func TestScanRecursive(t *testing.T) {
	root := t.TempDir()
	assets := filepath.Join(root, "assets")

	good := testMetadata("assets/2024/01/documents/a.txt")
	if err := Write(Path(filepath.Join(root, "assets/2024/01/documents/a.txt")), good); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	moved := testMetadata("assets/elsewhere/b.txt")
	moved.AssetID = "asset-002"
	if err := Write(Path(filepath.Join(root, "assets/2024/02/b.txt")), moved); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	broken := filepath.Join(assets, "2024", "c.txt"+Suffix)
	if err := os.WriteFile(broken, []byte("{"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if err := os.WriteFile(filepath.Join(assets, "2024", "orphan.bin"), []byte("x"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	entries, err := Scan(root, assets)
	if err != nil {
		t.Fatalf("ошибка сканирования: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", len(entries))
	}

	var ok, failed int
	for _, e := range entries {
		if e.Err != nil {
			failed++
			continue
		}
		ok++
		if e.Meta.AssetID != "asset-001" || e.RelPath != "assets/2024/01/documents/a.txt" {
			t.Errorf("неожиданная запись: %+v", e)
		}
	}
	if ok != 1 || failed != 2 {
		t.Errorf("ожидалось 1 успешная и 2 ошибочные записи, получено %d/%d", ok, failed)
	}

	files, err := ScanDataFiles(root, assets)
	if err != nil {
		t.Fatalf("ошибка ScanDataFiles: %v", err)
	}
	if len(files) != 1 || files[0] != "assets/2024/orphan.bin" {
		t.Errorf("ScanDataFiles: получено %v", files)
	}
}

func TestDeleteMissing(t *testing.T) {
	if err := Delete(filepath.Join(t.TempDir(), "нет"+Suffix)); err != nil {
		t.Errorf("удаление отсутствующего файла должно быть no-op: %v", err)
	}
}
