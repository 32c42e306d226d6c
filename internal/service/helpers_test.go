package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestArchive создаёт архив во временном каталоге.
func newTestArchive(t *testing.T) *archive.Archive {
	t.Helper()
	arc, err := archive.Init(context.Background(), filepath.Join(t.TempDir(), "archive"),
		archive.InitOptions{Name: "Тестовый архив", Description: "для тестов"}, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания архива: %v", err)
	}
	t.Cleanup(func() { _ = arc.Close() })
	return arc
}

// writeSource создаёт исходный файл с содержимым data.
func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("ошибка записи %s: %v", path, err)
	}
	return path
}

// sized возвращает детерминированный буфер заданного размера.
func sized(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

// documentsProfile — профиль с обязательным полем title и тегами.
func documentsProfile() *model.Profile {
	return &model.Profile{
		ID:   "documents",
		Name: "Документы",
		Fields: []model.Field{
			{Name: "title", DisplayName: "Название", FieldType: model.FieldText, Required: true},
			{Name: "tags", DisplayName: "Теги", FieldType: model.FieldTags},
			{Name: "pages", DisplayName: "Страницы", FieldType: model.FieldNumber},
		},
	}
}

// ingestOne принимает файл и завершает тест при ошибке.
func ingestOne(t *testing.T, svc *IngestService, params IngestParams) *model.AssetMetadata {
	t.Helper()
	res, err := svc.Ingest(context.Background(), params)
	if err != nil {
		t.Fatalf("ошибка приёма %s: %v", params.SourcePath, err)
	}
	if res.IndexErr != nil {
		t.Fatalf("индекс не обновлён: %v", res.IndexErr)
	}
	return res.Asset
}

// writeSidecarFile перезаписывает sidecar-файл актива в обход сервисов.
func writeSidecarFile(arc *archive.Archive, meta *model.AssetMetadata) error {
	return sidecar.Write(arc.SidecarPath(meta.ArchivePath), meta)
}
