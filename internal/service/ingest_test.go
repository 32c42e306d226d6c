package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// assetFiles возвращает файлы данных в каталоге assets архива.
func assetFiles(t *testing.T, root string) []string {
	t.Helper()
	files, err := sidecar.ScanDataFiles(root, filepath.Join(root, "assets"))
	if err != nil {
		t.Fatalf("ошибка сканирования assets: %v", err)
	}
	return files
}

func TestIngest_RoundTrip(t *testing.T) {
	arc := newTestArchive(t)
	if err := arc.Profiles.Save(documentsProfile()); err != nil {
		t.Fatalf("ошибка сохранения профиля: %v", err)
	}
	svc := NewIngestService(arc, testLogger())

	data := []byte("квартальный отчёт")
	src := writeSource(t, t.TempDir(), "report.txt", data)

	meta := ingestOne(t, svc, IngestParams{
		SourcePath: src,
		ProfileID:  "documents",
		Metadata:   map[string]any{"title": "Отчёт", "tags": []any{"finance", "q3"}, "note": "лишнее"},
	})

	if meta.ChecksumSHA256 != sha(data) {
		t.Errorf("checksum = %s, ожидался %s", meta.ChecksumSHA256, sha(data))
	}
	if meta.FileSize != int64(len(data)) {
		t.Errorf("file_size = %d", meta.FileSize)
	}
	if meta.Profile() != "documents" {
		t.Errorf("profile_id = %q", meta.Profile())
	}
	if meta.CustomMetadata["note"] != "лишнее" {
		t.Error("неизвестный ключ метаданных потерян")
	}

	// Источник не тронут
	if got, err := os.ReadFile(src); err != nil || string(got) != string(data) {
		t.Fatalf("исходный файл изменён: %v", err)
	}

	// Sidecar-файл рядом с копией
	stored, err := arc.ReadSidecar(meta.ArchivePath)
	if err != nil {
		t.Fatalf("ошибка чтения sidecar: %v", err)
	}
	if stored.AssetID != meta.AssetID || stored.ChecksumSHA256 != meta.ChecksumSHA256 {
		t.Errorf("sidecar не совпадает: %+v", stored)
	}
	copyData, err := os.ReadFile(arc.Files.FullPath(meta.ArchivePath))
	if err != nil || string(copyData) != string(data) {
		t.Fatalf("копия повреждена: %v", err)
	}

	// Запись индекса совпадает с sidecar-файлом
	rec, err := arc.Index.Get(context.Background(), meta.AssetID)
	if err != nil {
		t.Fatalf("ошибка Get: %v", err)
	}
	if rec.ArchivePath != meta.ArchivePath || rec.ChecksumSHA256 != meta.ChecksumSHA256 ||
		rec.ProfileID != "documents" || rec.FileName != "report.txt" {
		t.Errorf("запись индекса: %+v", rec)
	}
}

func TestIngest_ValidationHasNoSideEffects(t *testing.T) {
	arc := newTestArchive(t)
	if err := arc.Profiles.Save(documentsProfile()); err != nil {
		t.Fatalf("ошибка сохранения профиля: %v", err)
	}
	svc := NewIngestService(arc, testLogger())
	src := writeSource(t, t.TempDir(), "a.txt", []byte("a"))

	tests := []struct {
		name   string
		params IngestParams
		want   error
	}{
		{"неизвестный профиль", IngestParams{SourcePath: src, ProfileID: "nope"}, model.ErrUnknownProfile},
		{"нет обязательного поля", IngestParams{SourcePath: src, ProfileID: "documents"}, model.ErrRequiredField},
		{"пустое обязательное поле", IngestParams{SourcePath: src, ProfileID: "documents",
			Metadata: map[string]any{"title": "  "}}, model.ErrRequiredField},
		{"неверный тип", IngestParams{SourcePath: src, ProfileID: "documents",
			Metadata: map[string]any{"title": "x", "pages": "много"}}, model.ErrInvalidFieldValue},
		{"нет источника", IngestParams{SourcePath: filepath.Join(t.TempDir(), "missing")}, model.ErrSourceNotFound},
		{"каталог вместо файла", IngestParams{SourcePath: t.TempDir()}, model.ErrNotRegularFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ожидалась %v, получено %v", tt.want, err)
			}
		})
	}

	if files := assetFiles(t, arc.Root()); len(files) != 0 {
		t.Errorf("после ошибок в архиве остались файлы: %v", files)
	}
	if n, _ := arc.Index.Count(context.Background()); n != 0 {
		t.Errorf("после ошибок в индексе %d записей", n)
	}
}

func TestIngest_SameNameDoesNotOverwrite(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewIngestService(arc, testLogger())

	a := writeSource(t, t.TempDir(), "scan.txt", []byte("первый"))
	b := writeSource(t, t.TempDir(), "scan.txt", []byte("второй"))

	m1 := ingestOne(t, svc, IngestParams{SourcePath: a, TargetSubdir: "inbox"})
	m2 := ingestOne(t, svc, IngestParams{SourcePath: b, TargetSubdir: "inbox"})

	if m1.ArchivePath == m2.ArchivePath {
		t.Fatalf("оба файла записаны в %s", m1.ArchivePath)
	}
	for _, m := range []*struct {
		path string
		want string
	}{{m1.ArchivePath, "первый"}, {m2.ArchivePath, "второй"}} {
		got, err := os.ReadFile(arc.Files.FullPath(m.path))
		if err != nil || string(got) != m.want {
			t.Errorf("%s: содержимое %q, ожидалось %q", m.path, got, m.want)
		}
	}
}

// TestIngest_ReusesFreedPath проверяет приём в путь, освобождённый
// удалением файла и sidecar-файла без восстановления индекса.
func TestIngest_ReusesFreedPath(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewIngestService(arc, testLogger())
	ctx := context.Background()

	src := writeSource(t, t.TempDir(), "a.txt", []byte("первая версия"))
	first := ingestOne(t, svc, IngestParams{SourcePath: src, TargetSubdir: "inbox"})

	if err := os.Remove(arc.Files.FullPath(first.ArchivePath)); err != nil {
		t.Fatalf("ошибка удаления файла: %v", err)
	}
	if err := os.Remove(arc.SidecarPath(first.ArchivePath)); err != nil {
		t.Fatalf("ошибка удаления sidecar: %v", err)
	}

	second := ingestOne(t, svc, IngestParams{SourcePath: src, TargetSubdir: "inbox"})
	if second.ArchivePath != first.ArchivePath {
		t.Fatalf("archive_path = %s, ожидался освобождённый %s", second.ArchivePath, first.ArchivePath)
	}

	rec, err := arc.Index.Get(ctx, second.AssetID)
	if err != nil {
		t.Fatalf("новый актив не найден в индексе: %v", err)
	}
	if rec.ArchivePath != first.ArchivePath {
		t.Errorf("archive_path в индексе = %s", rec.ArchivePath)
	}
	if _, err := arc.Index.Get(ctx, first.AssetID); !errors.Is(err, model.ErrAssetNotFound) {
		t.Errorf("устаревшая запись осталась в индексе: %v", err)
	}
}

func TestIngestDirectory_Progress(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewIngestService(arc, testLogger())

	dir := t.TempDir()
	for i, name := range []string{"a.txt", "b.txt", "c.txt", "sub/d.txt", ".hidden"} {
		writeSource(t, dir, name, sized(100+i, byte(i)))
	}
	writeSource(t, dir, "a.txt.metadata.json", []byte("{}"))

	var (
		mu    sync.Mutex
		calls []int
	)
	res, err := svc.IngestDirectory(context.Background(), BatchParams{
		Dir:       dir,
		Recursive: true,
		Workers:   3,
		Progress: func(item BatchItem, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if total != 4 {
				t.Errorf("total = %d, ожидалось 4", total)
			}
			calls = append(calls, done)
		},
	})
	if err != nil {
		t.Fatalf("ошибка IngestDirectory: %v", err)
	}
	if res.Total != 4 || res.Succeeded != 4 || res.Failed != 0 || res.Cancelled {
		t.Fatalf("неверный итог: %+v", res)
	}
	if len(calls) != 4 {
		t.Fatalf("progress вызван %d раз", len(calls))
	}
	seen := map[int]bool{}
	for _, c := range calls {
		seen[c] = true
	}
	for i := 1; i <= 4; i++ {
		if !seen[i] {
			t.Errorf("progress не получил done=%d: %v", i, calls)
		}
	}
	for _, item := range res.Items {
		if !item.OK() || item.AssetID == "" {
			t.Errorf("файл не принят: %+v", item)
		}
	}
	if n, _ := arc.Index.Count(context.Background()); n != 4 {
		t.Errorf("в индексе %d записей, ожидалось 4", n)
	}
}

func TestIngestDirectory_PartialFailure(t *testing.T) {
	arc := newTestArchive(t)
	if err := arc.Profiles.Save(documentsProfile()); err != nil {
		t.Fatalf("ошибка сохранения профиля: %v", err)
	}
	svc := NewIngestService(arc, testLogger())

	dir := t.TempDir()
	writeSource(t, dir, "a.txt", []byte("a"))
	writeSource(t, dir, "b.txt", []byte("b"))

	// Обязательного title нет ни у одного файла
	res, err := svc.IngestDirectory(context.Background(), BatchParams{Dir: dir, ProfileID: "documents"})
	if err != nil {
		t.Fatalf("ошибка IngestDirectory: %v", err)
	}
	if res.Failed != 2 || res.Succeeded != 0 {
		t.Fatalf("неверный итог: %+v", res)
	}
	for _, item := range res.Items {
		if !errors.Is(item.Err, model.ErrRequiredField) {
			t.Errorf("%s: ожидалась ErrRequiredField, получено %v", item.SourcePath, item.Err)
		}
	}
}

func TestIngestDirectory_Cancelled(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewIngestService(arc, testLogger())

	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeSource(t, dir, name, []byte(name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.IngestDirectory(ctx, BatchParams{Dir: dir, Workers: 1})
	if err != nil {
		t.Fatalf("ошибка IngestDirectory: %v", err)
	}
	if !res.Cancelled || res.Succeeded != 0 {
		t.Fatalf("ожидалась отмена всего пакета: %+v", res)
	}
	if files := assetFiles(t, arc.Root()); len(files) != 0 {
		t.Errorf("после отмены в архиве файлы: %v", files)
	}
}

func TestIngestDirectory_PreserveStructure(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewIngestService(arc, testLogger())

	dir := t.TempDir()
	writeSource(t, dir, "2019/trip/img.txt", []byte("x"))

	res, err := svc.IngestDirectory(context.Background(), BatchParams{
		Dir: dir, Recursive: true, PreserveStructure: true,
	})
	if err != nil {
		t.Fatalf("ошибка IngestDirectory: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("неверный итог: %+v", res)
	}
	if got := res.Items[0].ArchivePath; got != "assets/2019/trip/img.txt" {
		t.Errorf("archive_path = %q", got)
	}
}
