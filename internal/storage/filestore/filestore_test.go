package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

const sumABC = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

// writeSource создаёт исходный файл вне архива.
func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("ошибка записи источника: %v", err)
	}
	return path
}

func TestPlace(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	src := writeSource(t, "abc.txt", "abc")

	res, err := fs.Place(src, "2024/03/documents", "abc.txt")
	if err != nil {
		t.Fatalf("ошибка Place: %v", err)
	}
	if res.ArchivePath != "assets/2024/03/documents/abc.txt" {
		t.Errorf("ArchivePath: получено %q", res.ArchivePath)
	}
	if res.Checksum != sumABC || res.Size != 3 {
		t.Errorf("checksum/size: %s/%d", res.Checksum, res.Size)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("источник не должен удаляться")
	}
	if !fs.FileExists(res.ArchivePath) {
		t.Error("сохранённый файл не найден")
	}
	if _, err := os.Stat(res.FullPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
}

// TestPlaceCollision проверяет суффиксы при совпадении имён.
func TestPlaceCollision(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	want := []string{
		"assets/x/report.txt",
		"assets/x/report_1.txt",
		"assets/x/report_2.txt",
	}
	for i, w := range want {
		src := writeSource(t, "report.txt", strings.Repeat("r", i+1))
		res, err := fs.Place(src, "x", "report.txt")
		if err != nil {
			t.Fatalf("ошибка Place: %v", err)
		}
		if res.ArchivePath != w {
			t.Errorf("ожидалось %q, получено %q", w, res.ArchivePath)
		}
	}

	data, err := os.ReadFile(fs.FullPath("assets/x/report.txt"))
	if err != nil || string(data) != "r" {
		t.Errorf("первый файл перезаписан: %q %v", data, err)
	}
}

// TestPlaceConcurrent проверяет, что параллельные вызовы не делят путь.
func TestPlaceConcurrent(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	src := writeSource(t, "same.bin", "data")

	const n = 16
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := fs.Place(src, "c", "same.bin")
			if err != nil {
				t.Errorf("ошибка Place: %v", err)
				return
			}
			paths[i] = res.ArchivePath
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("путь выдан дважды: %s", p)
		}
		seen[p] = true
	}
}

func TestPlaceRejectsEscape(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	src := writeSource(t, "a.txt", "a")
	res, err := fs.Place(src, "../../etc", "a.txt")
	if err != nil {
		t.Fatalf("ошибка Place: %v", err)
	}
	if !strings.HasPrefix(res.ArchivePath, "assets/") {
		t.Errorf("путь вышел за пределы assets: %s", res.ArchivePath)
	}
}

func TestDestinationDir(t *testing.T) {
	at := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		structure string
		mime      string
		file      string
		want      string
	}{
		{"year/month/type", "image/jpeg", "a.jpg", "2024/03/images"},
		{"", "text/plain; charset=utf-8", "a.txt", "2024/03/documents"},
		{"type/extension", "application/zip", "b.ZIP", "archives/zip"},
		{"inbox/year/day", "application/x-unknown", "c", "inbox/2024/05"},
		{"extension", "application/octet-stream", "noext", "noext"},
	}
	for _, tt := range tests {
		got := DestinationDir(model.OrganizationScheme{Structure: tt.structure}, at, tt.mime, tt.file)
		if got != tt.want {
			t.Errorf("%q: ожидалось %q, получено %q", tt.structure, tt.want, got)
		}
	}
}

func TestStoredName(t *testing.T) {
	preserve := model.OrganizationScheme{PreserveOriginalNames: true}
	if got := StoredName(preserve, "Мой отчёт?.PDF"); got != "Мой отчёт.PDF" {
		t.Errorf("получено %q", got)
	}

	normalize := model.OrganizationScheme{PreserveOriginalNames: true, NormalizeNames: true}
	if got := StoredName(normalize, "Annual Report.PDF"); got != "annual_report.pdf" {
		t.Errorf("получено %q", got)
	}

	anon := model.OrganizationScheme{}
	got := StoredName(anon, "secret.txt")
	if !strings.HasSuffix(got, ".txt") || strings.Contains(got, "secret") {
		t.Errorf("ожидалось случайное имя с .txt, получено %q", got)
	}

	if got := SafeFilename("../.."); got != "file" {
		t.Errorf("SafeFilename: получено %q", got)
	}
}

func TestDetectContentType(t *testing.T) {
	dir := t.TempDir()

	byExt := filepath.Join(dir, "a.png")
	if err := os.WriteFile(byExt, []byte("не png"), 0o640); err != nil {
		t.Fatal(err)
	}
	if mt, _ := DetectContentType(byExt); mt != "image/png" {
		t.Errorf("по расширению: получено %q", mt)
	}

	sniff := filepath.Join(dir, "noext")
	if err := os.WriteFile(sniff, []byte("%PDF-1.4\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if mt, _ := DetectContentType(sniff); mt != "application/pdf" {
		t.Errorf("по содержимому: получено %q", mt)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o640); err != nil {
		t.Fatal(err)
	}
	if mt, _ := DetectContentType(empty); mt != "application/octet-stream" {
		t.Errorf("пустой файл: получено %q", mt)
	}
}

func TestContentBucket(t *testing.T) {
	cases := map[string]string{
		"image/png":                 BucketImages,
		"video/mp4":                 BucketVideo,
		"audio/mpeg":                BucketAudio,
		"text/plain; charset=utf-8": BucketDocuments,
		"application/pdf":           BucketDocuments,
		"application/zip":           BucketArchives,
		"application/octet-stream":  BucketOther,
	}
	for mt, want := range cases {
		if got := ContentBucket(mt); got != want {
			t.Errorf("%s: ожидалось %s, получено %s", mt, want, got)
		}
	}
}
