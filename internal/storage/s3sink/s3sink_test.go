package s3sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakePutter запоминает загруженные объекты.
type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
	fail    bool
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("сбой хранилища")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if aws.ToInt64(in.ContentLength) != int64(len(data)) {
		return nil, errors.New("неверный ContentLength")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("ошибка записи файла: %v", err)
	}
}

func TestPublishDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bagit.txt"), "BagIt-Version: 1.0\n")
	writeFile(t, filepath.Join(dir, "data", "assets", "a.txt"), "hello")

	fp := &fakePutter{objects: map[string]string{}}
	sink := newSink(fp, "bucket", "/exports/", testLogger())

	res, err := sink.PublishDir(context.Background(), dir, "bag-1")
	if err != nil {
		t.Fatalf("ошибка PublishDir: %v", err)
	}
	if res.Objects != 2 || res.Bytes != int64(len("BagIt-Version: 1.0\n")+5) {
		t.Errorf("неверный результат: %+v", res)
	}
	if res.Prefix != "exports/bag-1" {
		t.Errorf("префикс = %q", res.Prefix)
	}

	keys := make([]string, 0, len(fp.objects))
	for k := range fp.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"bucket/exports/bag-1/bagit.txt", "bucket/exports/bag-1/data/assets/a.txt"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("ключи = %v, ожидалось %v", keys, want)
	}
	if fp.objects[want[1]] != "hello" {
		t.Errorf("содержимое объекта = %q", fp.objects[want[1]])
	}
}

func TestPublishDirFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "x")

	sink := newSink(&fakePutter{objects: map[string]string{}, fail: true}, "b", "", testLogger())
	if _, err := sink.PublishDir(context.Background(), dir, "x"); err == nil {
		t.Fatal("ожидалась ошибка публикации")
	}
}

func TestPublishDirCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fp := &fakePutter{objects: map[string]string{}}
	sink := newSink(fp, "b", "", testLogger())
	if _, err := sink.PublishDir(ctx, dir, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась context.Canceled, получено %v", err)
	}
	if len(fp.objects) != 0 {
		t.Errorf("после отмены загружено %d объектов", len(fp.objects))
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка без bucket")
	}
	if (Config{Bucket: "b"}).Enabled() != true {
		t.Error("Enabled() = false при заданном bucket")
	}
}
