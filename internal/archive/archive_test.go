package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
)

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInitAndOpen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	a, err := Init(ctx, root, InitOptions{Name: "Семейный архив", Description: "фото"}, testLogger())
	if err != nil {
		t.Fatalf("ошибка Init: %v", err)
	}
	cfg := a.Config()
	if cfg.Name != "Семейный архив" || cfg.Version != model.ConfigVersion || cfg.ID == "" {
		t.Errorf("неверная конфигурация: %+v", cfg)
	}
	if cfg.Organization.Structure != model.DefaultStructure || !cfg.Organization.PreserveOriginalNames {
		t.Errorf("схема раскладки по умолчанию: %+v", cfg.Organization)
	}
	for _, p := range []string{
		filepath.Join(root, ConfigFileName),
		filepath.Join(root, "assets"),
		filepath.Join(root, "profiles"),
		filepath.Join(root, index.DirName, index.FileName),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("не создан %s: %v", p, err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("ошибка Close: %v", err)
	}

	if _, err := Init(ctx, root, InitOptions{}, testLogger()); !errors.Is(err, model.ErrArchiveExists) {
		t.Fatalf("повторный Init: ожидалась ErrArchiveExists, получено %v", err)
	}

	b, err := Open(ctx, root, testLogger())
	if err != nil {
		t.Fatalf("ошибка Open: %v", err)
	}
	defer b.Close()
	if b.Config().ID != cfg.ID {
		t.Errorf("Open вернул другой архив")
	}

	if err := b.UpdateConfig(func(c *model.ArchiveConfig) {
		c.Description = "обновлено"
		c.ID = "подмена"
	}); err != nil {
		t.Fatalf("ошибка UpdateConfig: %v", err)
	}
	if b.Config().ID != cfg.ID || b.Config().Description != "обновлено" {
		t.Errorf("UpdateConfig: %+v", b.Config())
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), testLogger())
	if !errors.Is(err, model.ErrArchiveNotFound) {
		t.Fatalf("ожидалась ErrArchiveNotFound, получено %v", err)
	}
}

// TestTwoArchives проверяет, что архивы в одном процессе независимы.
func TestTwoArchives(t *testing.T) {
	ctx := context.Background()
	a, err := Init(ctx, t.TempDir(), InitOptions{Name: "a"}, testLogger())
	if err != nil {
		t.Fatalf("ошибка Init: %v", err)
	}
	defer a.Close()
	b, err := Init(ctx, t.TempDir(), InitOptions{Name: "b"}, testLogger())
	if err != nil {
		t.Fatalf("ошибка Init: %v", err)
	}
	defer b.Close()

	if err := a.Profiles.Save(&model.Profile{ID: "only-a", Name: "A"}); err != nil {
		t.Fatalf("ошибка сохранения профиля: %v", err)
	}
	if b.Profiles.Exists("only-a") {
		t.Error("профиль архива a виден в архиве b")
	}
}
