package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/config"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/s3sink"
)

// Параметры сервисов для одиночного запуска CLI.
const (
	cliCacheSize = 256
	cliCacheTTL  = time.Minute
	cliMaxLimit  = 100000
)

// app — общее состояние вызова archivectl.
type app struct {
	root    string
	workers int
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer

	arc *archive.Archive
	// progressMu сериализует вывод прогресса из горутин обработчиков
	progressMu sync.Mutex
}

// services — сервисы над открытым архивом.
type services struct {
	arc       *archive.Archive
	ingest    *service.IngestService
	search    *service.SearchService
	profiles  *service.ProfileService
	integrity *service.IntegrityService
	export    *service.ExportService
}

// open открывает архив по --root.
func (a *app) open(ctx context.Context) (*archive.Archive, error) {
	if a.arc != nil {
		return a.arc, nil
	}
	if a.root == "" {
		return nil, usageErrorf("не задан корень архива: укажите --root или OA_ARCHIVE_ROOT")
	}
	arc, err := archive.Open(ctx, a.root, a.logger)
	if err != nil {
		return nil, err
	}
	a.arc = arc
	return arc, nil
}

// services открывает архив и собирает сервисы. publisher может быть nil.
func (a *app) services(ctx context.Context, publisher service.Publisher) (*services, error) {
	arc, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	search := service.NewSearchService(arc, service.NewCacheService(cliCacheSize, cliCacheTTL), cliMaxLimit, a.logger)
	return &services{
		arc:       arc,
		ingest:    service.NewIngestService(arc, a.logger),
		search:    search,
		profiles:  service.NewProfileService(arc, a.logger),
		integrity: service.NewIntegrityService(arc, a.workers, 0, a.logger),
		export:    service.NewExportService(arc, search, publisher, config.Version, a.logger),
	}, nil
}

// publisher создаёт публикатор S3 по переменным OA_S3_*.
func (a *app) publisher(ctx context.Context) (service.Publisher, error) {
	cfg, err := config.LoadS3()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, usageErrorf("для --publish задайте OA_S3_BUCKET")
	}
	return s3sink.New(ctx, cfg, a.logger)
}

func (a *app) close() {
	if a.arc == nil {
		return
	}
	if err := a.arc.Close(); err != nil {
		a.logger.Error("Ошибка закрытия архива", slog.String("error", err.Error()))
	}
	a.arc = nil
}

// progressf печатает строку прогресса в stderr.
func (a *app) progressf(format string, args ...any) {
	a.progressMu.Lock()
	defer a.progressMu.Unlock()
	fmt.Fprintf(a.stderr, format+"\n", args...)
}

// printJSON печатает v в stdout с отступами.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newFlagSet создаёт набор флагов команды.
func (a *app) newFlagSet(name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Использование: archivectl %s\n\nФлаги:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags разбирает флаги команды; ошибка разбора — ошибка использования.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return &exitCodeError{code: exitUsage, err: err}
	}
	return nil
}

// parseMetadata собирает пользовательские поля из --meta key=value
// и файла --meta-file (JSON или YAML). Значение --meta разбирается как
// YAML-скаляр или список: 1921 — число, true — логическое, [a, b] — список.
func parseMetadata(pairs []string, file string, readFile func(string) ([]byte, error)) (map[string]any, error) {
	out := map[string]any{}
	if file != "" {
		data, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, usageErrorf("некорректный файл метаданных %s: %v", file, err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageErrorf("--meta ожидает key=value, получено %q", pair)
		}
		out[key] = parseValue(raw)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// parseValue разбирает значение как YAML; при ошибке — строка как есть.
// Даты остаются строками: проверку формата выполняет профиль.
func parseValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	switch v.(type) {
	case string, bool, int, float64, []any:
		return v
	}
	return raw
}
