// export.go — сервис экспорта активов в пакет BagIt или зеркальный каталог.
package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/checksum"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/s3sink"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// Prometheus метрики экспорта
var (
	// exportTotal — количество экспортов по формату и результату.
	exportTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oa_export_total",
		Help: "Количество операций экспорта по формату и результату",
	}, []string{"format", "result"})

	// exportBytesTotal — объём экспортированных данных.
	exportBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_export_bytes_total",
		Help: "Общий объём экспортированных файлов данных в байтах",
	})
)

// ExportFormat — формат пакета экспорта.
type ExportFormat string

const (
	// FormatBagIt — пакет BagIt 1.0 (RFC 8493)
	FormatBagIt ExportFormat = "bagit"
	// FormatDirectory — зеркало <dest>/<archive_path> с sidecar-файлами
	FormatDirectory ExportFormat = "directory"
)

// Имена файлов пакета BagIt.
const (
	bagDeclaration  = "bagit.txt"
	bagInfo         = "bag-info.txt"
	bagManifest     = "manifest-sha256.txt"
	bagTagManifest  = "tagmanifest-sha256.txt"
	bagPayloadDir   = "data"
	BagSoftwareName = "open-archiver"
)

// Publisher — внешнее хранилище готовых пакетов.
type Publisher interface {
	PublishDir(ctx context.Context, dir, name string) (*s3sink.Published, error)
}

// ExportParams — параметры экспорта.
type ExportParams struct {
	// AssetIDs — явный список активов
	AssetIDs []string
	// Query — поисковый запрос; используется, если AssetIDs пуст
	Query *SearchParams
	// Destination — каталог пакета
	Destination string
	Format      ExportFormat
	// AllowMerge — разрешить запись в непустой каталог
	AllowMerge bool
	// BagInfo — дополнительные поля bag-info.txt
	BagInfo map[string]string
	// Publish — загрузить пакет во внешнее хранилище
	Publish bool
}

// ExportFailure — актив, который не удалось экспортировать.
type ExportFailure struct {
	AssetID     string `json:"asset_id,omitempty"`
	ArchivePath string `json:"archive_path,omitempty"`
	Reason      string `json:"reason"`
}

// ExportResult — итог экспорта.
type ExportResult struct {
	Destination string            `json:"destination"`
	Format      ExportFormat      `json:"format"`
	Exported    []string          `json:"exported"`
	Failures    []ExportFailure   `json:"failures"`
	FileCount   int               `json:"file_count"`
	TotalBytes  int64             `json:"total_bytes"`
	Success     bool              `json:"success"`
	Duration    time.Duration     `json:"duration"`
	Published   *s3sink.Published `json:"published,omitempty"`
}

// manifestLine — строка manifest-файла BagIt.
type manifestLine struct {
	sum  string
	path string
}

// ExportService — сервис экспорта.
type ExportService struct {
	arc       *archive.Archive
	search    *SearchService
	publisher Publisher
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewExportService создаёт сервис экспорта.
// publisher может быть nil — тогда публикация недоступна.
func NewExportService(arc *archive.Archive, search *SearchService, publisher Publisher, version string, logger *slog.Logger) *ExportService {
	return &ExportService{
		arc:       arc,
		search:    search,
		publisher: publisher,
		version:   version,
		logger:    logger.With(slog.String("component", "export_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export копирует выбранные активы в пакет.
//
// Поток:
//  1. Проверка параметров и каталога назначения (до копирования)
//  2. Выбор активов: явные id, поисковый запрос или весь архив
//  3. Копирование файлов данных и sidecar-файлов с подсчётом SHA-256
//  4. Файлы-теги BagIt
//  5. Публикация (опционально)
//
// Ошибка копирования одного актива не прерывает экспорт:
// актив попадает в Failures и не включается в manifest.
func (s *ExportService) Export(ctx context.Context, params ExportParams) (*ExportResult, error) {
	start := time.Now()

	format := params.Format
	if format == "" {
		format = FormatBagIt
	}

	res, err := s.export(ctx, params, format)
	if err != nil {
		exportTotal.WithLabelValues(string(format), "error").Inc()
		return nil, err
	}
	res.Duration = time.Since(start)

	result := "ok"
	if !res.Success {
		result = "partial"
	}
	exportTotal.WithLabelValues(string(format), result).Inc()
	exportBytesTotal.Add(float64(res.TotalBytes))

	s.logger.Info("Экспорт завершён",
		slog.String("destination", res.Destination),
		slog.String("format", string(format)),
		slog.Int("exported", len(res.Exported)),
		slog.Int("failures", len(res.Failures)),
		slog.Int64("bytes", res.TotalBytes),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *ExportService) export(ctx context.Context, params ExportParams, format ExportFormat) (*ExportResult, error) {
	// 1. Проверка параметров
	if format != FormatBagIt && format != FormatDirectory {
		return nil, fmt.Errorf("%w: неизвестный формат %q", model.ErrInvalidExport, format)
	}
	if params.Destination == "" {
		return nil, fmt.Errorf("%w: не задан каталог назначения", model.ErrInvalidExport)
	}
	if params.Publish && s.publisher == nil {
		return nil, model.ErrPublishNotConfigured
	}
	dest, err := filepath.Abs(params.Destination)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления пути %s: %w", params.Destination, err)
	}
	if within(s.arc.Root(), dest) {
		return nil, fmt.Errorf("%w: каталог назначения внутри архива", model.ErrInvalidExport)
	}
	if !params.AllowMerge {
		empty, err := dirEmpty(dest)
		if err != nil {
			return nil, err
		}
		if !empty {
			return nil, fmt.Errorf("%w: %s", model.ErrDestinationNotEmpty, dest)
		}
	}

	// 2. Выбор активов
	metas, failures, err := s.selectAssets(ctx, params)
	if err != nil {
		return nil, err
	}

	res := &ExportResult{
		Destination: dest,
		Format:      format,
		Exported:    []string{},
		Failures:    failures,
	}

	payloadRoot := dest
	if format == FormatBagIt {
		payloadRoot = filepath.Join(dest, bagPayloadDir)
	}
	if err := os.MkdirAll(payloadRoot, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога %s: %w", payloadRoot, err)
	}

	// 3. Копирование
	var manifest []manifestLine
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, n, err := s.copyAsset(meta, payloadRoot)
		if err != nil {
			res.Failures = append(res.Failures, ExportFailure{
				AssetID:     meta.AssetID,
				ArchivePath: meta.ArchivePath,
				Reason:      err.Error(),
			})
			s.logger.Warn("Актив не экспортирован",
				slog.String("asset_id", meta.AssetID),
				slog.String("archive_path", meta.ArchivePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		manifest = append(manifest, lines...)
		res.Exported = append(res.Exported, meta.AssetID)
		res.FileCount += len(lines)
		res.TotalBytes += n
	}

	// 4. Файлы-теги
	if format == FormatBagIt {
		if err := s.writeBagTags(dest, manifest, res, params.BagInfo); err != nil {
			return nil, err
		}
	}
	res.Success = len(res.Failures) == 0

	// 5. Публикация
	if params.Publish {
		pub, err := s.publisher.PublishDir(ctx, dest, filepath.Base(dest))
		if err != nil {
			return nil, err
		}
		res.Published = pub
	}
	return res, nil
}

// selectAssets возвращает метаданные выбранных активов в порядке
// archive_path. Ненайденные и нечитаемые попадают в failures.
func (s *ExportService) selectAssets(ctx context.Context, params ExportParams) ([]*model.AssetMetadata, []ExportFailure, error) {
	failures := []ExportFailure{}
	var metas []*model.AssetMetadata

	switch {
	case len(params.AssetIDs) > 0:
		seen := make(map[string]struct{}, len(params.AssetIDs))
		for _, id := range params.AssetIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			meta, err := s.arc.Lookup(ctx, id)
			if err != nil {
				if errors.Is(err, model.ErrAssetNotFound) {
					failures = append(failures, ExportFailure{AssetID: id, Reason: err.Error()})
					continue
				}
				return nil, nil, err
			}
			metas = append(metas, meta)
		}

	case params.Query != nil:
		records, err := s.search.All(ctx, *params.Query)
		if err != nil {
			return nil, nil, err
		}
		for _, rec := range records {
			meta, err := s.arc.ReadSidecar(rec.ArchivePath)
			if err == nil && meta.AssetID != rec.AssetID {
				err = fmt.Errorf("sidecar принадлежит другому активу (%s)", meta.AssetID)
			}
			if err != nil {
				failures = append(failures, ExportFailure{
					AssetID:     rec.AssetID,
					ArchivePath: rec.ArchivePath,
					Reason:      err.Error(),
				})
				continue
			}
			metas = append(metas, meta)
		}

	default:
		entries, err := s.arc.ScanSidecars()
		if err != nil {
			return nil, nil, err
		}
		byID, issues := collectSidecars(entries)
		for _, is := range issues {
			failures = append(failures, ExportFailure{AssetID: is.AssetID, ArchivePath: is.Path, Reason: is.Reason})
		}
		for _, m := range byID {
			metas = append(metas, m)
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].ArchivePath < metas[j].ArchivePath })
	return metas, failures, nil
}

// copyAsset копирует файл данных и sidecar-файл в payloadRoot.
// Возвращает строки manifest и объём файла данных.
// При несовпадении checksum скопированные файлы удаляются.
func (s *ExportService) copyAsset(meta *model.AssetMetadata, payloadRoot string) ([]manifestLine, int64, error) {
	rel := path.Clean(meta.ArchivePath)
	if rel == "." || path.IsAbs(rel) || strings.HasPrefix(rel, "../") || rel == ".." {
		return nil, 0, fmt.Errorf("недопустимый archive_path %q", meta.ArchivePath)
	}

	srcData := s.arc.Files.FullPath(meta.ArchivePath)
	dstData, err := reserveTarget(filepath.Join(payloadRoot, filepath.FromSlash(rel)))
	if err != nil {
		return nil, 0, err
	}

	sum, n, err := copyWithChecksum(srcData, dstData)
	if err != nil {
		_ = os.Remove(dstData)
		return nil, 0, err
	}
	if sum != meta.ChecksumSHA256 {
		_ = os.Remove(dstData)
		return nil, 0, fmt.Errorf("checksum не совпадает: ожидался %s, получен %s", meta.ChecksumSHA256, sum)
	}

	srcSidecar := s.arc.SidecarPath(meta.ArchivePath)
	dstSidecar := sidecar.Path(dstData)
	sidecarSum, _, err := copyWithChecksum(srcSidecar, dstSidecar)
	if err != nil {
		_ = os.Remove(dstData)
		return nil, 0, err
	}

	placed, err := filepath.Rel(payloadRoot, dstData)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка вычисления пути %s: %w", dstData, err)
	}
	payload := path.Join(bagPayloadDir, filepath.ToSlash(placed))
	return []manifestLine{
		{sum: sum, path: payload},
		{sum: sidecarSum, path: sidecar.Path(payload)},
	}, n, nil
}

// writeBagTags записывает bagit.txt, manifest, bag-info.txt и tagmanifest.
// manifest и Payload-Oxum описывают весь каталог data, включая файлы
// предыдущих экспортов в тот же пакет.
func (s *ExportService) writeBagTags(dest string, fresh []manifestLine, res *ExportResult, extra map[string]string) error {
	manifest, err := payloadManifest(dest, fresh)
	if err != nil {
		return err
	}

	var payloadBytes int64
	for _, line := range manifest {
		info, err := os.Stat(filepath.Join(dest, filepath.FromSlash(line.path)))
		if err != nil {
			return fmt.Errorf("ошибка чтения %s: %w", line.path, err)
		}
		payloadBytes += info.Size()
	}

	cfg := s.arc.Config()
	description := cfg.Name
	if cfg.Description != "" {
		description += ": " + cfg.Description
	}
	agent := BagSoftwareName
	if s.version != "" {
		agent += " " + s.version
	}

	info := [][2]string{
		{"Bagging-Date", s.now().Format(time.DateOnly)},
		{"Bag-Software-Agent", agent},
		{"Payload-Oxum", strconv.FormatInt(payloadBytes, 10) + "." + strconv.Itoa(len(manifest))},
		{"External-Description", description},
	}
	reserved := map[string]struct{}{}
	for _, kv := range info {
		reserved[kv[0]] = struct{}{}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := reserved[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		info = append(info, [2]string{k, extra[k]})
	}

	var infoText strings.Builder
	for _, kv := range info {
		fmt.Fprintf(&infoText, "%s: %s\n", kv[0], kv[1])
	}

	tags := []struct {
		name string
		data []byte
	}{
		{bagDeclaration, []byte("BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n")},
		{bagManifest, formatManifest(manifest)},
		{bagInfo, []byte(infoText.String())},
	}

	var tagLines []manifestLine
	for _, tag := range tags {
		p := filepath.Join(dest, tag.name)
		if err := sidecar.WriteFileAtomic(p, tag.data); err != nil {
			return err
		}
		sum, _, err := checksum.Sum(strings.NewReader(string(tag.data)))
		if err != nil {
			return err
		}
		tagLines = append(tagLines, manifestLine{sum: sum, path: tag.name})
	}
	if err := sidecar.WriteFileAtomic(filepath.Join(dest, bagTagManifest), formatManifest(tagLines)); err != nil {
		return err
	}
	res.FileCount += len(tags) + 1
	return nil
}

// payloadManifest собирает строки manifest для всех файлов data/.
// Для только что скопированных файлов используется посчитанная сумма,
// остальные хешируются заново.
func payloadManifest(dest string, fresh []manifestLine) ([]manifestLine, error) {
	known := make(map[string]string, len(fresh))
	for _, l := range fresh {
		known[l.path] = l.sum
	}

	var out []manifestLine
	payloadRoot := filepath.Join(dest, bagPayloadDir)
	err := filepath.WalkDir(payloadRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dest, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		sum, ok := known[rel]
		if !ok {
			if sum, _, err = checksum.File(p); err != nil {
				return err
			}
		}
		out = append(out, manifestLine{sum: sum, path: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", payloadRoot, err)
	}
	return out, nil
}

// reserveTarget занимает свободное имя для файла данных: при занятом
// имени или sidecar-файле выбирается name_1.ext, name_2.ext и так далее.
// Существующие файлы в каталоге назначения не перезаписываются.
func reserveTarget(dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания каталога для %s: %w", dst, err)
	}
	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(dst, ext)

	for i := 0; i < maxTargetAttempts; i++ {
		candidate := dst
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		if _, err := os.Lstat(sidecar.Path(candidate)); err == nil {
			continue
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("ошибка резервирования %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("не удалось подобрать свободное имя для %s", dst)
}

// maxTargetAttempts — предел перебора суффиксов в reserveTarget.
const maxTargetAttempts = 10000

// formatManifest формирует manifest в порядке путей.
func formatManifest(lines []manifestLine) []byte {
	sorted := make([]manifestLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })

	var b strings.Builder
	for _, l := range sorted {
		b.WriteString(l.sum)
		b.WriteString("  ")
		b.WriteString(l.path)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// copyWithChecksum копирует файл через временный файл и считает
// SHA-256 записанных данных.
func copyWithChecksum(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка открытия %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", 0, fmt.Errorf("ошибка создания каталога для %s: %w", dst, err)
	}

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла для %s: %w", dst, err)
	}
	tmp := out.Name()
	if err := out.Chmod(0o640); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("ошибка установки прав %s: %w", tmp, err)
	}

	sum, n, err := checksum.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("ошибка копирования %s: %w", src, err)
	}
	return sum, n, nil
}

// dirEmpty возвращает true, если каталог не существует или пуст.
func dirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("ошибка открытия %s: %w", dir, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s не является каталогом", model.ErrInvalidExport, dir)
	}
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// within проверяет, лежит ли path внутри root (или совпадает с ним).
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ManifestFormat — формат manifest-отчёта.
type ManifestFormat string

const (
	ManifestJSON ManifestFormat = "json"
	ManifestCSV  ManifestFormat = "csv"
)

// ManifestEntry — строка manifest-отчёта.
type ManifestEntry struct {
	AssetID        string    `json:"asset_id"`
	ArchivePath    string    `json:"archive_path"`
	FileSize       int64     `json:"file_size"`
	ChecksumSHA256 string    `json:"checksum_sha256"`
	MimeType       string    `json:"mime_type"`
	ProfileID      string    `json:"profile_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manifest — manifest-отчёт архива.
type Manifest struct {
	ArchiveID   string          `json:"archive_id"`
	ArchiveName string          `json:"archive_name"`
	GeneratedAt time.Time       `json:"generated_at"`
	TotalAssets int             `json:"total_assets"`
	TotalSize   int64           `json:"total_size"`
	Assets      []ManifestEntry `json:"assets"`
}

// GenerateManifest записывает в w перечень всех активов архива,
// построенный по sidecar-файлам. Нечитаемые sidecar-файлы пропускаются
// с предупреждением в журнале.
func (s *ExportService) GenerateManifest(ctx context.Context, w io.Writer, format ManifestFormat) error {
	if format == "" {
		format = ManifestJSON
	}
	if format != ManifestJSON && format != ManifestCSV {
		return fmt.Errorf("%w: неизвестный формат manifest %q", model.ErrInvalidExport, format)
	}

	entries, err := s.arc.ScanSidecars()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	byID, issues := collectSidecars(entries)
	for _, is := range issues {
		s.logger.Warn("Sidecar-файл пропущен в manifest",
			slog.String("path", is.Path),
			slog.String("error", is.Reason),
		)
	}

	cfg := s.arc.Config()
	m := Manifest{
		ArchiveID:   cfg.ID,
		ArchiveName: cfg.Name,
		GeneratedAt: s.now(),
		Assets:      make([]ManifestEntry, 0, len(byID)),
	}
	for _, meta := range byID {
		m.Assets = append(m.Assets, ManifestEntry{
			AssetID:        meta.AssetID,
			ArchivePath:    meta.ArchivePath,
			FileSize:       meta.FileSize,
			ChecksumSHA256: meta.ChecksumSHA256,
			MimeType:       meta.MimeType,
			ProfileID:      meta.Profile(),
			CreatedAt:      meta.CreatedAt,
		})
		m.TotalSize += meta.FileSize
	}
	sort.Slice(m.Assets, func(i, j int) bool { return m.Assets[i].ArchivePath < m.Assets[j].ArchivePath })
	m.TotalAssets = len(m.Assets)

	if format == ManifestJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"asset_id", "archive_path", "file_size", "checksum_sha256", "mime_type", "profile_id", "created_at"}); err != nil {
		return err
	}
	for _, e := range m.Assets {
		if err := cw.Write([]string{
			e.AssetID,
			e.ArchivePath,
			strconv.FormatInt(e.FileSize, 10),
			e.ChecksumSHA256,
			e.MimeType,
			e.ProfileID,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
