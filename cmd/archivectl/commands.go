package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/config"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/checksum"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/profiles"
)

// command — подкоманда archivectl.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"init", "создать архив", cmdInit},
	{"info", "сведения об архиве", cmdInfo},
	{"ingest", "принять файл или каталог", cmdIngest},
	{"search", "поиск активов", cmdSearch},
	{"get", "метаданные актива", cmdGet},
	{"lookup", "найти активы по SHA-256 или по содержимому файла", cmdLookup},
	{"verify", "проверить целостность", cmdVerify},
	{"rebuild", "перестроить индекс по sidecar-файлам", cmdRebuild},
	{"repair", "восстановить индекс по результатам сверки", cmdRepair},
	{"orphans", "файлы данных без sidecar-файла", cmdOrphans},
	{"export", "экспорт активов в BagIt или каталог", cmdExport},
	{"manifest", "manifest архива (json, csv)", cmdManifest},
	{"profile", "профили метаданных: add, list, show, delete, usage", cmdProfile},
	{"stats", "статистика архива", cmdStats},
	{"duplicates", "активы с одинаковой контрольной суммой", cmdDuplicates},
	{"version", "версия archivectl", cmdVersion},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// --- init ---

func cmdInit(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("init", "init [флаги]")
	name := fs.String("name", "Open Archiver", "имя архива")
	description := fs.String("description", "", "описание архива")
	structure := fs.String("structure", model.DefaultStructure, "схема раскладки: сегменты year, month, day, type, extension через /")
	preserve := fs.Bool("preserve-names", true, "сохранять исходные имена файлов")
	normalize := fs.Bool("normalize-names", false, "нижний регистр и _ вместо пробелов в именах")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.root == "" {
		return usageErrorf("не задан корень архива: укажите --root или OA_ARCHIVE_ROOT")
	}

	arc, err := archive.Init(ctx, a.root, archive.InitOptions{
		Name:        *name,
		Description: *description,
		Organization: &model.OrganizationScheme{
			Structure:             *structure,
			PreserveOriginalNames: *preserve,
			NormalizeNames:        *normalize,
		},
	}, a.logger)
	if err != nil {
		return err
	}
	a.arc = arc

	cfg := arc.Config()
	fmt.Fprintf(a.stdout, "Архив создан: %s\n", arc.Root())
	fmt.Fprintf(a.stdout, "  id:   %s\n", cfg.ID)
	fmt.Fprintf(a.stdout, "  имя:  %s\n", cfg.Name)
	return nil
}

// --- info ---

func cmdInfo(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("info", "info [--json] [--set-name ИМЯ] [--set-description ТЕКСТ] [--set-structure СХЕМА]")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	setName := fs.String("set-name", "", "изменить имя архива")
	setDescription := fs.String("set-description", "", "изменить описание архива")
	setStructure := fs.String("set-structure", "", "изменить схему раскладки для новых активов")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	arc, err := a.open(ctx)
	if err != nil {
		return err
	}

	if fs.Changed("set-name") || fs.Changed("set-description") || fs.Changed("set-structure") {
		if fs.Changed("set-name") && strings.TrimSpace(*setName) == "" {
			return usageErrorf("--set-name не может быть пустым")
		}
		if fs.Changed("set-structure") && len((model.OrganizationScheme{Structure: *setStructure}).Segments()) == 0 {
			return usageErrorf("--set-structure не может быть пустым")
		}
		if err := arc.UpdateConfig(func(cfg *model.ArchiveConfig) {
			if fs.Changed("set-name") {
				cfg.Name = strings.TrimSpace(*setName)
			}
			if fs.Changed("set-description") {
				cfg.Description = *setDescription
			}
			if fs.Changed("set-structure") {
				cfg.Organization.Structure = *setStructure
			}
		}); err != nil {
			return err
		}
	}
	stats, err := arc.Index.Stats(ctx)
	if err != nil {
		return err
	}
	profileList, _ := arc.Profiles.List()
	cfg := arc.Config()

	if *asJSON {
		return a.printJSON(map[string]any{
			"archive":    cfg,
			"root":       arc.Root(),
			"statistics": stats,
			"profiles":   len(profileList),
		})
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Имя:\t%s\n", cfg.Name)
	fmt.Fprintf(tw, "ID:\t%s\n", cfg.ID)
	if cfg.Description != "" {
		fmt.Fprintf(tw, "Описание:\t%s\n", cfg.Description)
	}
	fmt.Fprintf(tw, "Корень:\t%s\n", arc.Root())
	fmt.Fprintf(tw, "Создан:\t%s\n", cfg.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Раскладка:\t%s\n", cfg.Organization.Structure)
	fmt.Fprintf(tw, "Активов:\t%d\n", stats.TotalAssets)
	fmt.Fprintf(tw, "Объём:\t%s\n", humanize.IBytes(uint64(stats.TotalSize)))
	fmt.Fprintf(tw, "Проверено:\t%d\n", stats.Verified)
	fmt.Fprintf(tw, "Профилей:\t%d\n", len(profileList))
	return tw.Flush()
}

// --- ingest ---

func cmdIngest(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("ingest", "ingest <файл|каталог> [флаги]")
	profileID := fs.String("profile", "", "профиль метаданных")
	meta := fs.StringArray("meta", nil, "поле метаданных key=value (повторяемый)")
	metaFile := fs.String("meta-file", "", "файл метаданных (JSON или YAML)")
	target := fs.String("target", "", "подкаталог внутри assets/ вместо схемы раскладки")
	recursive := fs.BoolP("recursive", "r", false, "обходить подкаталоги")
	preserve := fs.Bool("preserve-structure", false, "сохранять структуру каталогов источника")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("ingest ожидает один путь, получено %d", fs.NArg())
	}
	source := fs.Arg(0)

	metadata, err := parseMetadata(*meta, *metaFile, os.ReadFile)
	if err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrSourceNotFound, source)
	}
	if !info.IsDir() {
		res, err := svc.ingest.Ingest(ctx, service.IngestParams{
			SourcePath:   source,
			ProfileID:    *profileID,
			Metadata:     metadata,
			TargetSubdir: *target,
		})
		if err != nil {
			return err
		}
		if *asJSON {
			return a.printJSON(res.Asset)
		}
		fmt.Fprintf(a.stdout, "%s\t%s\n", res.Asset.AssetID, res.Asset.ArchivePath)
		if res.IndexErr != nil {
			fmt.Fprintf(a.stderr, "Предупреждение: индекс не обновлён (%v), выполните rebuild\n", res.IndexErr)
		}
		return nil
	}

	if *target != "" {
		return usageErrorf("--target применим только к одному файлу")
	}
	res, err := svc.ingest.IngestDirectory(ctx, service.BatchParams{
		Dir:               source,
		Recursive:         *recursive,
		ProfileID:         *profileID,
		Metadata:          metadata,
		Workers:           a.workers,
		PreserveStructure: *preserve,
		Progress: func(item service.BatchItem, done, total int) {
			if *asJSON {
				return
			}
			status := item.ArchivePath
			if item.Error != "" {
				status = "ошибка: " + item.Error
			}
			a.progressf("[%d/%d] %s → %s", done, total, item.SourcePath, status)
		},
	})
	if err != nil {
		return err
	}
	if *asJSON {
		if err := a.printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(a.stdout, "Принято: %d из %d, ошибок: %d, время: %s\n",
			res.Succeeded, res.Total, res.Failed, res.Duration.Round(1e6))
	}
	if res.Failed > 0 {
		return fmt.Errorf("не удалось принять %d файл(ов)", res.Failed)
	}
	return nil
}

// --- search ---

func cmdSearch(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("search", "search [текст] [флаги]")
	filters := fs.StringArray("filter", nil, "фильтр: поле=значение, поле=min..max, поле~=подстрока (повторяемый)")
	tags := fs.StringArray("tag", nil, "тег (повторяемый)")
	profileID := fs.String("profile", "", "только активы профиля")
	mimeType := fs.String("mime", "", "только активы MIME-типа")
	limit := fs.Int("limit", 20, "размер страницы")
	offset := fs.Int("offset", 0, "смещение")
	sortBy := fs.String("sort", "", "колонка сортировки (created_at, file_name, file_size, ...)")
	desc := fs.Bool("desc", false, "сортировка по убыванию")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	params := service.SearchParams{
		Text:   strings.Join(fs.Args(), " "),
		SortBy: *sortBy,
		Limit:  *limit,
		Offset: *offset,
	}
	if *desc {
		params.SortOrder = "desc"
	}
	for _, raw := range *filters {
		f, err := parseFilter(raw)
		if err != nil {
			return err
		}
		params.Filters = append(params.Filters, f)
	}
	for _, tag := range *tags {
		params.Filters = append(params.Filters, index.Filter{Field: "tags", Op: index.OpHas, Value: tag})
	}
	if *profileID != "" {
		params.Filters = append(params.Filters, index.Filter{Field: "profile_id", Op: index.OpEquals, Value: *profileID})
	}
	if *mimeType != "" {
		params.Filters = append(params.Filters, index.Filter{Field: "mime_type", Op: index.OpEquals, Value: *mimeType})
	}

	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	res, err := svc.search.Search(ctx, params)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(res)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tПУТЬ\tРАЗМЕР\tТИП\tПРОФИЛЬ")
	for _, item := range res.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			item.AssetID, item.ArchivePath, humanize.IBytes(uint64(item.FileSize)), item.MimeType, orDash(item.ProfileID))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Показано %d из %d\n", len(res.Items), res.Total)
	return nil
}

// parseFilter разбирает фильтр командной строки:
// "поле~=подстрока" — contains, "поле=min..max" — диапазон,
// "поле=значение" — равенство.
func parseFilter(raw string) (index.Filter, error) {
	if name, value, ok := strings.Cut(raw, "~="); ok && name != "" && !strings.Contains(name, "=") {
		return index.Filter{Field: name, Op: index.OpContains, Value: value}, nil
	}
	name, value, ok := strings.Cut(raw, "=")
	if !ok || name == "" {
		return index.Filter{}, usageErrorf("--filter ожидает поле=значение, получено %q", raw)
	}
	lo, hi, isRange := strings.Cut(value, "..")
	if !isRange {
		return index.Filter{Field: name, Op: index.OpEquals, Value: value}, nil
	}
	f := index.Filter{Field: name, Op: index.OpRange}
	if lo != "" {
		f.Min = lo
	}
	if hi != "" {
		f.Max = hi
	}
	return f, nil
}

// --- get ---

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("get", "get <asset-id>")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("get ожидает один asset-id")
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	meta, err := svc.search.GetAsset(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return a.printJSON(meta)
}

// --- lookup ---

func cmdLookup(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("lookup", "lookup <sha256|путь к файлу> [--json]")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("lookup ожидает SHA-256 или путь к файлу")
	}

	sum := fs.Arg(0)
	if info, err := os.Stat(sum); err == nil && info.Mode().IsRegular() {
		if sum, _, err = checksum.File(fs.Arg(0)); err != nil {
			return err
		}
	} else if !model.ValidChecksum(strings.ToLower(sum)) {
		return usageErrorf("%q не является SHA-256 или файлом", sum)
	}

	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	records, err := svc.search.ByChecksum(ctx, sum)
	if err != nil {
		return err
	}

	if *asJSON {
		if records == nil {
			records = []*index.Record{}
		}
		return a.printJSON(map[string]any{
			"checksum_sha256": strings.ToLower(sum),
			"items":           records,
			"total":           len(records),
		})
	}
	if len(records) == 0 {
		fmt.Fprintf(a.stdout, "Активов с SHA-256 %s нет\n", strings.ToLower(sum))
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tПУТЬ\tРАЗМЕР")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.AssetID, r.ArchivePath, humanize.IBytes(uint64(r.FileSize)))
	}
	return tw.Flush()
}

// --- verify ---

func cmdVerify(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("verify", "verify [asset-id...] [флаги]")
	asJSON := fs.Bool("json", false, "вывод отчёта в JSON")
	quiet := fs.BoolP("quiet", "q", false, "без вывода прогресса")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}

	params := service.VerifyParams{AssetIDs: fs.Args(), Workers: a.workers}
	if !*quiet && !*asJSON {
		params.Progress = func(check service.AssetCheck, done, total int) {
			a.progressf("[%d/%d] %s %s", done, total, check.Status, check.ArchivePath)
		}
	}
	report, err := svc.integrity.Verify(ctx, params)
	if err != nil {
		return err
	}

	if *asJSON {
		if err := a.printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(a.stdout, report)
	}
	if !report.Clean() {
		return &exitCodeError{code: exitDiscrepancies, err: errors.New("обнаружены расхождения")}
	}
	return nil
}

func printReport(w io.Writer, r *model.VerificationReport) {
	s := r.Summary()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Отчёт проверки целостности")
	fmt.Fprintf(tw, "  Всего:\t%d\n", s.Total)
	fmt.Fprintf(tw, "  Проверено:\t%d\n", s.Verified)
	fmt.Fprintf(tw, "  Повреждено:\t%d\n", s.Corrupted)
	fmt.Fprintf(tw, "  Отсутствует:\t%d\n", s.Missing)
	fmt.Fprintf(tw, "  Ошибок чтения:\t%d\n", s.Errors)
	fmt.Fprintf(tw, "  Записей без sidecar:\t%d\n", s.OrphanedRecords)
	fmt.Fprintf(tw, "  Файлов без sidecar:\t%d\n", s.OrphanedFiles)
	fmt.Fprintf(tw, "  Прочитано:\t%s (%s/с)\n", humanize.IBytes(uint64(r.BytesHashed)), humanize.IBytes(uint64(r.Throughput)))
	fmt.Fprintf(tw, "  Длительность:\t%s\n", r.Duration.Round(1e6))
	if r.Incomplete {
		fmt.Fprintln(tw, "  Прогон прерван, отчёт неполный")
	}
	_ = tw.Flush()

	printList(w, "Повреждённые", r.Corrupted)
	printList(w, "Отсутствующие", r.Missing)
	printList(w, "Записи индекса без sidecar", r.OrphanedRecords)
	printList(w, "Файлы без sidecar", r.OrphanedFiles)
	printList(w, "Не найдены", r.NotFound)
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nОшибки чтения:")
		for _, is := range r.Errors {
			fmt.Fprintf(w, "  %s: %s\n", is.Path, is.Reason)
		}
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  %s\n", it)
	}
}

// --- rebuild, repair, orphans ---

func cmdRebuild(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("rebuild", "rebuild [--force]")
	force := fs.Bool("force", false, "переиндексировать все sidecar-файлы")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	arc, err := a.open(ctx)
	if err != nil {
		return err
	}
	res, err := arc.Rebuild(ctx, *force)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Проиндексировано: %d, без изменений: %d, удалено: %d, ошибок: %d, время: %s\n",
		res.Indexed, res.Skipped, res.Removed, res.Failed, res.Duration.Round(1e6))
	for _, f := range res.Failures {
		fmt.Fprintf(a.stderr, "  %s: %s\n", f.Path, f.Reason)
	}
	return nil
}

func cmdRepair(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("repair", "repair")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	res, err := svc.integrity.RepairIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Удалено записей: %d, переиндексировано: %d, ошибок: %d\n",
		len(res.Removed), len(res.Reindexed), len(res.Failures))
	for _, f := range res.Failures {
		fmt.Fprintf(a.stderr, "  %s: %s\n", f.Path, f.Reason)
	}
	return nil
}

func cmdOrphans(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("orphans", "orphans")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	paths, err := svc.integrity.FindOrphanedFiles(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(a.stdout, p)
	}
	return nil
}

// --- export, manifest ---

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("export", "export <каталог> [флаги]")
	ids := fs.StringArray("id", nil, "asset-id (повторяемый); без --id и --query — весь архив")
	query := fs.String("query", "", "поисковый запрос для выбора активов")
	filters := fs.StringArray("filter", nil, "фильтр запроса, как в search (повторяемый)")
	format := fs.String("format", string(service.FormatBagIt), "формат: bagit или directory")
	merge := fs.Bool("merge", false, "разрешить запись в непустой каталог")
	bagInfo := fs.StringArray("bag-info", nil, "поле bag-info.txt Key=Value (повторяемый)")
	publish := fs.Bool("publish", false, "загрузить пакет в S3 (OA_S3_*)")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("export ожидает каталог назначения")
	}

	params := service.ExportParams{
		AssetIDs:    *ids,
		Destination: fs.Arg(0),
		Format:      service.ExportFormat(*format),
		AllowMerge:  *merge,
		Publish:     *publish,
	}
	if *query != "" || len(*filters) > 0 {
		q := &service.SearchParams{Text: *query}
		for _, raw := range *filters {
			f, err := parseFilter(raw)
			if err != nil {
				return err
			}
			q.Filters = append(q.Filters, f)
		}
		params.Query = q
	}
	if len(*bagInfo) > 0 {
		params.BagInfo = map[string]string{}
		for _, pair := range *bagInfo {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return usageErrorf("--bag-info ожидает Key=Value, получено %q", pair)
			}
			params.BagInfo[strings.TrimSpace(key)] = value
		}
	}

	var publisher service.Publisher
	if *publish {
		p, err := a.publisher(ctx)
		if err != nil {
			return err
		}
		publisher = p
	}
	svc, err := a.services(ctx, publisher)
	if err != nil {
		return err
	}
	res, err := svc.export.Export(ctx, params)
	if err != nil {
		return err
	}

	if *asJSON {
		if err := a.printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(a.stdout, "Экспортировано активов: %d, файлов: %d, объём: %s → %s\n",
			len(res.Exported), res.FileCount, humanize.IBytes(uint64(res.TotalBytes)), res.Destination)
		if res.Published != nil {
			fmt.Fprintf(a.stdout, "Опубликовано: s3://%s/%s (%d объектов)\n",
				res.Published.Bucket, res.Published.Prefix, res.Published.Objects)
		}
		for _, f := range res.Failures {
			fmt.Fprintf(a.stderr, "  %s %s: %s\n", f.AssetID, f.ArchivePath, f.Reason)
		}
	}
	if !res.Success {
		return fmt.Errorf("экспорт выполнен частично: %d ошибок", len(res.Failures))
	}
	return nil
}

func cmdManifest(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("manifest", "manifest [--format json|csv] [--output файл]")
	format := fs.String("format", string(service.ManifestJSON), "формат: json или csv")
	output := fs.StringP("output", "o", "", "файл вывода (по умолчанию stdout)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}

	w := a.stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("ошибка создания %s: %w", *output, err)
		}
		defer f.Close()
		w = f
	}
	return svc.export.GenerateManifest(ctx, w, service.ManifestFormat(*format))
}

// --- profile ---

func cmdProfile(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErrorf("profile ожидает подкоманду: add, list, show, delete, usage")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		return cmdProfileAdd(ctx, a, rest)
	case "list":
		return cmdProfileList(ctx, a, rest)
	case "show":
		return cmdProfileShow(ctx, a, rest)
	case "delete":
		return cmdProfileDelete(ctx, a, rest)
	case "usage":
		return cmdProfileUsage(ctx, a, rest)
	}
	return usageErrorf("неизвестная подкоманда profile %q", sub)
}

func cmdProfileAdd(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("profile add", "profile add <файл.json|файл.yaml>")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("profile add ожидает файл профиля")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", fs.Arg(0), err)
	}
	p, err := profiles.Decode(fs.Arg(0), data)
	if err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	saved, err := svc.profiles.Save(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Профиль %s сохранён (версия %d, полей: %d)\n", saved.ID, saved.Version, len(saved.Fields))
	return nil
}

func cmdProfileList(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("profile list", "profile list [--json]")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	list := svc.profiles.List()
	if *asJSON {
		return a.printJSON(list)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tИМЯ\tВЕРСИЯ\tПОЛЕЙ")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.ID, p.Name, p.Version, len(p.Fields))
	}
	return tw.Flush()
}

func cmdProfileShow(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("profile show", "profile show <id> [--yaml]")
	asYAML := fs.Bool("yaml", false, "вывод в YAML")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("profile show ожидает id профиля")
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	p, err := svc.profiles.Get(fs.Arg(0))
	if err != nil {
		return err
	}
	if *asYAML {
		data, err := profiles.EncodeYAML(p)
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(data)
		return err
	}
	return a.printJSON(p)
}

func cmdProfileDelete(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("profile delete", "profile delete <id> [--reassign] [--replace-with id]")
	reassign := fs.Bool("reassign", false, "снять профиль с использующих его активов")
	replaceWith := fs.String("replace-with", "", "переназначить активы на другой профиль")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("profile delete ожидает id профиля")
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	res, err := svc.profiles.Delete(ctx, fs.Arg(0), service.DeleteProfileOptions{
		Reassign:    *reassign || *replaceWith != "",
		ReplaceWith: *replaceWith,
	})
	if err != nil {
		if errors.Is(err, model.ErrProfileInUse) {
			return fmt.Errorf("%w (используйте --reassign или --replace-with)", err)
		}
		return err
	}
	fmt.Fprintf(a.stdout, "Профиль %s удалён, переназначено активов: %d\n", res.ProfileID, len(res.Reassigned))
	if res.IndexError != "" {
		fmt.Fprintf(a.stderr, "Предупреждение: индекс не обновлён (%s), выполните rebuild\n", res.IndexError)
	}
	return nil
}

func cmdProfileUsage(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("profile usage", "profile usage <id>")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("profile usage ожидает id профиля")
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := svc.profiles.Get(fs.Arg(0)); err != nil {
		return err
	}
	ids, err := svc.profiles.Usage(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.stdout, id)
	}
	return nil
}

// --- stats, duplicates, version ---

func cmdStats(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("stats", "stats [--json]")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	stats, err := svc.search.Statistics(ctx)
	if err != nil {
		return err
	}
	usage, err := svc.search.FieldUsage(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return a.printJSON(map[string]any{"statistics": stats, "field_usage": usage})
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Активов:\t%d\n", stats.TotalAssets)
	fmt.Fprintf(tw, "Объём:\t%s\n", humanize.IBytes(uint64(stats.TotalSize)))
	fmt.Fprintf(tw, "Проверено:\t%d\n", stats.Verified)
	fmt.Fprintf(tw, "Не проверено:\t%d\n", stats.Unverified)
	fmt.Fprintln(tw, "\nПо типам:")
	for _, k := range sortedKeys(stats.ByMimeType) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, stats.ByMimeType[k])
	}
	fmt.Fprintln(tw, "\nПо профилям:")
	for _, k := range sortedKeys(stats.ByProfile) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, stats.ByProfile[k])
	}
	if len(usage) > 0 {
		fmt.Fprintln(tw, "\nПоля метаданных:")
		for _, u := range usage {
			fmt.Fprintf(tw, "  %s\t%d\n", u.Name, u.Count)
		}
	}
	return tw.Flush()
}

func cmdDuplicates(ctx context.Context, a *app, args []string) error {
	fs := a.newFlagSet("duplicates", "duplicates [--json]")
	asJSON := fs.Bool("json", false, "вывод в JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	svc, err := a.services(ctx, nil)
	if err != nil {
		return err
	}
	groups, err := svc.search.Duplicates(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		if groups == nil {
			groups = []index.DuplicateGroup{}
		}
		return a.printJSON(groups)
	}
	for _, g := range groups {
		fmt.Fprintf(a.stdout, "%s (%d × %s)\n", g.ChecksumSHA256, len(g.AssetIDs), humanize.IBytes(uint64(g.FileSize)))
		for i, id := range g.AssetIDs {
			path := ""
			if i < len(g.ArchivePaths) {
				path = g.ArchivePaths[i]
			}
			fmt.Fprintf(a.stdout, "  %s\t%s\n", id, path)
		}
	}
	fmt.Fprintf(a.stdout, "Групп дубликатов: %d\n", len(groups))
	return nil
}

func cmdVersion(_ context.Context, a *app, _ []string) error {
	fmt.Fprintf(a.stdout, "archivectl %s\n", config.Version)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
