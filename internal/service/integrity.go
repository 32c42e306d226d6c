// integrity.go — сервис проверки целостности архива.
//
// Проверка сравнивает:
//   - SHA-256 файлов данных со значением из sidecar-файла
//   - записи индекса с sidecar-файлами
//   - файлы данных с sidecar-файлами
//
// Классы результата:
//   - verified: файл на месте, checksum совпадает
//   - corrupted: checksum не совпадает
//   - missing: файла данных нет
//   - orphaned_records: запись индекса без sidecar-файла
//   - orphaned_files: файл данных без sidecar-файла
//
// Sidecar-файлы при проверке не изменяются.
// Может запускаться как горутина с периодическим тикером (OA_VERIFY_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/checksum"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// Prometheus метрики проверки целостности
var (
	// verifyRunsTotal — количество прогонов проверки.
	verifyRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_verify_runs_total",
		Help: "Общее количество прогонов проверки целостности",
	})

	// verifyIssuesTotal — количество обнаруженных проблем по классу.
	verifyIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oa_verify_issues_total",
		Help: "Общее количество проблем, обнаруженных проверкой целостности",
	}, []string{"type"})

	// verifyDurationSeconds — длительность прогона.
	verifyDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oa_verify_duration_seconds",
		Help:    "Длительность проверки целостности в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900},
	})

	// verifyBytesTotal — объём прочитанных при проверке данных.
	verifyBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oa_verify_bytes_total",
		Help: "Объём данных, прочитанных при проверке целостности",
	})
)

// DefaultVerifyWorkers — число параллельных обработчиков проверки по умолчанию.
const DefaultVerifyWorkers = 4

// VerifyParams — параметры прогона проверки.
type VerifyParams struct {
	// AssetIDs — проверяемые активы; пусто — весь архив
	AssetIDs []string
	// Workers — размер пула; <= 0 — значение сервиса
	Workers int
	// Progress вызывается после каждого актива в горутине обработчика
	Progress func(check AssetCheck, done, total int)
}

// AssetCheck — результат проверки одного актива.
type AssetCheck struct {
	AssetID     string             `json:"asset_id"`
	ArchivePath string             `json:"archive_path"`
	Status      model.VerifyStatus `json:"status"`
	Expected    string             `json:"expected,omitempty"`
	Actual      string             `json:"actual,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Size        int64              `json:"-"`
}

// RepairResult — итог восстановления индекса.
type RepairResult struct {
	Removed   []string            `json:"removed"`
	Reindexed []string            `json:"reindexed"`
	Failures  []model.VerifyIssue `json:"failures"`
	Duration  time.Duration       `json:"duration"`
}

// IntegrityService — сервис проверки целостности.
type IntegrityService struct {
	arc      *archive.Archive
	workers  int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex // защита от параллельного запуска
	inProcess  bool       // проверка в процессе выполнения
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc
	last       *model.VerificationReport
}

// NewIntegrityService создаёт сервис проверки целостности.
// interval == 0 отключает фоновую проверку.
func NewIntegrityService(arc *archive.Archive, workers int, interval time.Duration, logger *slog.Logger) *IntegrityService {
	if workers <= 0 {
		workers = DefaultVerifyWorkers
	}
	return &IntegrityService{
		arc:      arc,
		workers:  workers,
		interval: interval,
		logger:   logger.With(slog.String("component", "integrity_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает фоновую горутину проверки с периодическим тикером.
func (s *IntegrityService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Фоновая проверка целостности отключена")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.loopCancel = cancel
	s.mu.Unlock()

	go s.run(loopCtx)

	s.logger.Info("Фоновая проверка целостности запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую проверку и текущий прогон.
func (s *IntegrityService) Stop() {
	s.mu.Lock()
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	s.mu.Unlock()
	s.Cancel()
	s.logger.Info("Фоновая проверка целостности остановлена")
}

// IsInProgress возвращает true, если проверка выполняется.
func (s *IntegrityService) IsInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProcess
}

// Cancel прерывает текущий прогон. Обработчики дочитывают текущий
// файл, отчёт возвращается с incomplete=true.
// Возвращает false, если прогона нет.
func (s *IntegrityService) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inProcess || s.runCancel == nil {
		return false
	}
	s.runCancel()
	return true
}

// LastReport возвращает отчёт последнего завершённого прогона.
func (s *IntegrityService) LastReport() *model.VerificationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// run — основной цикл фоновой горутины.
func (s *IntegrityService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Verify(ctx, VerifyParams{}); err != nil {
				if errors.Is(err, model.ErrVerifyInProgress) {
					s.logger.Debug("Проверка уже выполняется, пропуск")
					continue
				}
				s.logger.Error("Ошибка фоновой проверки целостности",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Verify выполняет прогон проверки.
//
// Поток:
//  1. Защита от параллельного запуска
//  2. Сканирование sidecar-файлов — рабочий набор
//  3. Сверка с индексом и файлами данных (для полного прогона)
//  4. Пул обработчиков: пересчёт SHA-256 и классификация
//  5. Итоговый отчёт
//
// Отмена проверяется между файлами; начатое хэширование не прерывается.
func (s *IntegrityService) Verify(ctx context.Context, params VerifyParams) (*model.VerificationReport, error) {
	// 1. Защита от параллельного запуска
	s.mu.Lock()
	if s.inProcess {
		s.mu.Unlock()
		return nil, model.ErrVerifyInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.inProcess = true
	s.runCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.inProcess = false
		s.runCancel = nil
		s.mu.Unlock()
	}()

	verifyRunsTotal.Inc()
	start := time.Now()

	report := &model.VerificationReport{
		StartedAt:       s.now(),
		Scope:           model.ScopeAll,
		Verified:        []string{},
		Corrupted:       []string{},
		Missing:         []string{},
		OrphanedRecords: []string{},
		OrphanedFiles:   []string{},
		NotFound:        []string{},
		Errors:          []model.VerifyIssue{},
	}
	if len(params.AssetIDs) > 0 {
		report.Scope = model.ScopeSubset
	}

	s.logger.Info("Проверка целостности начата",
		slog.String("scope", string(report.Scope)),
		slog.Int("requested", len(params.AssetIDs)),
	)

	// 2. Рабочий набор из sidecar-файлов
	entries, err := s.arc.ScanSidecars()
	if err != nil {
		return nil, err
	}
	metas, issues := collectSidecars(entries)

	// 3. Сверка с индексом
	indexed, err := s.arc.Index.Entries(runCtx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса: %w", err)
	}

	var work []*model.AssetMetadata
	if report.Scope == model.ScopeAll {
		report.Errors = append(report.Errors, issues...)
		for _, m := range metas {
			work = append(work, m)
		}
		for id := range indexed {
			if _, ok := metas[id]; !ok {
				report.OrphanedRecords = append(report.OrphanedRecords, id)
			}
		}
		orphans, err := orphanedFiles(s.arc, entries)
		if err != nil {
			return nil, err
		}
		report.OrphanedFiles = orphans
	} else {
		seen := make(map[string]struct{}, len(params.AssetIDs))
		for _, id := range params.AssetIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if m, ok := metas[id]; ok {
				work = append(work, m)
			} else if _, ok := indexed[id]; ok {
				report.OrphanedRecords = append(report.OrphanedRecords, id)
			} else {
				report.NotFound = append(report.NotFound, id)
			}
		}
	}
	sort.Slice(work, func(i, j int) bool { return work[i].ArchivePath < work[j].ArchivePath })
	report.Total = len(work)

	// 4. Пул обработчиков
	workers := params.Workers
	if workers <= 0 {
		workers = s.workers
	}

	var (
		resMu sync.Mutex
		done  int
		wg    sync.WaitGroup
	)
	jobs := make(chan *model.AssetMetadata)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for meta := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				check := s.check(meta)

				resMu.Lock()
				addCheck(report, check)
				done++
				n := done
				if params.Progress != nil {
					params.Progress(check, n, len(work))
				}
				resMu.Unlock()
			}
		}()
	}

feed:
	for _, meta := range work {
		select {
		case jobs <- meta:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	// 5. Итоговый отчёт
	report.Incomplete = done < len(work)
	for _, list := range [][]string{report.Verified, report.Corrupted, report.Missing,
		report.OrphanedRecords, report.NotFound} {
		sort.Strings(list)
	}
	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Path < report.Errors[j].Path })

	duration := time.Since(start)
	report.CompletedAt = s.now()
	report.Duration = duration
	if secs := duration.Seconds(); secs > 0 {
		report.Throughput = float64(report.BytesHashed) / secs
	}

	verifyDurationSeconds.Observe(duration.Seconds())
	verifyBytesTotal.Add(float64(report.BytesHashed))
	verifyIssuesTotal.WithLabelValues("corrupted").Add(float64(len(report.Corrupted)))
	verifyIssuesTotal.WithLabelValues("missing").Add(float64(len(report.Missing)))
	verifyIssuesTotal.WithLabelValues("error").Add(float64(len(report.Errors)))
	verifyIssuesTotal.WithLabelValues("orphaned_record").Add(float64(len(report.OrphanedRecords)))
	verifyIssuesTotal.WithLabelValues("orphaned_file").Add(float64(len(report.OrphanedFiles)))

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	logLevel := slog.LevelInfo
	if !report.Clean() {
		logLevel = slog.LevelWarn
	}
	sum := report.Summary()
	s.logger.Log(ctx, logLevel, "Проверка целостности завершена",
		slog.Int("total", sum.Total),
		slog.Int("verified", sum.Verified),
		slog.Int("corrupted", sum.Corrupted),
		slog.Int("missing", sum.Missing),
		slog.Int("errors", sum.Errors),
		slog.Int("orphaned_records", sum.OrphanedRecords),
		slog.Int("orphaned_files", sum.OrphanedFiles),
		slog.Bool("incomplete", sum.Incomplete),
		slog.Duration("duration", duration),
	)
	return report, nil
}

// check пересчитывает SHA-256 файла актива и классифицирует результат.
func (s *IntegrityService) check(meta *model.AssetMetadata) AssetCheck {
	c := AssetCheck{
		AssetID:     meta.AssetID,
		ArchivePath: meta.ArchivePath,
		Expected:    meta.ChecksumSHA256,
	}

	path := s.arc.Files.FullPath(meta.ArchivePath)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			c.Status = model.StatusMissing
			c.Reason = "файл данных отсутствует"
			return c
		}
		c.Status = model.StatusError
		c.Reason = err.Error()
		return c
	}

	actual, n, err := checksum.File(path)
	c.Size = n
	if err != nil {
		c.Status = model.StatusError
		c.Reason = err.Error()
		return c
	}
	c.Actual = actual
	if actual != meta.ChecksumSHA256 {
		c.Status = model.StatusCorrupted
		c.Reason = "checksum не совпадает"
		s.logger.Warn("Обнаружено повреждение файла",
			slog.String("asset_id", meta.AssetID),
			slog.String("archive_path", meta.ArchivePath),
			slog.String("expected", meta.ChecksumSHA256),
			slog.String("actual", actual),
		)
		return c
	}
	c.Status = model.StatusVerified
	return c
}

// addCheck добавляет результат проверки актива в отчёт.
func addCheck(report *model.VerificationReport, c AssetCheck) {
	report.BytesHashed += c.Size
	switch c.Status {
	case model.StatusVerified:
		report.Verified = append(report.Verified, c.AssetID)
	case model.StatusCorrupted:
		report.Corrupted = append(report.Corrupted, c.AssetID)
	case model.StatusMissing:
		report.Missing = append(report.Missing, c.AssetID)
	default:
		report.Errors = append(report.Errors, model.VerifyIssue{
			AssetID: c.AssetID,
			Path:    c.ArchivePath,
			Reason:  c.Reason,
		})
	}
}

// VerifySingle проверяет один актив. Не изменяет sidecar-файл.
func (s *IntegrityService) VerifySingle(ctx context.Context, assetID string) (*AssetCheck, error) {
	meta, err := s.arc.Lookup(ctx, assetID)
	if err != nil {
		return nil, err
	}
	c := s.check(meta)
	verifyBytesTotal.Add(float64(c.Size))
	return &c, nil
}

// FindOrphanedFiles возвращает archive_path файлов данных без sidecar-файла.
func (s *IntegrityService) FindOrphanedFiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.arc.ScanSidecars()
	if err != nil {
		return nil, err
	}
	return orphanedFiles(s.arc, entries)
}

// RepairIndex приводит индекс в соответствие с sidecar-файлами:
// удаляет записи без sidecar-файла и переиндексирует отсутствующие
// или устаревшие. Изменения применяются одной транзакцией.
func (s *IntegrityService) RepairIndex(ctx context.Context) (*RepairResult, error) {
	start := time.Now()

	entries, err := s.arc.ScanSidecars()
	if err != nil {
		return nil, err
	}
	metas, issues := collectSidecars(entries)

	list := make([]*model.AssetMetadata, 0, len(metas))
	for _, m := range metas {
		list = append(list, m)
	}

	stale, orphans, err := s.arc.Index.Diff(ctx, list)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.arc.Index.Apply(ctx, stale, orphans); err != nil {
		return nil, fmt.Errorf("ошибка восстановления индекса: %w", err)
	}

	result := &RepairResult{
		Removed:   orphans,
		Reindexed: make([]string, 0, len(stale)),
		Failures:  issues,
		Duration:  time.Since(start),
	}
	if result.Removed == nil {
		result.Removed = []string{}
	}
	for _, m := range stale {
		result.Reindexed = append(result.Reindexed, m.AssetID)
	}
	sort.Strings(result.Removed)
	sort.Strings(result.Reindexed)

	s.logger.Info("Индекс восстановлен",
		slog.Int("removed", len(result.Removed)),
		slog.Int("reindexed", len(result.Reindexed)),
		slog.Int("failures", len(result.Failures)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// collectSidecars раскладывает результат сканирования на корректные
// метаданные (по asset_id) и ошибки чтения. Повтор asset_id
// в другом sidecar-файле считается ошибкой.
func collectSidecars(entries []sidecar.Entry) (map[string]*model.AssetMetadata, []model.VerifyIssue) {
	metas := make(map[string]*model.AssetMetadata, len(entries))
	issues := []model.VerifyIssue{}
	for _, e := range entries {
		if e.Err != nil {
			issues = append(issues, model.VerifyIssue{Path: e.RelPath, Reason: e.Err.Error()})
			continue
		}
		if prev, dup := metas[e.Meta.AssetID]; dup {
			issues = append(issues, model.VerifyIssue{
				AssetID: e.Meta.AssetID,
				Path:    e.RelPath,
				Reason:  fmt.Sprintf("asset_id уже используется в %s", prev.ArchivePath),
			})
			continue
		}
		metas[e.Meta.AssetID] = e.Meta
	}
	return metas, issues
}

// orphanedFiles находит файлы данных, рядом с которыми нет sidecar-файла.
// Файл с нечитаемым sidecar-файлом сиротой не считается.
func orphanedFiles(arc *archive.Archive, entries []sidecar.Entry) ([]string, error) {
	withSidecar := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.RelPath != "" {
			withSidecar[e.RelPath] = struct{}{}
		}
	}
	files, err := sidecar.ScanDataFiles(arc.Root(), arc.AssetsDir())
	if err != nil {
		return nil, err
	}
	orphans := []string{}
	for _, f := range files {
		if _, ok := withSidecar[f]; !ok {
			orphans = append(orphans, f)
		}
	}
	return orphans, nil
}
