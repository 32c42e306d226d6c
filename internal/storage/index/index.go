// Пакет index — одноразовый поисковый индекс архива на SQLite.
// Индекс строится только из sidecar-файлов и может быть удалён
// и перестроен в любой момент без потери данных.
//
// Схема: структурная таблица assets (одна строка на актив) и
// полнотекстовая FTS5-таблица assets_fts. Запись сериализуется
// внутренним мьютексом (одна короткая транзакция на операцию),
// чтение выполняется параллельно в режиме WAL.
package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DirName — каталог индекса внутри архива.
const DirName = ".index"

// FileName — имя файла базы индекса.
const FileName = "index.db"

// dsnPragmas — параметры соединения: WAL, ожидание блокировки, fsync.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"

// Index — поисковый индекс одного архива.
type Index struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// writeMu сериализует все записи в базу
	writeMu sync.Mutex
}

// Open открывает (или создаёт) базу индекса и применяет миграции.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию индекса: %w", err)
	}

	if err := migrateUp(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы индекса %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе индекса %s: %w", path, err)
	}

	return &Index{
		db:     db,
		path:   path,
		logger: logger.With(slog.String("component", "index")),
	}, nil
}

// migrateUp применяет SQL-миграции из embedded FS.
// Миграции выполняются через отдельное соединение, которое
// закрывается вместе с экземпляром migrate.
func migrateUp(path string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+dsnPragmas)
	if err != nil {
		return fmt.Errorf("ошибка открытия базы для миграций: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("ошибка инициализации драйвера миграций: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Debug("Миграции индекса применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// Close закрывает базу индекса.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Path возвращает путь к файлу базы.
func (idx *Index) Path() string {
	return idx.path
}

// Ping проверяет, что база отвечает на запросы.
func (idx *Index) Ping(ctx context.Context) error {
	var n int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&n); err != nil {
		return fmt.Errorf("индекс не отвечает: %w", err)
	}
	return nil
}

// Upsert добавляет или заменяет запись актива.
// Полнотекстовая запись удаляется и вставляется заново в той же
// транзакции, поэтому повторные вызовы не накапливают строки.
func (idx *Index) Upsert(ctx context.Context, meta *model.AssetMetadata) error {
	r, err := project(meta)
	if err != nil {
		return err
	}
	return idx.withWriteTx(ctx, func(tx *sql.Tx) error {
		return upsertRow(ctx, tx, r)
	})
}

// Remove удаляет запись актива. Отсутствующий id — не ошибка.
func (idx *Index) Remove(ctx context.Context, assetID string) error {
	return idx.withWriteTx(ctx, func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, assetID)
	})
}

// Apply применяет набор вставок и удалений в одной транзакции.
// Используется для точечного восстановления индекса.
func (idx *Index) Apply(ctx context.Context, upserts []*model.AssetMetadata, removals []string) error {
	rows := make([]row, 0, len(upserts))
	for _, meta := range upserts {
		r, err := project(meta)
		if err != nil {
			return fmt.Errorf("актив %s: %w", meta.AssetID, err)
		}
		rows = append(rows, r)
	}

	return idx.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, id := range removals {
			if err := deleteRow(ctx, tx, id); err != nil {
				return err
			}
		}
		for _, r := range rows {
			if err := upsertRow(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get возвращает запись актива по id.
func (idx *Index) Get(ctx context.Context, assetID string) (*Record, error) {
	q := "SELECT " + recordColumns + ", 0 FROM assets a WHERE a.asset_id = ?"
	rec, err := scanRecord(idx.db.QueryRowContext(ctx, q, assetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrAssetNotFound, assetID)
		}
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", assetID, err)
	}
	return rec, nil
}

// Count возвращает количество записей в индексе.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return n, nil
}

// Entries возвращает отображение asset_id → archive_path.
func (idx *Index) Entries(ctx context.Context) (map[string]string, error) {
	rows, err := idx.db.QueryContext(ctx, "SELECT asset_id, archive_path FROM assets")
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записей индекса: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи индекса: %w", err)
		}
		out[id] = path
	}
	return out, rows.Err()
}

// Diff сравнивает индекс с набором метаданных из sidecar-файлов.
// Возвращает метаданные, которые нужно переиндексировать
// (нет в индексе или проекция отличается), и id записей без sidecar.
func (idx *Index) Diff(ctx context.Context, metas []*model.AssetMetadata) (stale []*model.AssetMetadata, orphans []string, err error) {
	existing, err := loadRows(ctx, idx.db)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{}, len(metas))
	for _, meta := range metas {
		seen[meta.AssetID] = struct{}{}
		r, perr := project(meta)
		if perr != nil {
			return nil, nil, fmt.Errorf("актив %s: %w", meta.AssetID, perr)
		}
		if cur, ok := existing[meta.AssetID]; !ok || cur != r {
			stale = append(stale, meta)
		}
	}
	for id := range existing {
		if _, ok := seen[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	return stale, orphans, nil
}

// withWriteTx выполняет fn в транзакции под мьютексом записи.
func (idx *Index) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO assets (
    asset_id, original_path, archive_path, file_name, file_size, mime_type,
    checksum_sha256, checksum_verified_at, profile_id, custom_metadata,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(asset_id) DO UPDATE SET
    original_path        = excluded.original_path,
    archive_path         = excluded.archive_path,
    file_name            = excluded.file_name,
    file_size            = excluded.file_size,
    mime_type            = excluded.mime_type,
    checksum_sha256      = excluded.checksum_sha256,
    checksum_verified_at = excluded.checksum_verified_at,
    profile_id           = excluded.profile_id,
    custom_metadata      = excluded.custom_metadata,
    created_at           = excluded.created_at,
    updated_at           = excluded.updated_at`

// execer — общий интерфейс *sql.DB и *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// upsertRow записывает строку актива и её полнотекстовую запись.
// Строка другого актива с тем же archive_path вытесняется: путь
// принадлежит тому, чей sidecar записан последним.
func upsertRow(ctx context.Context, tx execer, r row) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM assets WHERE archive_path = ? AND asset_id <> ?", r.archivePath, r.assetID,
	); err != nil {
		return fmt.Errorf("ошибка освобождения пути %s: %w", r.archivePath, err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL,
		r.assetID, r.originalPath, r.archivePath, r.fileName, r.fileSize, r.mimeType,
		r.checksum, r.verifiedAt, r.profileID, r.custom,
		r.createdAt, r.updatedAt,
	); err != nil {
		return fmt.Errorf("ошибка записи актива %s: %w", r.assetID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM assets_fts WHERE asset_id = ?", r.assetID); err != nil {
		return fmt.Errorf("ошибка удаления полнотекстовой записи %s: %w", r.assetID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO assets_fts (asset_id, file_name, original_path, metadata_text) VALUES (?, ?, ?, ?)",
		r.assetID, r.fileName, r.originalPath, r.text,
	); err != nil {
		return fmt.Errorf("ошибка записи полнотекстовой записи %s: %w", r.assetID, err)
	}
	return nil
}

func deleteRow(ctx context.Context, tx execer, assetID string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE asset_id = ?", assetID); err != nil {
		return fmt.Errorf("ошибка удаления актива %s: %w", assetID, err)
	}
	// Триггер удаляет полнотекстовую запись; повтор на случай
	// рассинхронизации, когда структурной строки уже нет
	if _, err := tx.ExecContext(ctx, "DELETE FROM assets_fts WHERE asset_id = ?", assetID); err != nil {
		return fmt.Errorf("ошибка удаления полнотекстовой записи %s: %w", assetID, err)
	}
	return nil
}

// loadRows читает все записи вместе с полнотекстовым документом.
func loadRows(ctx context.Context, q execer) (map[string]row, error) {
	rows, err := q.QueryContext(ctx, `
SELECT a.asset_id, a.original_path, a.archive_path, a.file_name, a.file_size,
       a.mime_type, a.checksum_sha256, a.checksum_verified_at, a.profile_id,
       a.custom_metadata, a.created_at, a.updated_at, f.metadata_text
FROM assets a
LEFT JOIN assets_fts f ON f.asset_id = a.asset_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса: %w", err)
	}
	defer rows.Close()

	out := make(map[string]row)
	for rows.Next() {
		var (
			r    row
			text sql.NullString
		)
		if err := rows.Scan(&r.assetID, &r.originalPath, &r.archivePath, &r.fileName, &r.fileSize,
			&r.mimeType, &r.checksum, &r.verifiedAt, &r.profileID,
			&r.custom, &r.createdAt, &r.updatedAt, &text); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи индекса: %w", err)
		}
		r.text = text.String
		if !text.Valid {
			r.text = "\x00"
		}
		out[r.assetID] = r
	}
	return out, rows.Err()
}

// ReadinessChecker — проверка готовности индекса для health endpoint.
type ReadinessChecker struct {
	idx *Index
}

// NewReadinessChecker создаёт проверку готовности индекса.
func NewReadinessChecker(idx *Index) *ReadinessChecker {
	return &ReadinessChecker{idx: idx}
}

// CheckReady проверяет, что индекс отвечает на запросы.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.idx.Ping(ctx); err != nil {
		return "fail", err.Error()
	}
	n, err := c.idx.Count(ctx)
	if err != nil {
		return "fail", err.Error()
	}
	return "ok", fmt.Sprintf("индекс доступен, записей: %d", n)
}
