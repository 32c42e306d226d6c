package index

import (
	"context"
	"fmt"
)

// Statistics — сводка по содержимому индекса.
type Statistics struct {
	TotalAssets int            `json:"total_assets"`
	TotalSize   int64          `json:"total_size"`
	ByMimeType  map[string]int `json:"by_mime_type"`
	ByProfile   map[string]int `json:"by_profile"`
	Verified    int            `json:"verified"`
	Unverified  int            `json:"unverified"`
}

// NoProfile — ключ ByProfile для активов без профиля.
const NoProfile = "none"

// Stats собирает статистику по индексу.
func (idx *Index) Stats(ctx context.Context) (*Statistics, error) {
	st := &Statistics{
		ByMimeType: map[string]int{},
		ByProfile:  map[string]int{},
	}

	if err := idx.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(file_size), 0),
       COALESCE(SUM(CASE WHEN checksum_verified_at IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM assets`).Scan(&st.TotalAssets, &st.TotalSize, &st.Verified); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики: %w", err)
	}
	st.Unverified = st.TotalAssets - st.Verified

	if err := idx.groupCount(ctx, "SELECT mime_type, COUNT(*) FROM assets GROUP BY mime_type", st.ByMimeType); err != nil {
		return nil, err
	}
	if err := idx.groupCount(ctx, "SELECT COALESCE(profile_id, '"+NoProfile+"'), COUNT(*) FROM assets GROUP BY profile_id", st.ByProfile); err != nil {
		return nil, err
	}
	return st, nil
}

func (idx *Index) groupCount(ctx context.Context, query string, dst map[string]int) error {
	rows, err := idx.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ошибка группировки: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("ошибка чтения группы: %w", err)
		}
		dst[key] += n
	}
	return rows.Err()
}

// CountByProfile возвращает количество активов профиля.
func (idx *Index) CountByProfile(ctx context.Context, profileID string) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM assets WHERE profile_id = ?", profileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта активов профиля %s: %w", profileID, err)
	}
	return n, nil
}

// ByChecksum возвращает записи с заданным SHA-256.
func (idx *Index) ByChecksum(ctx context.Context, sum string) ([]*Record, error) {
	page, err := idx.Query(ctx, Query{
		Filters: []Filter{{Field: "checksum_sha256", Op: OpEquals, Value: sum}},
		SortBy:  "asset_id",
	})
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// DuplicateGroup — активы с одинаковым содержимым.
type DuplicateGroup struct {
	ChecksumSHA256 string   `json:"checksum_sha256"`
	FileSize       int64    `json:"file_size"`
	AssetIDs       []string `json:"asset_ids"`
	ArchivePaths   []string `json:"archive_paths"`
}

// Duplicates возвращает группы активов с совпадающим checksum.
// Дубликаты только обнаруживаются, индекс их не объединяет.
func (idx *Index) Duplicates(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT checksum_sha256, file_size, asset_id, archive_path
FROM assets
WHERE checksum_sha256 IN (
    SELECT checksum_sha256 FROM assets GROUP BY checksum_sha256 HAVING COUNT(*) > 1
)
ORDER BY checksum_sha256, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска дубликатов: %w", err)
	}
	defer rows.Close()

	groups := []DuplicateGroup{}
	for rows.Next() {
		var (
			sum, id, path string
			size          int64
		)
		if err := rows.Scan(&sum, &size, &id, &path); err != nil {
			return nil, fmt.Errorf("ошибка чтения дубликата: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].ChecksumSHA256 != sum {
			groups = append(groups, DuplicateGroup{ChecksumSHA256: sum, FileSize: size})
		}
		g := &groups[len(groups)-1]
		g.AssetIDs = append(g.AssetIDs, id)
		g.ArchivePaths = append(g.ArchivePaths, path)
	}
	return groups, rows.Err()
}

// FieldUsage — сколько активов используют ключ custom_metadata.
type FieldUsage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FieldUsage возвращает ключи custom_metadata по частоте использования.
func (idx *Index) FieldUsage(ctx context.Context) ([]FieldUsage, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT je.key, COUNT(*)
FROM assets a, json_each(a.custom_metadata) AS je
GROUP BY je.key
ORDER BY COUNT(*) DESC, je.key`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта использования полей: %w", err)
	}
	defer rows.Close()

	out := []FieldUsage{}
	for rows.Next() {
		var u FieldUsage
		if err := rows.Scan(&u.Name, &u.Count); err != nil {
			return nil, fmt.Errorf("ошибка чтения поля: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
