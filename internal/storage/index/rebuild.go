package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// RebuildFailure — sidecar-файл, который не удалось проиндексировать.
type RebuildFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RebuildResult — итог перестроения индекса.
type RebuildResult struct {
	// Indexed — записи, вставленные или обновлённые
	Indexed int `json:"indexed"`
	// Skipped — записи, совпавшие с индексом (только при forceAll=false)
	Skipped int `json:"skipped"`
	// Removed — записи индекса без sidecar-файла, удалённые при перестроении
	Removed int `json:"removed"`
	// Failed — sidecar-файлы, которые не удалось проиндексировать
	Failed   int              `json:"failed"`
	Failures []RebuildFailure `json:"failures"`
	Duration time.Duration    `json:"duration"`
}

// Rebuild сканирует все sidecar-файлы в assetsDir и заменяет содержимое
// индекса в одной транзакции. root — корень архива.
//
// forceAll=true очищает индекс и вставляет все записи заново.
// forceAll=false удаляет записи без sidecar-файла, обновляет изменённые
// и пропускает совпадающие. Итоговое состояние в обоих режимах одинаково.
//
// Ошибки отдельных sidecar-файлов попадают в Failures и не прерывают
// перестроение. Любая другая ошибка, включая отмену контекста,
// откатывает транзакцию: предыдущий индекс остаётся доступным.
func (idx *Index) Rebuild(ctx context.Context, root, assetsDir string, forceAll bool) (*RebuildResult, error) {
	start := time.Now()

	entries, err := sidecar.Scan(root, assetsDir)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{Failures: []RebuildFailure{}}
	fresh := make(map[string]row, len(entries))
	var order []string

	for _, e := range entries {
		if e.Err != nil {
			result.addFailure(e.Path, e.Err.Error())
			continue
		}
		r, err := project(e.Meta)
		if err != nil {
			result.addFailure(e.Path, err.Error())
			continue
		}
		if _, dup := fresh[r.assetID]; dup {
			result.addFailure(e.Path, fmt.Sprintf("повторяющийся asset_id %s", r.assetID))
			continue
		}
		fresh[r.assetID] = r
		order = append(order, r.assetID)
	}

	err = idx.withWriteTx(ctx, func(tx *sql.Tx) error {
		existing := map[string]row{}
		if forceAll {
			if _, err := tx.ExecContext(ctx, "DELETE FROM assets"); err != nil {
				return fmt.Errorf("ошибка очистки индекса: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM assets_fts"); err != nil {
				return fmt.Errorf("ошибка очистки полнотекстового индекса: %w", err)
			}
		} else {
			var err error
			if existing, err = loadRows(ctx, tx); err != nil {
				return err
			}
			for id := range existing {
				if _, ok := fresh[id]; ok {
					continue
				}
				if err := deleteRow(ctx, tx, id); err != nil {
					return err
				}
				result.Removed++
			}
		}

		for _, id := range order {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("перестроение индекса прервано: %w", err)
			}
			r := fresh[id]
			if cur, ok := existing[id]; ok && cur == r {
				result.Skipped++
				continue
			}
			if err := upsertRow(ctx, tx, r); err != nil {
				return err
			}
			result.Indexed++
		}
		return ctx.Err()
	})
	if err != nil {
		idx.logger.Error("Перестроение индекса отменено, предыдущий индекс сохранён",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result.Failed = len(result.Failures)
	result.Duration = time.Since(start)

	idx.logger.Info("Индекс перестроен",
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Bool("force_all", forceAll),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (r *RebuildResult) addFailure(path, reason string) {
	r.Failures = append(r.Failures, RebuildFailure{Path: path, Reason: reason})
}
