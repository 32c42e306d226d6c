// profile.go — сервис управления профилями метаданных.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// DeleteProfileOptions — параметры удаления профиля.
type DeleteProfileOptions struct {
	// Reassign — переназначить активы вместо отказа
	Reassign bool
	// ReplaceWith — новый профиль активов; пусто — профиль снимается
	ReplaceWith string
}

// DeleteProfileResult — итог удаления профиля.
type DeleteProfileResult struct {
	ProfileID  string   `json:"profile_id"`
	Reassigned []string `json:"reassigned"`
	// IndexError — sidecar-файлы переписаны, но индекс не обновлён
	IndexError string `json:"index_error,omitempty"`
}

// ProfileService — сервис управления профилями.
type ProfileService struct {
	arc    *archive.Archive
	logger *slog.Logger
	now    func() time.Time
}

// NewProfileService создаёт сервис профилей.
func NewProfileService(arc *archive.Archive, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		arc:    arc,
		logger: logger.With(slog.String("component", "profile_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save создаёт или обновляет профиль. Уже принятые активы
// не перепроверяются: новая схема действует для последующих операций.
func (s *ProfileService) Save(p *model.Profile) (*model.Profile, error) {
	if err := s.arc.Profiles.Save(p); err != nil {
		return nil, err
	}
	s.logger.Info("Профиль сохранён",
		slog.String("profile_id", p.ID),
		slog.String("name", p.Name),
		slog.Int("version", p.Version),
		slog.Int("fields", len(p.Fields)),
	)
	return p, nil
}

// Get возвращает профиль по id.
func (s *ProfileService) Get(id string) (*model.Profile, error) {
	return s.arc.Profiles.Get(id)
}

// List возвращает все профили. Нечитаемые файлы профилей
// пропускаются с предупреждением в журнале.
func (s *ProfileService) List() []*model.Profile {
	list, errs := s.arc.Profiles.List()
	for _, err := range errs {
		s.logger.Warn("Профиль пропущен", slog.String("error", err.Error()))
	}
	if list == nil {
		list = []*model.Profile{}
	}
	return list
}

// Usage возвращает id активов, sidecar-файлы которых ссылаются на профиль.
func (s *ProfileService) Usage(ctx context.Context, id string) ([]string, error) {
	refs, err := s.referencing(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, m := range refs {
		ids = append(ids, m.AssetID)
	}
	return ids, nil
}

// IndexedCount возвращает число активов профиля по данным индекса.
// Расхождение с Usage означает, что индекс нужно восстановить.
func (s *ProfileService) IndexedCount(ctx context.Context, id string) (int, error) {
	return s.arc.Index.CountByProfile(ctx, id)
}

// referencing сканирует sidecar-файлы и возвращает ссылающиеся на профиль.
func (s *ProfileService) referencing(ctx context.Context, id string) ([]*model.AssetMetadata, error) {
	entries, err := s.arc.ScanSidecars()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var refs []*model.AssetMetadata
	for _, e := range entries {
		if e.Meta != nil && e.Meta.Profile() == id {
			refs = append(refs, e.Meta)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].AssetID < refs[j].AssetID })
	return refs, nil
}

// Delete удаляет профиль.
//
// Поток:
//  1. Поиск ссылающихся sidecar-файлов
//  2. Без Reassign — ErrProfileInUse, если ссылки есть
//  3. С ReplaceWith — проверка метаданных всех активов по новому профилю
//  4. Перезапись sidecar-файлов и обновление индекса
//  5. Удаление файла профиля
func (s *ProfileService) Delete(ctx context.Context, id string, opts DeleteProfileOptions) (*DeleteProfileResult, error) {
	if _, err := s.arc.Profiles.Get(id); err != nil {
		return nil, err
	}

	// 1. Ссылки
	refs, err := s.referencing(ctx, id)
	if err != nil {
		return nil, err
	}

	// 2. Отказ без переназначения
	if len(refs) > 0 && !opts.Reassign {
		return nil, fmt.Errorf("%w: %s (активов: %d)", model.ErrProfileInUse, id, len(refs))
	}
	if opts.ReplaceWith == id {
		return nil, fmt.Errorf("%w: профиль не может заменить сам себя", model.ErrInvalidProfile)
	}

	// 3. Подготовка новых метаданных без побочных эффектов
	var replacement *model.Profile
	if opts.ReplaceWith != "" {
		replacement, err = s.arc.Profiles.Get(opts.ReplaceWith)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownProfile, opts.ReplaceWith)
		}
	}

	now := s.now()
	updated := make([]*model.AssetMetadata, 0, len(refs))
	for _, meta := range refs {
		next := *meta
		next.UpdatedAt = now
		next.ProfileID = nil
		if replacement != nil {
			typed, err := replacement.ValidateMetadata(meta.CustomMetadata)
			if err != nil {
				return nil, fmt.Errorf("актив %s: %w", meta.AssetID, err)
			}
			next.CustomMetadata = typed.Map()
			next.ProfileID = model.StringPtr(replacement.ID)
		}
		updated = append(updated, &next)
	}

	result := &DeleteProfileResult{ProfileID: id, Reassigned: []string{}}

	// 4. Перезапись sidecar-файлов
	for _, meta := range updated {
		if err := sidecar.Write(s.arc.SidecarPath(meta.ArchivePath), meta); err != nil {
			return result, fmt.Errorf("ошибка переназначения актива %s: %w", meta.AssetID, err)
		}
		result.Reassigned = append(result.Reassigned, meta.AssetID)
	}
	if len(updated) > 0 {
		if err := s.arc.Index.Apply(ctx, updated, nil); err != nil {
			result.IndexError = err.Error()
			s.logger.Warn("Sidecar-файлы переписаны, но индекс не обновлён; требуется перестроение",
				slog.String("profile_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	// 5. Удаление профиля
	if err := s.arc.Profiles.Delete(id); err != nil {
		return result, err
	}

	s.logger.Info("Профиль удалён",
		slog.String("profile_id", id),
		slog.Int("reassigned", len(result.Reassigned)),
		slog.String("replace_with", opts.ReplaceWith),
	)
	return result, nil
}
