package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

func TestProfileService_SaveAndList(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewProfileService(arc, testLogger())

	p, err := svc.Save(documentsProfile())
	if err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, ожидалось 1", p.Version)
	}

	updated := documentsProfile()
	updated.Description = "вторая версия"
	p2, err := svc.Save(updated)
	if err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	if p2.Version != 2 || !p2.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("обновление: version=%d created_at=%v", p2.Version, p2.CreatedAt)
	}

	if _, err := svc.Save(&model.Profile{ID: "bad", Name: "bad",
		Fields: []model.Field{{Name: "x", FieldType: "color"}}}); !errors.Is(err, model.ErrInvalidProfile) {
		t.Errorf("ожидалась ErrInvalidProfile, получено %v", err)
	}

	list := svc.List()
	if len(list) != 1 || list[0].ID != "documents" {
		t.Errorf("List: %+v", list)
	}
	if _, err := svc.Get("nope"); !errors.Is(err, model.ErrProfileNotFound) {
		t.Errorf("ожидалась ErrProfileNotFound, получено %v", err)
	}
}

func TestProfileService_DeleteInUse(t *testing.T) {
	arc := newTestArchive(t)
	metas := seedDocuments(t, arc)
	svc := NewProfileService(arc, testLogger())
	ctx := context.Background()

	usage, err := svc.Usage(ctx, "documents")
	if err != nil {
		t.Fatalf("ошибка Usage: %v", err)
	}
	if len(usage) != 3 {
		t.Errorf("usage = %v", usage)
	}

	if _, err := svc.Delete(ctx, "documents", DeleteProfileOptions{}); !errors.Is(err, model.ErrProfileInUse) {
		t.Fatalf("ожидалась ErrProfileInUse, получено %v", err)
	}
	if !arc.Profiles.Exists("documents") {
		t.Fatal("профиль удалён несмотря на ссылки")
	}

	res, err := svc.Delete(ctx, "documents", DeleteProfileOptions{Reassign: true})
	if err != nil {
		t.Fatalf("ошибка Delete: %v", err)
	}
	if len(res.Reassigned) != 3 || res.IndexError != "" {
		t.Errorf("итог: %+v", res)
	}
	if arc.Profiles.Exists("documents") {
		t.Error("профиль не удалён")
	}

	for _, m := range metas {
		stored, err := arc.ReadSidecar(m.ArchivePath)
		if err != nil {
			t.Fatalf("ошибка чтения sidecar: %v", err)
		}
		if stored.ProfileID != nil {
			t.Errorf("%s: profile_id = %q", m.AssetID, *stored.ProfileID)
		}
		if stored.CustomMetadata["title"] == nil {
			t.Errorf("%s: метаданные потеряны при снятии профиля", m.AssetID)
		}
		rec, err := arc.Index.Get(ctx, m.AssetID)
		if err != nil {
			t.Fatalf("ошибка Get: %v", err)
		}
		if rec.ProfileID != "" {
			t.Errorf("индекс не обновлён: profile_id = %q", rec.ProfileID)
		}
	}
}

func TestProfileService_DeleteWithReplacement(t *testing.T) {
	arc := newTestArchive(t)
	metas := seedDocuments(t, arc)
	svc := NewProfileService(arc, testLogger())
	ctx := context.Background()

	strict := &model.Profile{ID: "strict", Name: "Строгий", Fields: []model.Field{
		{Name: "author", FieldType: model.FieldText, Required: true},
	}}
	if _, err := svc.Save(strict); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	loose := &model.Profile{ID: "loose", Name: "Свободный", Fields: []model.Field{
		{Name: "title", FieldType: model.FieldText},
	}}
	if _, err := svc.Save(loose); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}

	// Метаданные не проходят проверку нового профиля: файлы не меняются
	_, err := svc.Delete(ctx, "documents", DeleteProfileOptions{Reassign: true, ReplaceWith: "strict"})
	if !errors.Is(err, model.ErrRequiredField) {
		t.Fatalf("ожидалась ErrRequiredField, получено %v", err)
	}
	stored, _ := arc.ReadSidecar(metas[0].ArchivePath)
	if stored.Profile() != "documents" {
		t.Fatal("sidecar изменён при неудачном переназначении")
	}

	if _, err := svc.Delete(ctx, "documents", DeleteProfileOptions{Reassign: true, ReplaceWith: "missing"}); !errors.Is(err, model.ErrUnknownProfile) {
		t.Errorf("ожидалась ErrUnknownProfile, получено %v", err)
	}

	res, err := svc.Delete(ctx, "documents", DeleteProfileOptions{Reassign: true, ReplaceWith: "loose"})
	if err != nil {
		t.Fatalf("ошибка Delete: %v", err)
	}
	if len(res.Reassigned) != 3 {
		t.Errorf("reassigned = %v", res.Reassigned)
	}
	count, err := arc.Index.CountByProfile(ctx, "loose")
	if err != nil {
		t.Fatalf("ошибка CountByProfile: %v", err)
	}
	if count != 3 {
		t.Errorf("в индексе %d активов с профилем loose", count)
	}
}

func TestProfileService_DeleteUnused(t *testing.T) {
	arc := newTestArchive(t)
	svc := NewProfileService(arc, testLogger())
	ctx := context.Background()

	if _, err := svc.Save(documentsProfile()); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	res, err := svc.Delete(ctx, "documents", DeleteProfileOptions{})
	if err != nil {
		t.Fatalf("ошибка Delete: %v", err)
	}
	if len(res.Reassigned) != 0 {
		t.Errorf("reassigned = %v", res.Reassigned)
	}
	if _, err := svc.Delete(ctx, "documents", DeleteProfileOptions{}); !errors.Is(err, model.ErrProfileNotFound) {
		t.Errorf("повторное удаление: %v", err)
	}
}
