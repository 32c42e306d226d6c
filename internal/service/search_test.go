package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/archive"
	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
)

// seedDocuments принимает три документа с тегами.
func seedDocuments(t *testing.T, arc *archive.Archive) []*model.AssetMetadata {
	t.Helper()
	if err := arc.Profiles.Save(documentsProfile()); err != nil {
		t.Fatalf("ошибка сохранения профиля: %v", err)
	}
	svc := NewIngestService(arc, testLogger())
	dir := t.TempDir()

	docs := []struct {
		name  string
		title string
		tags  []any
		pages float64
	}{
		{"budget.txt", "Бюджет на год", []any{"finance", "plan"}, 12},
		{"invoice.txt", "Счёт поставщика", []any{"finance"}, 2},
		{"trip.txt", "Отчёт о поездке", []any{"travel"}, 5},
	}
	metas := make([]*model.AssetMetadata, 0, len(docs))
	for i, d := range docs {
		src := writeSource(t, dir, d.name, sized(200+i, byte(i)))
		metas = append(metas, ingestOne(t, svc, IngestParams{
			SourcePath: src,
			ProfileID:  "documents",
			Metadata:   map[string]any{"title": d.title, "tags": d.tags, "pages": d.pages},
		}))
	}
	return metas
}

func newSearch(arc *archive.Archive) *SearchService {
	return NewSearchService(arc, NewCacheService(100, time.Minute), 0, testLogger())
}

func TestSearch_Filters(t *testing.T) {
	arc := newTestArchive(t)
	metas := seedDocuments(t, arc)
	svc := newSearch(arc)
	ctx := context.Background()

	tests := []struct {
		name   string
		params SearchParams
		want   []string
	}{
		{"тег", SearchParams{Filters: []index.Filter{{Field: "tags", Op: index.OpHas, Value: "finance"}}},
			[]string{metas[0].AssetID, metas[1].AssetID}},
		{"текст", SearchParams{Text: "поездке"}, []string{metas[2].AssetID}},
		{"текст и тег", SearchParams{Text: "счёт", Filters: []index.Filter{{Field: "tags", Op: index.OpHas, Value: "finance"}}},
			[]string{metas[1].AssetID}},
		{"диапазон", SearchParams{Filters: []index.Filter{{Field: "pages", Op: index.OpRange, Min: 3, Max: 20}}},
			[]string{metas[0].AssetID, metas[2].AssetID}},
		{"профиль", SearchParams{Filters: []index.Filter{{Field: "profile_id", Value: "documents"}}},
			[]string{metas[0].AssetID, metas[1].AssetID, metas[2].AssetID}},
		{"ничего", SearchParams{Text: "несуществующее"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Search(ctx, tt.params)
			if err != nil {
				t.Fatalf("ошибка Search: %v", err)
			}
			if res.Total != len(tt.want) {
				t.Fatalf("total = %d, ожидалось %d", res.Total, len(tt.want))
			}
			got := map[string]bool{}
			for _, item := range res.Items {
				got[item.AssetID] = true
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("не найден %s", id)
				}
			}
		})
	}
}

func TestSearch_Paging(t *testing.T) {
	arc := newTestArchive(t)
	seedDocuments(t, arc)
	svc := newSearch(arc)
	ctx := context.Background()

	seen := map[string]bool{}
	for offset := 0; offset < 3; offset++ {
		res, err := svc.Search(ctx, SearchParams{Limit: 1, Offset: offset, SortBy: "file_name"})
		if err != nil {
			t.Fatalf("ошибка Search: %v", err)
		}
		if len(res.Items) != 1 || res.Total != 3 {
			t.Fatalf("offset %d: items=%d total=%d", offset, len(res.Items), res.Total)
		}
		if res.HasMore != (offset < 2) {
			t.Errorf("offset %d: has_more = %v", offset, res.HasMore)
		}
		seen[res.Items[0].AssetID] = true
	}
	if len(seen) != 3 {
		t.Errorf("страницы пересекаются: %v", seen)
	}

	desc, err := svc.Search(ctx, SearchParams{SortBy: "file_name", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("ошибка Search: %v", err)
	}
	if desc.Items[0].FileName != "trip.txt" {
		t.Errorf("первый при desc: %s", desc.Items[0].FileName)
	}

	all, err := svc.All(ctx, SearchParams{})
	if err != nil {
		t.Fatalf("ошибка All: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("All вернул %d записей", len(all))
	}
}

func TestSearch_InvalidParams(t *testing.T) {
	arc := newTestArchive(t)
	svc := newSearch(arc)
	ctx := context.Background()

	for _, p := range []SearchParams{
		{Offset: -1},
		{SortOrder: "sideways"},
		{SortBy: "custom_metadata; DROP TABLE assets"},
		{Filters: []index.Filter{{Field: `bad"name`, Value: "x"}}},
	} {
		if _, err := svc.Search(ctx, p); !errors.Is(err, model.ErrInvalidQuery) {
			t.Errorf("%+v: ожидалась ErrInvalidQuery, получено %v", p, err)
		}
	}

	res, err := svc.Search(ctx, SearchParams{Limit: 100000})
	if err != nil {
		t.Fatalf("ошибка Search: %v", err)
	}
	if res.Limit != MaxSearchLimit {
		t.Errorf("limit = %d, ожидалось %d", res.Limit, MaxSearchLimit)
	}
}

func TestSearch_WithMetadataUsesCache(t *testing.T) {
	arc := newTestArchive(t)
	metas := seedDocuments(t, arc)
	cache := NewCacheService(100, time.Minute)
	svc := NewSearchService(arc, cache, 0, testLogger())
	ctx := context.Background()

	params := SearchParams{WithMetadata: true}
	if _, err := svc.Search(ctx, params); err != nil {
		t.Fatalf("ошибка Search: %v", err)
	}
	if cache.Len() != 3 {
		t.Fatalf("в кэше %d записей, ожидалось 3", cache.Len())
	}

	// Sidecar изменён и переиндексирован: ключ кэша меняется
	changed := *metas[0]
	changed.CustomMetadata = map[string]any{"title": "новое название"}
	changed.UpdatedAt = changed.UpdatedAt.Add(time.Minute)
	if err := writeSidecarFile(arc, &changed); err != nil {
		t.Fatalf("ошибка записи sidecar: %v", err)
	}
	if err := arc.Index.Upsert(ctx, &changed); err != nil {
		t.Fatalf("ошибка Upsert: %v", err)
	}

	res, err := svc.Search(ctx, SearchParams{WithMetadata: true, Text: "новое"})
	if err != nil {
		t.Fatalf("ошибка Search: %v", err)
	}
	if res.Total != 1 || res.Items[0].CustomMetadata["title"] != "новое название" {
		t.Fatalf("неверный результат: %+v", res.Items)
	}
	if res.Items[0].SidecarError != "" {
		t.Errorf("sidecar_error = %s", res.Items[0].SidecarError)
	}

	svc.InvalidateCache()
	if cache.Len() != 0 {
		t.Errorf("кэш не очищен: %d", cache.Len())
	}
}

func TestSearch_StatsAndDuplicates(t *testing.T) {
	arc := newTestArchive(t)
	ingest := NewIngestService(arc, testLogger())
	dir := t.TempDir()
	same := []byte("одинаковое содержимое")
	a := ingestOne(t, ingest, IngestParams{SourcePath: writeSource(t, dir, "one.txt", same)})
	b := ingestOne(t, ingest, IngestParams{SourcePath: writeSource(t, dir, "two.txt", same)})
	ingestOne(t, ingest, IngestParams{SourcePath: writeSource(t, dir, "other.txt", []byte("другое"))})

	svc := newSearch(arc)
	ctx := context.Background()

	groups, err := svc.Duplicates(ctx)
	if err != nil {
		t.Fatalf("ошибка Duplicates: %v", err)
	}
	if len(groups) != 1 || len(groups[0].AssetIDs) != 2 {
		t.Fatalf("группы дубликатов: %+v", groups)
	}
	ids := map[string]bool{groups[0].AssetIDs[0]: true, groups[0].AssetIDs[1]: true}
	if !ids[a.AssetID] || !ids[b.AssetID] {
		t.Errorf("в группе не те активы: %v", groups[0].AssetIDs)
	}

	stats, err := svc.Statistics(ctx)
	if err != nil {
		t.Fatalf("ошибка Statistics: %v", err)
	}
	if stats.TotalAssets != 3 || stats.Unverified != 3 {
		t.Errorf("статистика: %+v", stats)
	}

	got, err := svc.GetAsset(ctx, a.AssetID)
	if err != nil {
		t.Fatalf("ошибка GetAsset: %v", err)
	}
	if got.ChecksumSHA256 != a.ChecksumSHA256 {
		t.Errorf("GetAsset вернул другой актив")
	}
}

func TestCacheService(t *testing.T) {
	cache := NewCacheService(2, time.Minute)
	now := time.Now().UTC()
	meta := &model.AssetMetadata{AssetID: "a", UpdatedAt: now}

	if _, ok := cache.Get("a", now); ok {
		t.Fatal("пустой кэш вернул запись")
	}
	cache.Set(meta)
	if got, ok := cache.Get("a", now); !ok || got != meta {
		t.Fatal("запись не найдена")
	}
	if _, ok := cache.Get("a", now.Add(time.Second)); ok {
		t.Error("запись найдена по устаревшему updated_at")
	}

	cache.Set(&model.AssetMetadata{AssetID: "b", UpdatedAt: now})
	cache.Set(&model.AssetMetadata{AssetID: "c", UpdatedAt: now})
	if cache.Len() != 2 {
		t.Errorf("размер кэша %d, ожидалось 2", cache.Len())
	}
}
