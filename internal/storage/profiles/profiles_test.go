package profiles

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

func testProfile() *model.Profile {
	return &model.Profile{
		ID:   "documents",
		Name: "Documents",
		Fields: []model.Field{
			{Name: "title", DisplayName: "Title", FieldType: model.FieldText, Required: true},
			{Name: "tags", DisplayName: "Tags", FieldType: model.FieldTags},
		},
	}
}

func TestSaveGetVersion(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), DirName))
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	p := testProfile()
	if err := s.Save(p); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if p.Version != 1 || p.CreatedAt.IsZero() {
		t.Errorf("новый профиль: version=%d created_at=%v", p.Version, p.CreatedAt)
	}

	again := testProfile()
	again.Description = "обновлён"
	if err := s.Save(again); err != nil {
		t.Fatalf("ошибка повторного сохранения: %v", err)
	}
	if again.Version != 2 || !again.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("обновление: version=%d created_at=%v", again.Version, again.CreatedAt)
	}

	got, err := s.Get("documents")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.Description != "обновлён" || len(got.Fields) != 2 || got.Fields[0].Name != "title" {
		t.Errorf("прочитан неверный профиль: %+v", got)
	}
}

func TestSaveInvalid(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	p := testProfile()
	p.Fields = append(p.Fields, model.Field{Name: "title", FieldType: model.FieldText})
	if err := s.Save(p); !errors.Is(err, model.ErrInvalidProfile) {
		t.Fatalf("ожидалась ErrInvalidProfile, получено %v", err)
	}

	p = testProfile()
	p.ID = "../escape"
	if err := s.Save(p); !errors.Is(err, model.ErrInvalidProfile) {
		t.Fatalf("ожидалась ErrInvalidProfile для id с '/', получено %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	a := testProfile()
	b := &model.Profile{Name: "Audio"}
	for _, p := range []*model.Profile{a, b} {
		if err := s.Save(p); err != nil {
			t.Fatalf("ошибка сохранения: %v", err)
		}
	}
	if b.ID == "" {
		t.Fatal("пустой ID должен заменяться UUID")
	}

	list, errs := s.List()
	if len(errs) != 0 || len(list) != 2 || list[0].Name != "Audio" {
		t.Fatalf("List: %v %v", list, errs)
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, model.ErrProfileNotFound) {
		t.Errorf("ожидалась ErrProfileNotFound, получено %v", err)
	}
	if err := s.Delete(a.ID); !errors.Is(err, model.ErrProfileNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrProfileNotFound, получено %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	data := []byte(`
id: photos
name: Photos
fields:
  - name: title
    display_name: Title
    field_type: text
    required: true
  - name: rating
    display_name: Rating
    field_type: number
    default_value: 3
`)
	p, err := Decode("photos.yaml", data)
	if err != nil {
		t.Fatalf("ошибка разбора: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("профиль из YAML невалиден: %v", err)
	}
	if len(p.Fields) != 2 || p.Fields[1].FieldType != model.FieldNumber {
		t.Errorf("поля разобраны неверно: %+v", p.Fields)
	}

	out, err := EncodeYAML(p)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	back, err := Decode("x.yml", out)
	if err != nil || back.ID != "photos" {
		t.Errorf("обратный разбор: %v %v", back, err)
	}

	if _, err := Decode("bad.json", []byte("{")); !errors.Is(err, model.ErrInvalidProfile) {
		t.Errorf("ожидалась ErrInvalidProfile, получено %v", err)
	}
}
