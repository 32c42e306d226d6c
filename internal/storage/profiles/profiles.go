// Пакет profiles — хранилище профилей метаданных.
// Каждый профиль — отдельный JSON-документ profiles/<id>.json.
// Импорт поддерживает JSON и YAML.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/sidecar"
)

// DirName — каталог профилей внутри архива.
const DirName = "profiles"

const fileSuffix = ".json"

// Store — профили одного архива.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New создаёт Store и каталог профилей, если его нет.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию профилей %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

// Save проверяет и атомарно сохраняет профиль.
// Пустой ID заменяется новым UUID. Для существующего профиля
// Version увеличивается, CreatedAt сохраняется.
func (s *Store) Save(p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if strings.ContainsAny(p.ID, `/\`) || p.ID == "." || p.ID == ".." {
		return fmt.Errorf("%w: недопустимый id %q", model.ErrInvalidProfile, p.ID)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, err := s.load(p.ID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
		p.Version = existing.Version + 1
	case errors.Is(err, model.ErrProfileNotFound):
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.Version < 1 {
			p.Version = 1
		}
	default:
		return err
	}
	p.UpdatedAt = now

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации профиля: %w", err)
	}
	return sidecar.WriteFileAtomic(s.path(p.ID), append(data, '\n'))
}

// Get читает профиль по id.
func (s *Store) Get(id string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *Store) load(id string) (*model.Profile, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", model.ErrProfileNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrProfileNotFound, id)
		}
		return nil, fmt.Errorf("ошибка чтения профиля %s: %w", id, err)
	}
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ошибка десериализации профиля %s: %w", id, err)
	}
	return &p, nil
}

// Exists проверяет наличие профиля.
func (s *Store) Exists(id string) bool {
	_, err := s.Get(id)
	return err == nil
}

// List возвращает все профили, отсортированные по имени.
// Нечитаемые файлы пропускаются и возвращаются в errs.
func (s *Store) List() ([]*model.Profile, []error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileSuffix))
	if err != nil {
		return nil, []error{fmt.Errorf("ошибка сканирования профилей: %w", err)}
	}

	var (
		result []*model.Profile
		errs   []error
	)
	for _, m := range matches {
		p, err := s.load(strings.TrimSuffix(filepath.Base(m), fileSuffix))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, errs
}

// Delete удаляет профиль. Проверка ссылок выполняется вызывающим кодом.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("ошибка удаления профиля %s: %w", id, err)
	}
	return nil
}

// Decode разбирает профиль из JSON или YAML.
// Формат определяется по расширению имени; без расширения
// сначала пробуется JSON.
func Decode(name string, data []byte) (*model.Profile, error) {
	var p model.Profile
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: ошибка разбора YAML: %v", model.ErrInvalidProfile, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: ошибка разбора JSON: %v", model.ErrInvalidProfile, err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			if yerr := yaml.Unmarshal(data, &p); yerr != nil {
				return nil, fmt.Errorf("%w: профиль не является ни JSON, ни YAML", model.ErrInvalidProfile)
			}
		}
	}
	return &p, nil
}

// EncodeYAML сериализует профиль в YAML.
func EncodeYAML(p *model.Profile) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации профиля в YAML: %w", err)
	}
	return data, nil
}
