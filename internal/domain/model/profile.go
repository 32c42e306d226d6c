package model

import (
	"fmt"
	"regexp"
	"time"
)

// FieldType — тип поля профиля.
type FieldType string

const (
	// FieldText — короткий текст
	FieldText FieldType = "text"
	// FieldTextarea — длинный текст
	FieldTextarea FieldType = "textarea"
	// FieldTags — список тегов
	FieldTags FieldType = "tags"
	// FieldSelect — выбор одного значения из options
	FieldSelect FieldType = "select"
	// FieldMultiselect — выбор нескольких значений из options
	FieldMultiselect FieldType = "multiselect"
	// FieldBoolean — логическое значение
	FieldBoolean FieldType = "boolean"
	// FieldDate — дата YYYY-MM-DD
	FieldDate FieldType = "date"
	// FieldDatetime — дата и время RFC 3339
	FieldDatetime FieldType = "datetime"
	// FieldNumber — число
	FieldNumber FieldType = "number"
)

// Valid проверяет, что тип поля известен.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldTags, FieldSelect, FieldMultiselect,
		FieldBoolean, FieldDate, FieldDatetime, FieldNumber:
		return true
	}
	return false
}

// IsList возвращает true для типов со списком значений.
func (t FieldType) IsList() bool {
	return t == FieldTags || t == FieldMultiselect
}

// fieldNamePattern — допустимые имена полей. Имя используется
// в JSON path индекса, поэтому кавычки и точки запрещены.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidFieldName проверяет имя поля метаданных.
func ValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}

// Field — поле профиля.
type Field struct {
	Name              string    `json:"name" yaml:"name"`
	DisplayName       string    `json:"display_name" yaml:"display_name"`
	FieldType         FieldType `json:"field_type" yaml:"field_type"`
	Required          bool      `json:"required" yaml:"required"`
	DefaultValue      any       `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Options           []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Description       string    `json:"description,omitempty" yaml:"description,omitempty"`
	ValidationPattern string    `json:"validation_pattern,omitempty" yaml:"validation_pattern,omitempty"`
}

// Profile — именованная версионируемая схема метаданных.
type Profile struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Version     int       `json:"version" yaml:"version"`
	Fields      []Field   `json:"fields" yaml:"fields"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Field возвращает поле по имени.
func (p *Profile) Field(name string) (*Field, bool) {
	for i := range p.Fields {
		if p.Fields[i].Name == name {
			return &p.Fields[i], true
		}
	}
	return nil, false
}

// Validate проверяет целостность профиля.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: пустой id", ErrInvalidProfile)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: пустое имя", ErrInvalidProfile)
	}

	seen := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if !ValidFieldName(f.Name) {
			return fmt.Errorf("%w: недопустимое имя поля %q", ErrInvalidProfile, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: поле %q объявлено дважды", ErrInvalidProfile, f.Name)
		}
		seen[f.Name] = struct{}{}

		if !f.FieldType.Valid() {
			return fmt.Errorf("%w: поле %q: неизвестный тип %q", ErrInvalidProfile, f.Name, f.FieldType)
		}
		if (f.FieldType == FieldSelect || f.FieldType == FieldMultiselect) && len(f.Options) == 0 {
			return fmt.Errorf("%w: поле %q: для %s нужен список options", ErrInvalidProfile, f.Name, f.FieldType)
		}
		if f.ValidationPattern != "" {
			if _, err := regexp.Compile(f.ValidationPattern); err != nil {
				return fmt.Errorf("%w: поле %q: некорректный validation_pattern: %v", ErrInvalidProfile, f.Name, err)
			}
		}
		if f.DefaultValue != nil {
			if _, err := ParseFieldValue(f, f.DefaultValue); err != nil {
				return fmt.Errorf("%w: поле %q: default_value: %v", ErrInvalidProfile, f.Name, err)
			}
		}
	}
	return nil
}

// ValidateMetadata проверяет пользовательские метаданные по профилю.
// Объявленные поля разбираются по своему типу, отсутствующие получают
// default_value. Незнакомые ключи сохраняются без проверки.
func (p *Profile) ValidateMetadata(custom map[string]any) (*TypedMetadata, error) {
	tm := &TypedMetadata{
		Values:  make(map[string]FieldValue, len(p.Fields)),
		Unknown: make(map[string]any),
	}

	for _, f := range p.Fields {
		raw, present := custom[f.Name]
		if (!present || raw == nil) && f.DefaultValue != nil {
			raw, present = f.DefaultValue, true
		}

		if !present || raw == nil {
			if f.Required {
				return nil, fmt.Errorf("%w: %s", ErrRequiredField, f.Name)
			}
			continue
		}

		v, err := ParseFieldValue(f, raw)
		if err != nil {
			return nil, err
		}
		if v.IsEmpty() {
			if f.Required {
				return nil, fmt.Errorf("%w: %s", ErrRequiredField, f.Name)
			}
			continue
		}
		tm.Values[f.Name] = v
	}

	for k, v := range custom {
		if _, declared := p.Field(k); declared {
			continue
		}
		tm.Unknown[k] = v
	}

	return tm, nil
}
