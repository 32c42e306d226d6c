package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout — формат полей типа date.
const DateLayout = "2006-01-02"

// FieldValue — типизированное значение поля метаданных.
// Kind определяет, какое из полей-носителей заполнено:
// Text (text, textarea, select), List (tags, multiselect),
// Flag (boolean), Number (number), Time (date, datetime).
type FieldValue struct {
	Kind   FieldType
	Text   string
	List   []string
	Flag   bool
	Number float64
	Time   time.Time
}

// IsEmpty возвращает true для пустой строки и пустого списка.
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case FieldText, FieldTextarea, FieldSelect:
		return strings.TrimSpace(v.Text) == ""
	case FieldTags, FieldMultiselect:
		return len(v.List) == 0
	}
	return false
}

// JSON возвращает значение в JSON-естественном виде для sidecar-файла.
func (v FieldValue) JSON() any {
	switch v.Kind {
	case FieldTags, FieldMultiselect:
		out := make([]any, len(v.List))
		for i, s := range v.List {
			out[i] = s
		}
		return out
	case FieldBoolean:
		return v.Flag
	case FieldNumber:
		return v.Number
	case FieldDate:
		return v.Time.Format(DateLayout)
	case FieldDatetime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return v.Text
	}
}

// ParseFieldValue разбирает сырое значение по объявленному типу поля.
func ParseFieldValue(f Field, raw any) (FieldValue, error) {
	v := FieldValue{Kind: f.FieldType}
	invalid := func(format string, args ...any) (FieldValue, error) {
		return FieldValue{}, fmt.Errorf("%w: %s: %s", ErrInvalidFieldValue, f.Name, fmt.Sprintf(format, args...))
	}

	switch f.FieldType {
	case FieldText, FieldTextarea, FieldSelect:
		s, ok := raw.(string)
		if !ok {
			return invalid("ожидалась строка, получено %T", raw)
		}
		v.Text = s
		if f.FieldType == FieldSelect && s != "" && !slices.Contains(f.Options, s) {
			return invalid("значение %q отсутствует в options", s)
		}
		if f.ValidationPattern != "" && s != "" {
			re, err := regexp.Compile(f.ValidationPattern)
			if err != nil {
				return invalid("некорректный validation_pattern: %v", err)
			}
			if !re.MatchString(s) {
				return invalid("значение %q не соответствует шаблону %s", s, f.ValidationPattern)
			}
		}

	case FieldTags, FieldMultiselect:
		list, err := toStringList(raw)
		if err != nil {
			return invalid("%v", err)
		}
		v.List = list
		if f.FieldType == FieldMultiselect {
			for _, s := range list {
				if !slices.Contains(f.Options, s) {
					return invalid("значение %q отсутствует в options", s)
				}
			}
		}

	case FieldBoolean:
		switch b := raw.(type) {
		case bool:
			v.Flag = b
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return invalid("ожидалось логическое значение, получено %q", b)
			}
			v.Flag = parsed
		default:
			return invalid("ожидалось логическое значение, получено %T", raw)
		}

	case FieldNumber:
		switch n := raw.(type) {
		case float64:
			v.Number = n
		case float32:
			v.Number = float64(n)
		case int:
			v.Number = float64(n)
		case int64:
			v.Number = float64(n)
		case json.Number:
			parsed, err := n.Float64()
			if err != nil {
				return invalid("ожидалось число, получено %q", n.String())
			}
			v.Number = parsed
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return invalid("ожидалось число, получено %q", n)
			}
			v.Number = parsed
		default:
			return invalid("ожидалось число, получено %T", raw)
		}

	case FieldDate, FieldDatetime:
		switch t := raw.(type) {
		case time.Time:
			v.Time = t
		case string:
			parsed, err := parseTime(f.FieldType, strings.TrimSpace(t))
			if err != nil {
				return invalid("некорректная дата %q", t)
			}
			v.Time = parsed
		default:
			return invalid("ожидалась дата, получено %T", raw)
		}

	default:
		return invalid("неизвестный тип %q", f.FieldType)
	}

	return v, nil
}

// parseTime разбирает дату. Для date допускается и полный RFC 3339.
func parseTime(kind FieldType, s string) (time.Time, error) {
	if kind == FieldDate {
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339, s)
}

// toStringList приводит список или строку через запятую к []string.
// Пустые элементы и повторы отбрасываются.
func toStringList(raw any) ([]string, error) {
	var items []string
	switch l := raw.(type) {
	case []string:
		items = l
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("элемент списка должен быть строкой, получено %T", item)
			}
			items = append(items, s)
		}
	case string:
		items = strings.Split(l, ",")
	default:
		return nil, fmt.Errorf("ожидался список строк, получено %T", raw)
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// TypedMetadata — результат проверки метаданных по профилю.
type TypedMetadata struct {
	// Values — объявленные в профиле поля
	Values map[string]FieldValue
	// Unknown — ключи, которых нет в профиле
	Unknown map[string]any
}

// Map собирает custom_metadata для sidecar-файла.
func (t *TypedMetadata) Map() map[string]any {
	out := make(map[string]any, len(t.Values)+len(t.Unknown))
	for k, v := range t.Unknown {
		out[k] = v
	}
	for k, v := range t.Values {
		out[k] = v.JSON()
	}
	return out
}
