package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/bigkaa/goartstore/open-archiver/internal/domain/model"
)

// FilterOp — вид предиката фильтра.
type FilterOp string

const (
	// OpEquals — точное совпадение
	OpEquals FilterOp = "eq"
	// OpContains — подстрока без учёта регистра
	OpContains FilterOp = "contains"
	// OpHas — список содержит элемент (для тегов)
	OpHas FilterOp = "has"
	// OpRange — Min <= значение <= Max, границы необязательны
	OpRange FilterOp = "range"
)

// CustomPrefix — явный префикс пользовательского поля в фильтре.
const CustomPrefix = "custom."

// Filter — предикат по колонке или полю custom_metadata.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
	Min   any      `json:"min,omitempty"`
	Max   any      `json:"max,omitempty"`
}

// Query — параметры выборки из индекса.
type Query struct {
	// Text — полнотекстовый запрос; пустой — без текстового условия
	Text    string
	Filters []Filter
	// SortBy — колонка сортировки для нетекстовых запросов
	SortBy   string
	SortDesc bool
	// Limit <= 0 — без ограничения
	Limit  int
	Offset int
}

// Page — страница результатов.
type Page struct {
	Records []*Record
	Total   int
}

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindTime
)

// columns — белый список фиксированных колонок для фильтров и сортировки.
var columns = map[string]columnKind{
	"asset_id":             kindText,
	"original_path":        kindText,
	"archive_path":         kindText,
	"file_name":            kindText,
	"mime_type":            kindText,
	"checksum_sha256":      kindText,
	"profile_id":           kindText,
	"file_size":            kindInt,
	"created_at":           kindTime,
	"updated_at":           kindTime,
	"checksum_verified_at": kindTime,
}

// DefaultSort — колонка сортировки по умолчанию.
const DefaultSort = "created_at"

// IsSortable проверяет, допустима ли колонка сортировки.
func IsSortable(name string) bool {
	_, ok := columns[name]
	return ok
}

// Query выполняет выборку. Все предикаты объединяются через AND.
// Текстовые запросы упорядочиваются по релевантности (bm25),
// остальные — по SortBy; при равенстве — по asset_id.
func (idx *Index) Query(ctx context.Context, q Query) (*Page, error) {
	var (
		where []string
		args  []any
	)

	from := "FROM assets a"
	score := "0"
	order := ""

	match := ftsMatch(q.Text)
	if match != "" {
		from = "FROM assets_fts JOIN assets a ON a.asset_id = assets_fts.asset_id"
		where = append(where, "assets_fts MATCH ?")
		args = append(args, match)
		score = "bm25(assets_fts)"
		order = "bm25(assets_fts), a.asset_id"
	} else {
		sortBy := q.SortBy
		if sortBy == "" {
			sortBy = DefaultSort
		}
		if !IsSortable(sortBy) {
			return nil, fmt.Errorf("%w: недопустимая колонка сортировки %q", model.ErrInvalidQuery, sortBy)
		}
		dir := "ASC"
		if q.SortDesc {
			dir = "DESC"
		}
		order = fmt.Sprintf("a.%s %s, a.asset_id ASC", sortBy, dir)
	}

	for _, f := range q.Filters {
		clause, fargs, err := buildFilter(f)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, fargs...)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) "+from+whereSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта результатов: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(q.Offset, 0)

	listSQL := "SELECT " + recordColumns + ", " + score + " " + from + whereSQL +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := idx.db.QueryContext(ctx, listSQL, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	page := &Page{Records: []*Record{}, Total: total}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения результата: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения результатов: %w", err)
	}
	return page, nil
}

// ftsMatch превращает свободный текст в выражение FTS5:
// каждое слово берётся в кавычки как префиксный терм, термы
// объединяются через AND. Синтаксис FTS5 в запросе не интерпретируется.
// Слова без букв и цифр отбрасываются; пустой результат — без текстового условия.
func ftsMatch(text string) string {
	var terms []string
	for _, tok := range strings.Fields(text) {
		tok = strings.ReplaceAll(tok, `"`, "")
		tok = strings.Trim(tok, "*")
		if !strings.ContainsFunc(tok, isWordRune) {
			continue
		}
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// buildFilter строит SQL-условие для одного фильтра.
func buildFilter(f Filter) (string, []any, error) {
	name := f.Field
	forceCustom := strings.HasPrefix(name, CustomPrefix)
	name = strings.TrimPrefix(name, CustomPrefix)

	if kind, ok := columns[name]; ok && !forceCustom {
		return buildColumnFilter(name, kind, f)
	}
	if !model.ValidFieldName(name) {
		return "", nil, fmt.Errorf("%w: недопустимое имя поля %q", model.ErrInvalidQuery, f.Field)
	}
	return buildCustomFilter(`$."`+name+`"`, f)
}

func buildColumnFilter(col string, kind columnKind, f Filter) (string, []any, error) {
	expr := "a." + col

	switch f.Op {
	case OpEquals, "":
		if f.Value == nil || f.Value == "" {
			if col == "profile_id" || col == "checksum_verified_at" {
				return expr + " IS NULL", nil, nil
			}
		}
		v, err := columnValue(kind, f.Value)
		if err != nil {
			return "", nil, err
		}
		return expr + " = ?", []any{v}, nil

	case OpContains:
		if kind == kindInt {
			return "", nil, fmt.Errorf("%w: contains неприменим к %s", model.ErrInvalidQuery, col)
		}
		return "instr(lower(" + expr + "), lower(?)) > 0", []any{toText(f.Value)}, nil

	case OpRange:
		var (
			parts []string
			args  []any
		)
		if f.Min != nil {
			v, err := columnValue(kind, f.Min)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, expr+" >= ?")
			args = append(args, v)
		}
		if f.Max != nil {
			v, err := columnValue(kind, f.Max)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, expr+" <= ?")
			args = append(args, v)
		}
		if len(parts) == 0 {
			return "", nil, fmt.Errorf("%w: для range нужна хотя бы одна граница (%s)", model.ErrInvalidQuery, col)
		}
		return strings.Join(parts, " AND "), args, nil

	case OpHas:
		return "", nil, fmt.Errorf("%w: has применим только к спискам, не к %s", model.ErrInvalidQuery, col)
	}
	return "", nil, fmt.Errorf("%w: неизвестная операция %q", model.ErrInvalidQuery, f.Op)
}

// customText — значение поля custom_metadata как текст;
// логические значения приводятся к "true"/"false".
const customText = `(CASE json_type(a.custom_metadata, ?) WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ` +
	`ELSE CAST(json_extract(a.custom_metadata, ?) AS TEXT) END)`

// hasElement — список по пути содержит элемент, равный значению.
const hasElement = `EXISTS (SELECT 1 FROM json_each(a.custom_metadata, ?) AS je WHERE CAST(je.value AS TEXT) = ?)`

// hasElementFold — то же без учёта регистра.
const hasElementFold = `EXISTS (SELECT 1 FROM json_each(a.custom_metadata, ?) AS je WHERE lower(CAST(je.value AS TEXT)) = lower(?))`

// onArray выбирает предикат по фактическому типу значения: для списков
// (теги, множественный выбор) — проверка элемента, иначе — скалярный.
func onArray(path, list, scalar string, listArgs, scalarArgs []any) (string, []any) {
	clause := "(CASE WHEN json_type(a.custom_metadata, ?) = 'array' THEN " + list + " ELSE " + scalar + " END)"
	args := append([]any{path}, listArgs...)
	return clause, append(args, scalarArgs...)
}

func buildCustomFilter(path string, f Filter) (string, []any, error) {
	switch f.Op {
	case OpEquals, "":
		v := toText(f.Value)
		clause, args := onArray(path, hasElement, customText+" = ?",
			[]any{path, v}, []any{path, path, v})
		return clause, args, nil

	case OpContains:
		// Для списков contains означает «содержит элемент», не подстроку
		v := toText(f.Value)
		clause, args := onArray(path, hasElementFold, "instr(lower("+customText+"), lower(?)) > 0",
			[]any{path, v}, []any{path, path, v})
		return clause, args, nil

	case OpHas:
		return hasElement, []any{path, toText(f.Value)}, nil

	case OpRange:
		var (
			parts []string
			args  []any
		)
		for _, bound := range []struct {
			v  any
			op string
		}{{f.Min, ">="}, {f.Max, "<="}} {
			if bound.v == nil {
				continue
			}
			if n, ok := toNumber(bound.v); ok {
				parts = append(parts, "CAST(json_extract(a.custom_metadata, ?) AS REAL) "+bound.op+" ?")
				args = append(args, path, n)
			} else {
				parts = append(parts, "json_extract(a.custom_metadata, ?) "+bound.op+" ?")
				args = append(args, path, toText(bound.v))
			}
		}
		if len(parts) == 0 {
			return "", nil, fmt.Errorf("%w: для range нужна хотя бы одна граница", model.ErrInvalidQuery)
		}
		parts = append(parts, "json_extract(a.custom_metadata, ?) IS NOT NULL")
		args = append(args, path)
		return strings.Join(parts, " AND "), args, nil
	}
	return "", nil, fmt.Errorf("%w: неизвестная операция %q", model.ErrInvalidQuery, f.Op)
}

// columnValue приводит значение фильтра к типу колонки.
func columnValue(kind columnKind, v any) (any, error) {
	switch kind {
	case kindInt:
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалось число, получено %v", model.ErrInvalidQuery, v)
		}
		return int64(n), nil
	case kindTime:
		switch t := v.(type) {
		case time.Time:
			return formatTime(t), nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, model.DateLayout} {
				if parsed, err := time.Parse(layout, t); err == nil {
					return formatTime(parsed), nil
				}
			}
		}
		return nil, fmt.Errorf("%w: ожидалась дата, получено %v", model.ErrInvalidQuery, v)
	}
	return toText(v), nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
