// search.go — поиск, дубликаты и статистика.
package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/open-archiver/internal/api/errors"
	"github.com/bigkaa/goartstore/open-archiver/internal/service"
	"github.com/bigkaa/goartstore/open-archiver/internal/storage/index"
)

// fieldParamPrefix — префикс query-параметров фильтра по полю:
// field.<name>=value или field.<name>=min..max.
const fieldParamPrefix = "field."

// rangeSeparator — разделитель границ диапазона в значении фильтра.
const rangeSeparator = ".."

// searchQuery — query-параметры GET /api/v1/search.
type searchQuery struct {
	Q            *string
	Limit        *int
	Offset       *int
	SortBy       *string
	SortOrder    *string
	ProfileID    *string
	MimeType     *string
	Tags         *[]string
	WithMetadata *bool
}

// SearchAssets обрабатывает GET /api/v1/search.
func (h *APIHandler) SearchAssets(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	h.runSearch(w, r, params)
}

// SearchAssetsPost обрабатывает POST /api/v1/search с телом SearchParams.
// Позволяет передавать фильтры с операциями contains и range явно.
func (h *APIHandler) SearchAssetsPost(w http.ResponseWriter, r *http.Request) {
	var params service.SearchParams
	if err := decodeJSON(r, &params, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	h.runSearch(w, r, params)
}

func (h *APIHandler) runSearch(w http.ResponseWriter, r *http.Request, params service.SearchParams) {
	res, err := h.search.Search(r.Context(), params)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseSearchQuery разбирает query-параметры поиска.
func parseSearchQuery(values url.Values) (service.SearchParams, error) {
	var q searchQuery
	bindings := []struct {
		name string
		dest any
	}{
		{"q", &q.Q},
		{"limit", &q.Limit},
		{"offset", &q.Offset},
		{"sort_by", &q.SortBy},
		{"sort_order", &q.SortOrder},
		{"profile_id", &q.ProfileID},
		{"mime_type", &q.MimeType},
		{"tag", &q.Tags},
		{"with_metadata", &q.WithMetadata},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, values, b.dest); err != nil {
			return service.SearchParams{}, fmt.Errorf("некорректный параметр %s: %v", b.name, err)
		}
	}

	params := service.SearchParams{
		Text:         deref(q.Q),
		SortBy:       deref(q.SortBy),
		SortOrder:    deref(q.SortOrder),
		Limit:        derefInt(q.Limit),
		Offset:       derefInt(q.Offset),
		WithMetadata: q.WithMetadata != nil && *q.WithMetadata,
	}
	if v := deref(q.ProfileID); v != "" {
		params.Filters = append(params.Filters, index.Filter{Field: "profile_id", Op: index.OpEquals, Value: v})
	}
	if v := deref(q.MimeType); v != "" {
		params.Filters = append(params.Filters, index.Filter{Field: "mime_type", Op: index.OpEquals, Value: v})
	}
	var tags []string
	if q.Tags != nil {
		tags = *q.Tags
	}
	for _, tag := range tags {
		if tag != "" {
			params.Filters = append(params.Filters, index.Filter{Field: "tags", Op: index.OpHas, Value: tag})
		}
	}

	// Фильтры по полям: порядок ключей фиксирован для воспроизводимых запросов
	var fieldKeys []string
	for key := range values {
		if strings.HasPrefix(key, fieldParamPrefix) {
			fieldKeys = append(fieldKeys, key)
		}
	}
	sort.Strings(fieldKeys)
	for _, key := range fieldKeys {
		name := strings.TrimPrefix(key, fieldParamPrefix)
		if name == "" {
			return service.SearchParams{}, fmt.Errorf("пустое имя поля в параметре %s", key)
		}
		for _, v := range values[key] {
			params.Filters = append(params.Filters, fieldFilter(name, v))
		}
	}
	return params, nil
}

// fieldFilter строит фильтр по значению query-параметра:
// "min..max" (границы необязательны) — диапазон, иначе — равенство.
func fieldFilter(name, value string) index.Filter {
	lo, hi, isRange := strings.Cut(value, rangeSeparator)
	if !isRange {
		return index.Filter{Field: name, Op: index.OpEquals, Value: value}
	}
	f := index.Filter{Field: name, Op: index.OpRange}
	if lo != "" {
		f.Min = lo
	}
	if hi != "" {
		f.Max = hi
	}
	return f
}

// GetDuplicates обрабатывает GET /api/v1/duplicates.
func (h *APIHandler) GetDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.search.Duplicates(r.Context())
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	if groups == nil {
		groups = []index.DuplicateGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"total":  len(groups),
	})
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.search.Statistics(r.Context())
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	usage, err := h.search.FieldUsage(r.Context())
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"statistics":  stats,
		"field_usage": usage,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
