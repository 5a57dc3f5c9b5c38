package klaviyo

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FilterOp is one of the upstream's fixed filter operators.
type FilterOp string

const (
	OpEquals         FilterOp = "equals"
	OpGreaterThan    FilterOp = "greater-than"
	OpLessThan       FilterOp = "less-than"
	OpGreaterOrEqual FilterOp = "greater-or-equal"
	OpLessOrEqual    FilterOp = "less-or-equal"
	OpContains       FilterOp = "contains"
)

// Filter is a single op(field,value) expression. Multiple filters on
// one request are ANDed by comma-joining.
type Filter struct {
	Op    FilterOp
	Field string
	Value any
}

func Equals(field string, value any) Filter         { return Filter{OpEquals, field, value} }
func GreaterThan(field string, value any) Filter    { return Filter{OpGreaterThan, field, value} }
func LessThan(field string, value any) Filter       { return Filter{OpLessThan, field, value} }
func GreaterOrEqual(field string, value any) Filter { return Filter{OpGreaterOrEqual, field, value} }
func LessOrEqual(field string, value any) Filter    { return Filter{OpLessOrEqual, field, value} }
func Contains(field string, value any) Filter       { return Filter{OpContains, field, value} }

// String renders the op(field,value) form.
func (f Filter) String() string {
	return fmt.Sprintf("%s(%s,%s)", f.Op, f.Field, encodeFilterValue(f.Value))
}

// encodeFilterValue renders a filter operand: RFC 3339 for datetimes,
// double-quoted strings with internal quotes escaped, bare literals
// for numbers and booleans, bracketed lists for slices.
func encodeFilterValue(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case string:
		return `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = encodeFilterValue(s)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = encodeFilterValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Page carries cursor pagination state.
type Page struct {
	Cursor string
	Size   int
}

// Params is the structured request parameter set; Encode serializes
// it to the upstream's JSON:API query string conventions.
type Params struct {
	Filters []Filter
	Sort    []string
	Include []string
	// Fields maps a resource type to its sparse fieldset.
	Fields map[string][]string
	Page   Page
}

// Encode renders the canonical query string. url.Values sorts keys,
// so identical Params always encode identically; that string doubles
// as the request-coalescing key.
func (p Params) Encode() string {
	values := url.Values{}

	if len(p.Filters) > 0 {
		parts := make([]string, len(p.Filters))
		for i, f := range p.Filters {
			parts[i] = f.String()
		}
		values.Set("filter", strings.Join(parts, ","))
	}
	if len(p.Sort) > 0 {
		values.Set("sort", strings.Join(p.Sort, ","))
	}
	if len(p.Include) > 0 {
		include := append([]string(nil), p.Include...)
		sort.Strings(include)
		values.Set("include", strings.Join(include, ","))
	}
	for resource, fields := range p.Fields {
		fs := append([]string(nil), fields...)
		sort.Strings(fs)
		values.Set(fmt.Sprintf("fields[%s]", resource), strings.Join(fs, ","))
	}
	if p.Page.Cursor != "" {
		values.Set("page[cursor]", p.Page.Cursor)
	}
	if p.Page.Size > 0 {
		values.Set("page[size]", strconv.Itoa(p.Page.Size))
	}

	return values.Encode()
}
