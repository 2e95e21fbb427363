package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/ordersync/internal/syncerr"
)

// reader pulls typed fields out of an untyped record and remembers every
// field it had to default.
type reader struct {
	orderID string
	defects []*syncerr.Error
}

func (r *reader) defect(field string, value any) {
	r.defects = append(r.defects, syncerr.MappingDefect(r.orderID, field, value))
}

// lookup returns the first non-nil value among keys.
func lookup(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// has reports whether any of keys is present with a non-nil value.
func has(m map[string]any, keys ...string) bool {
	_, ok := lookup(m, keys...)
	return ok
}

func (r *reader) str(m map[string]any, keys ...string) string {
	v, ok := lookup(m, keys...)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return norm.NFC.String(strings.TrimSpace(val))
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		r.defect(keys[0], v)
		return ""
	}
}

// money coerces with parse-or-zero.
func (r *reader) money(m map[string]any, keys ...string) decimal.Decimal {
	v, ok := lookup(m, keys...)
	if !ok {
		return decimal.Zero
	}
	d, ok := toDecimal(v)
	if !ok {
		r.defect(keys[0], v)
		return decimal.Zero
	}
	return d
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(val), "$"))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	case decimal.Decimal:
		return val, true
	default:
		return decimal.Zero, false
	}
}

func (r *reader) integer(m map[string]any, keys ...string) int {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
		if f, err := val.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	r.defect(keys[0], v)
	return 0
}

func (r *reader) float(m map[string]any, keys ...string) *float64 {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			r.defect(keys[0], v)
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			r.defect(keys[0], v)
			return nil
		}
		f = parsed
	default:
		r.defect(keys[0], v)
		return nil
	}
	return &f
}

func (r *reader) boolean(m map[string]any, keys ...string) bool {
	v, ok := lookup(m, keys...)
	if !ok {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			r.defect(keys[0], v)
		}
		return b
	case float64:
		return val != 0
	default:
		r.defect(keys[0], v)
		return false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// timestamp accepts RFC 3339 strings and epoch numbers (milliseconds when
// large enough to be milliseconds, otherwise seconds). Returns nil when
// absent or unparsable.
func (r *reader) timestamp(m map[string]any, keys ...string) *time.Time {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	var t time.Time
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		parsed := false
		for _, layout := range timeLayouts {
			if pt, err := time.Parse(layout, s); err == nil {
				t, parsed = pt, true
				break
			}
		}
		if !parsed {
			r.defect(keys[0], v)
			return nil
		}
	case float64:
		t = fromEpoch(int64(val))
	case int64:
		t = fromEpoch(val)
	case int:
		t = fromEpoch(int64(val))
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			r.defect(keys[0], v)
			return nil
		}
		t = fromEpoch(n)
	default:
		r.defect(keys[0], v)
		return nil
	}
	t = t.UTC()
	return &t
}

func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// object returns a nested record, or nil.
func object(m map[string]any, keys ...string) map[string]any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	obj, _ := v.(map[string]any)
	return obj
}

// list returns the record elements of a nested array. Non-record elements
// are dropped.
func (r *reader) list(m map[string]any, keys ...string) []map[string]any {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		r.defect(keys[0], v)
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, elem := range arr {
		if obj, ok := elem.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// strs returns the string elements of a nested array.
func (r *reader) strs(m map[string]any, keys ...string) []string {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		r.defect(keys[0], v)
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		switch e := elem.(type) {
		case string:
			out = append(out, norm.NFC.String(strings.TrimSpace(e)))
		case map[string]any:
			if name := r.str(e, "name", "displayName", "display_name"); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
