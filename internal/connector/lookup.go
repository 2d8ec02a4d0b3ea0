package connector

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Lookup walks a dot-separated path through decoded JSON or Go values.
// Map-like values are indexed by key, list-like values by a numeric segment
// and structs by field name or json tag. ok is false when any segment is
// missing or the value along the way is nil.
func Lookup(v any, path string) (any, bool) {
	cur := v
	if path == "" {
		return cur, cur != nil
	}
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

func step(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		next, ok := t[seg]
		return next, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return stepReflect(reflect.ValueOf(v), seg)
}

func stepReflect(rv reflect.Value, seg string) (any, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		rt := rv.Type()
		for i := range rt.NumField() {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if f.Name == seg || tag == seg {
				return rv.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// First returns the value at the first path that resolves.
func First(v any, paths ...string) (any, bool) {
	for _, p := range paths {
		if out, ok := Lookup(v, p); ok {
			return out, true
		}
	}
	return nil, false
}

// String returns the value at path rendered as a string, or def.
func String(v any, path, def string) string {
	raw, ok := Lookup(v, path)
	if !ok {
		return def
	}
	switch t := raw.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	}
	return def
}

// Decimal returns the numeric value at path, or zero.
func Decimal(v any, path string) decimal.Decimal {
	raw, ok := Lookup(v, path)
	if !ok {
		return decimal.Zero
	}
	d, _ := toDecimal(raw)
	return d
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch t := raw.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(t), ",", ""))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case decimal.Decimal:
		return t, true
	}
	return decimal.Zero, false
}

// Int returns the integer at path, or def.
func Int(v any, path string, def int) int {
	raw, ok := Lookup(v, path)
	if !ok {
		return def
	}
	d, ok := toDecimal(raw)
	if !ok {
		return def
	}
	return int(d.IntPart())
}

// Strings returns the list at path with every element rendered as a string.
// A scalar is returned as a one-element list.
func Strings(v any, path string) []string {
	raw, ok := Lookup(v, path)
	if !ok {
		return nil
	}
	if list, isList := raw.([]any); isList {
		out := make([]string, 0, len(list))
		for i := range list {
			if s := String(list, strconv.Itoa(i), ""); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := String(v, path, ""); s != "" {
		return []string{s}
	}
	return nil
}

// List returns the slice at path, or nil.
func List(v any, path string) []any {
	raw, ok := Lookup(v, path)
	if !ok {
		return nil
	}
	list, _ := raw.([]any)
	return list
}
