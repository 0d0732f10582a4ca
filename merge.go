package kvstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Patch is a partial update for a structured value, keyed by JSON field name.
// Merging is shallow: a key in the patch replaces the whole field.
type Patch map[string]any

// structured reports whether values of t are records that support partial
// updates: structs, maps with string keys, and pointers to structs.
func structured(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	case reflect.Pointer:
		return t.Elem().Kind() == reflect.Struct
	default:
		return false
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// mergeJSON overlays the top-level keys of patch (a JSON object) onto a
// shallow copy of base. Each key replaces one struct field (matched by JSON
// name, exactly first, then case-insensitively) or one map entry; everything
// the patch does not name, including fields JSON never sees, is kept. With
// strict set, keys unknown to a struct T fail with ErrUnknownField.
func mergeJSON[T any](base T, patch []byte, strict bool) (T, error) {
	var zero T

	over, err := objectFields(patch)
	if err != nil {
		return zero, err
	}
	out := clone(base)
	rv := reflect.ValueOf(&out).Elem()

	switch rv.Kind() {
	case reflect.Map:
		if len(over) == 0 {
			return out, nil
		}
		if rv.IsNil() {
			rv.Set(reflect.MakeMapWithSize(rv.Type(), len(over)))
		}
		for k, raw := range over {
			ev := reflect.New(rv.Type().Elem())
			if err := json.Unmarshal(raw, ev.Interface()); err != nil {
				return zero, fmt.Errorf("kvstate: apply patch %q: %w", k, err)
			}
			rv.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), ev.Elem())
		}
		return out, nil
	case reflect.Pointer:
		if len(over) == 0 {
			return out, nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem() // clone already detached the pointee
	}
	if rv.Kind() != reflect.Struct {
		return zero, ErrNotStructured
	}

	fields := jsonFields(rv.Type())
	for k, raw := range over {
		idx, ok := lookupField(fields, k)
		if !ok {
			if strict {
				return zero, fmt.Errorf("%w: %q", ErrUnknownField, k)
			}
			continue
		}
		fv := settableField(rv, idx)
		if !fv.IsValid() {
			return zero, fmt.Errorf("kvstate: field %q cannot be set", k)
		}
		nv := reflect.New(fv.Type())
		if err := json.Unmarshal(raw, nv.Interface()); err != nil {
			return zero, fmt.Errorf("kvstate: apply patch %q: %w", k, err)
		}
		fv.Set(nv.Elem())
	}
	return out, nil
}

var fieldCache sync.Map // reflect.Type -> map[string][]int

// jsonFields maps the JSON names of t's fields to their index paths. Tags,
// "-" and embedded structs follow encoding/json; a name found at a shallower
// depth wins.
func jsonFields(t reflect.Type) map[string][]int {
	if v, ok := fieldCache.Load(t); ok {
		return v.(map[string][]int)
	}
	type level struct {
		t     reflect.Type
		index []int
	}
	out := map[string][]int{}
	queue := []level{{t: t}}
	for len(queue) > 0 {
		var next []level
		for _, l := range queue {
			for i := 0; i < l.t.NumField(); i++ {
				f := l.t.Field(i)
				tag := f.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, _, _ := strings.Cut(tag, ",")
				idx := append(append([]int(nil), l.index...), i)
				if f.Anonymous && name == "" {
					ft := f.Type
					if ft.Kind() == reflect.Pointer {
						ft = ft.Elem()
					}
					if ft.Kind() == reflect.Struct {
						next = append(next, level{t: ft, index: idx})
						continue
					}
				}
				if !f.IsExported() {
					continue
				}
				if name == "" {
					name = f.Name
				}
				if _, seen := out[name]; !seen {
					out[name] = idx
				}
			}
		}
		queue = next
	}
	fieldCache.Store(t, out)
	return out
}

func lookupField(fields map[string][]int, key string) ([]int, bool) {
	if idx, ok := fields[key]; ok {
		return idx, true
	}
	for name, idx := range fields {
		if strings.EqualFold(name, key) {
			return idx, true
		}
	}
	return nil, false
}

// settableField walks index from the addressable struct v. Embedded pointers
// on the way are replaced by fresh copies so the write never reaches a value
// shared with the previous state.
func settableField(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if !v.CanSet() {
				return reflect.Value{}
			}
			cp := reflect.New(v.Type().Elem())
			if !v.IsNil() {
				cp.Elem().Set(v.Elem())
			}
			v.Set(cp)
			v = v.Elem()
		}
		v = v.Field(x)
	}
	if !v.CanSet() {
		return reflect.Value{}
	}
	return v
}

// objectFields splits a JSON object into its members. JSON null yields an
// empty set so nil maps and pointers merge like empty records.
func objectFields(raw []byte) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if isJSONNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("kvstate: not a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	return out, nil
}

// isJSONObject reports whether b holds a single JSON object.
func isJSONObject(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && t[0] == '{' && json.Valid(t)
}

// equalValues is the structural equality behind CanReset. Values that differ
// only in Go representation (int vs float64 inside map[string]any, nil vs
// empty map) but encode to the same JSON are considered equal.
func equalValues[T any](a, b T) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	if bytes.Equal(ja, jb) {
		return true
	}
	// normalise number formatting and nested map ordering
	var va, vb any
	if json.Unmarshal(ja, &va) != nil || json.Unmarshal(jb, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(emptyToNil(va), emptyToNil(vb))
}

func emptyToNil(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return v
}

// clone returns a copy of v that shares no top-level map or struct pointer
// with the original. Nested references are shared (shallow).
func clone[T any](v T) T {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface().(T)
	case reflect.Pointer:
		if rv.IsNil() {
			return v
		}
		cp := reflect.New(rv.Type().Elem())
		cp.Elem().Set(rv.Elem())
		return cp.Interface().(T)
	default:
		return v
	}
}

var errEmptyField = errors.New("kvstate: field name is required")
