package codec

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	stdErrors "errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	timeType          = reflect.TypeFor[time.Time]()
	numberType        = reflect.TypeFor[json.Number]()
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()

	errCycle = stdErrors.New("codec: encountered a cycle")
)

type visit struct {
	ptr uintptr
	typ reflect.Type
}

// timeWriter rebuilds a value as maps, slices and scalars that encoding/json
// writes the way it would write the value itself, except that every
// time.Time is already formatted with layout. Types with their own
// MarshalJSON or MarshalText are encoded by them and left alone.
type timeWriter struct {
	layout string
	seen   map[visit]struct{}
}

func newTimeWriter(layout string) *timeWriter {
	return &timeWriter{layout: layout, seen: make(map[visit]struct{})}
}

func (w *timeWriter) tree(v any) (any, error) {
	return w.value(reflect.ValueOf(v))
}

func (w *timeWriter) value(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == timeType && v.CanInterface():
		return v.Interface().(time.Time).UTC().Format(w.layout), nil
	case t == numberType:
		return json.Number(v.String()), nil
	case v.Kind() == reflect.Pointer && t.Elem() == timeType:
		// *time.Time has MarshalJSON too
		if v.IsNil() {
			return nil, nil
		}
		return w.value(v.Elem())
	}
	if raw, ok, err := marshaled(v); ok {
		return raw, err
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return w.enter(v, func() (any, error) { return w.value(v.Elem()) })
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return w.value(v.Elem())
	case reflect.Struct:
		out := make(map[string]any)
		if err := w.fields(v, out); err != nil {
			return nil, err
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return w.enter(v, func() (any, error) { return w.mapping(v) })
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if isByteSlice(t) {
			return base64.StdEncoding.EncodeToString(v.Bytes()), nil
		}
		return w.enter(v, func() (any, error) { return w.list(v) })
	case reflect.Array:
		return w.list(v)
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &json.UnsupportedValueError{Value: v, Str: strconv.FormatFloat(f, 'g', -1, 64)}
		}
		bits := 64
		if v.Kind() == reflect.Float32 {
			bits = 32
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, bits)), nil
	}
	return nil, &json.UnsupportedTypeError{Type: t}
}

// enter guards pointers, maps and slices against reference cycles on the
// current path.
func (w *timeWriter) enter(v reflect.Value, fn func() (any, error)) (any, error) {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if _, ok := w.seen[key]; ok {
		return nil, errCycle
	}
	w.seen[key] = struct{}{}
	defer delete(w.seen, key)
	return fn()
}

// fields writes the struct fields of v into out following encoding/json tag
// rules. Fields of embedded structs never override the outer ones.
func (w *timeWriter) fields(v reflect.Value, out map[string]any) error {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if hasOption(opts, "omitempty") && isEmpty(fv) {
			continue
		}
		if hasOption(opts, "omitzero") && fv.IsZero() {
			continue
		}

		e, err := w.value(fv)
		if err != nil {
			return err
		}
		if hasOption(opts, "string") {
			if e, err = quoted(fv, e); err != nil {
				return err
			}
		}
		out[name] = e
	}

	for _, ev := range embedded {
		inner := make(map[string]any)
		if err := w.fields(ev, inner); err != nil {
			return err
		}
		for k, e := range inner {
			if _, ok := out[k]; !ok {
				out[k] = e
			}
		}
	}
	return nil
}

func (w *timeWriter) mapping(v reflect.Value) (any, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		e, err := w.value(iter.Value())
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

func (w *timeWriter) list(v reflect.Value) (any, error) {
	out := make([]any, v.Len())
	for i := range out {
		e, err := w.value(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// marshaled encodes v with its own MarshalJSON or MarshalText, reporting
// false when v has neither.
func marshaled(v reflect.Value) (any, bool, error) {
	t := v.Type()
	m := v
	switch {
	case t.Implements(jsonMarshalerType), t.Implements(textMarshalerType):
	case v.CanAddr() && (reflect.PointerTo(t).Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType)):
		m = v.Addr()
	default:
		return nil, false, nil
	}
	if !m.CanInterface() {
		return nil, false, nil
	}
	if (m.Kind() == reflect.Pointer || m.Kind() == reflect.Interface) && m.IsNil() {
		return nil, true, nil
	}
	data, err := json.Marshal(m.Interface())
	if err != nil {
		return nil, true, err
	}
	return json.RawMessage(data), true, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			text, err := tm.MarshalText()
			return string(text), err
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &json.UnsupportedTypeError{Type: k.Type()}
}

func isByteSlice(t reflect.Type) bool {
	if t.Elem().Kind() != reflect.Uint8 {
		return false
	}
	p := reflect.PointerTo(t.Elem())
	return !p.Implements(jsonMarshalerType) && !p.Implements(textMarshalerType)
}

func hasOption(opts, name string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == name {
			return true
		}
	}
	return false
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// quoted applies the ",string" tag option to scalar fields.
func quoted(v reflect.Value, e any) (any, error) {
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return e, nil
}
