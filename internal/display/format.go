// Package display renders arbitrary runtime values (props, styles) as bounded,
// human-readable text for the inspector popover.
package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Markers used in formatted output.
const (
	Ellipsis       = "…"
	Circular       = "[Circular]"
	Unreadable     = "[Unable to read]"
	Unserializable = "[Unserializable props]"
)

// Options bounds the formatted output. Zero or negative fields take the
// defaults from DefaultOptions.
type Options struct {
	MaxDepth  int `yaml:"max_depth" json:"max_depth"`
	MaxKeys   int `yaml:"max_keys" json:"max_keys"`
	MaxString int `yaml:"max_string" json:"max_string"`
}

// DefaultOptions returns the general-purpose limits.
func DefaultOptions() Options {
	return Options{MaxDepth: 2, MaxKeys: 20, MaxString: 2000}
}

// PopoverOptions returns the tighter limits used for popover text.
func PopoverOptions() Options {
	return Options{MaxDepth: 2, MaxKeys: 20, MaxString: 300}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = def.MaxKeys
	}
	if o.MaxString <= 0 {
		o.MaxString = def.MaxString
	}
	return o
}

// UndefinedType marks a value the host reported as absent rather than null.
type UndefinedType struct{}

// Undefined renders as "undefined".
var Undefined = UndefinedType{}

// Symbol is a host symbol; it renders as Symbol(description).
type Symbol string

func (s Symbol) String() string { return "Symbol(" + string(s) + ")" }

// Function describes a host function value that only carries its name.
type Function struct {
	Name string
}

// KeyReader exposes keyed host objects whose entries are read lazily and may
// fail individually.
type KeyReader interface {
	Keys() []string
	ReadKey(key string) (interface{}, error)
}

// Format renders v within the limits of opts. It never panics; a failure that
// cannot be contained to a single entry yields Unserializable.
func Format(v interface{}, opts Options) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = Unserializable
		}
	}()

	f := &formatter{
		opts: opts.withDefaults(),
		seen: make(map[identity]struct{}),
	}
	return f.format(reflect.ValueOf(v), 0)
}

type formatter struct {
	opts Options
	// seen holds the identities of composites currently being formatted by an
	// enclosing call.
	seen map[identity]struct{}
}

// identity names a composite by address and type. A struct and its first
// field share an address, so the type is needed to tell them apart.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

func (f *formatter) format(v reflect.Value, depth int) string {
	if !v.IsValid() {
		return "null"
	}

	// Unwrap interfaces so the dynamic type drives the rendering.
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "null"
		}
		v = v.Elem()
	}

	if s, ok := f.scalar(v); ok {
		return s
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return "null"
		}
		if !v.CanInterface() {
			return f.guard(v, func() string { return f.format(v.Elem(), depth) })
		}
		if om, ok := v.Interface().(*orderedmap.OrderedMap[string, interface{}]); ok {
			if depth > f.opts.MaxDepth {
				return Ellipsis
			}
			return f.guard(v, func() string { return f.orderedMap(om, depth) })
		}
		if kr, ok := v.Interface().(KeyReader); ok {
			if depth > f.opts.MaxDepth {
				return Ellipsis
			}
			return f.guard(v, func() string { return f.keyReader(kr, depth) })
		}
		if isOpaque(v) {
			return fallback(v)
		}
		return f.guard(v, func() string { return f.format(v.Elem(), depth) })

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return "null"
		}
		if depth > f.opts.MaxDepth {
			return Ellipsis
		}
		return f.sequence(v, depth)

	case reflect.Map:
		if v.IsNil() {
			return "null"
		}
		if depth > f.opts.MaxDepth {
			return Ellipsis
		}
		return f.guard(v, func() string { return f.mapping(v, depth) })

	case reflect.Struct:
		if v.CanInterface() {
			if kr, ok := v.Interface().(KeyReader); ok {
				if depth > f.opts.MaxDepth {
					return Ellipsis
				}
				return f.keyReader(kr, depth)
			}
		}
		if isOpaque(v) {
			return fallback(v)
		}
		if depth > f.opts.MaxDepth {
			return Ellipsis
		}
		return f.structure(v, depth)
	}

	return fallback(v)
}

// scalar renders leaf values. ok is false for composites.
func (f *formatter) scalar(v reflect.Value) (string, bool) {
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case UndefinedType:
			return "undefined", true
		case Symbol:
			return x.String(), true
		case Function:
			return functionText(x.Name), true
		case *Function:
			if x == nil {
				return "null", true
			}
			return functionText(x.Name), true
		case big.Int:
			return x.String() + "n", true
		case *big.Int:
			if x == nil {
				return "null", true
			}
			return x.String() + "n", true
		}
	}

	switch v.Kind() {
	case reflect.String:
		return quote(truncate(v.String(), f.opts.MaxString)), true
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return number(v.Float()), true
	case reflect.Func:
		if v.IsNil() {
			return "null", true
		}
		return functionText(funcName(v)), true
	}
	return "", false
}

// guard formats the pointer or map v, rendering Circular when an enclosing
// call is already formatting the same value.
func (f *formatter) guard(v reflect.Value, fn func() string) string {
	id := identity{typ: v.Type(), ptr: v.Pointer()}
	if _, ok := f.seen[id]; ok {
		return Circular
	}
	f.seen[id] = struct{}{}
	defer delete(f.seen, id)
	return fn()
}

// entry formats one element, containing any panic to that element.
func (f *formatter) entry(read func() (reflect.Value, error), depth int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = Unreadable
		}
	}()
	v, err := read()
	if err != nil {
		return Unreadable
	}
	return f.format(v, depth)
}

func (f *formatter) sequence(v reflect.Value, depth int) string {
	n := v.Len()
	shown := n
	if shown > f.opts.MaxKeys {
		shown = f.opts.MaxKeys
	}

	items := make([]string, 0, shown+1)
	for i := 0; i < shown; i++ {
		i := i
		items = append(items, f.entry(func() (reflect.Value, error) { return v.Index(i), nil }, depth+1))
	}
	if n > shown {
		items = append(items, Ellipsis)
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (f *formatter) mapping(v reflect.Value, depth int) string {
	type kv struct {
		name string
		key  reflect.Value
	}
	keys := make([]kv, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, kv{name: keyName(k), key: k})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })

	parts := make([]string, 0, len(keys))
	for i, k := range keys {
		if i >= f.opts.MaxKeys {
			parts = append(parts, Ellipsis)
			break
		}
		k := k
		val := f.entry(func() (reflect.Value, error) { return v.MapIndex(k.key), nil }, depth+1)
		parts = append(parts, k.name+": "+val)
	}
	return object(parts)
}

func (f *formatter) orderedMap(om *orderedmap.OrderedMap[string, interface{}], depth int) string {
	parts := make([]string, 0, om.Len())
	i := 0
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		if i >= f.opts.MaxKeys {
			parts = append(parts, Ellipsis)
			break
		}
		value := pair.Value
		val := f.entry(func() (reflect.Value, error) { return reflect.ValueOf(value), nil }, depth+1)
		parts = append(parts, pair.Key+": "+val)
		i++
	}
	return object(parts)
}

func (f *formatter) keyReader(kr KeyReader, depth int) string {
	keys := kr.Keys()
	parts := make([]string, 0, len(keys))
	for i, key := range keys {
		if i >= f.opts.MaxKeys {
			parts = append(parts, Ellipsis)
			break
		}
		key := key
		val := f.entry(func() (reflect.Value, error) {
			raw, err := kr.ReadKey(key)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(raw), nil
		}, depth+1)
		parts = append(parts, key+": "+val)
	}
	return object(parts)
}

func (f *formatter) structure(v reflect.Value, depth int) string {
	t := v.Type()
	parts := make([]string, 0, t.NumField())
	shown := 0
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := fieldName(field)
		if skip {
			continue
		}
		if shown >= f.opts.MaxKeys {
			parts = append(parts, Ellipsis)
			break
		}
		shown++

		fv := v.Field(i)
		if !fv.CanInterface() {
			parts = append(parts, name+": "+Unreadable)
			continue
		}
		val := f.entry(func() (reflect.Value, error) { return fv, nil }, depth+1)
		parts = append(parts, name+": "+val)
	}
	return object(parts)
}

func object(parts []string) string {
	if len(parts) == 0 {
		return "{  }"
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func fieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return field.Name, false
}

func keyName(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

// isOpaque reports values whose own textual form is more useful than their
// fields, such as time.Time or anything with a custom JSON encoding.
func isOpaque(v reflect.Value) bool {
	if !v.CanInterface() {
		return false
	}
	switch v.Interface().(type) {
	case json.Marshaler, fmt.Stringer, error:
		return true
	}
	return false
}

// fallback renders a value with no dedicated rule: JSON first, then %v.
func fallback(v reflect.Value) string {
	if !v.CanInterface() {
		return Unreadable
	}
	x := v.Interface()
	if raw, err := marshal(x); err == nil {
		return raw
	}
	return fmt.Sprintf("%v", x)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + Ellipsis
}

func quote(s string) string {
	raw, err := marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return raw
}

func marshal(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// number formats a float the way a script runtime prints numbers: integral
// values without a fraction, exponent form only for very large or small values.
func number(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func functionText(name string) string {
	if name == "" {
		name = "anonymous"
	}
	return "[Function " + name + "]"
}

// funcName returns the short name of a Go function value, or "" for closures.
func funcName(v reflect.Value) string {
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}
	full := fn.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	segments := strings.Split(full, ".")
	last := segments[len(segments)-1]
	if strings.HasPrefix(last, "func") && len(segments) > 2 {
		if _, err := strconv.Atoi(strings.TrimPrefix(last, "func")); err == nil {
			return ""
		}
	}
	// Method values carry a -fm suffix.
	return strings.TrimSuffix(last, "-fm")
}
