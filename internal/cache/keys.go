package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Params are the inputs a cache key is derived from.
type Params map[string]any

const keySeparator = ":"

// MaxKeyLength is the longest key CompactKey leaves readable.
const MaxKeyLength = 200

// BuildKey appends ":name:value" to namespace for every param in sorted
// name order. Nil params are skipped, so leaving a param out and passing
// it as nil give the same key.
//
//	BuildKey("api", Params{"user": "42", "path": "/x"}) == "api:path:/x:user:42"
func BuildKey(namespace string, params Params) string {
	names := make([]string, 0, len(params))
	for name, v := range params {
		if isNil(v) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(namespace)
	for _, name := range names {
		b.WriteString(keySeparator)
		b.WriteString(name)
		b.WriteString(keySeparator)
		b.WriteString(formatParam(params[name]))
	}
	return b.String()
}

// CompactKey is BuildKey, except keys longer than MaxKeyLength are replaced
// by "namespace:h:<xxhash64>" of the full key.
func CompactKey(namespace string, params Params) string {
	key := BuildKey(namespace, params)
	if len(key) <= MaxKeyLength {
		return key
	}
	return namespace + keySeparator + "h" + keySeparator + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// EscapePattern quotes glob metacharacters so s matches only itself inside
// a DeleteByPattern pattern.
func EscapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParamsOf derives Params from a call argument: maps with string keys are
// used directly, structs contribute their JSON fields, anything else
// becomes {"arg": v}.
func ParamsOf(v any) (Params, error) {
	if isNil(v) {
		return Params{}, nil
	}

	switch p := v.(type) {
	case Params:
		return p, nil
	case map[string]any:
		return Params(p), nil
	case map[string]string:
		out := make(Params, len(p))
		for k, s := range p {
			out[k] = s
		}
		return out, nil
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Struct:
		if _, ok := v.(time.Time); ok {
			break
		}
		return structParams(v)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(Params, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	}

	return Params{"arg": v}, nil
}

func structParams(v any) (Params, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "derive cache params from %T", v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out Params
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "derive cache params from %T", v)
	}
	return out, nil
}

func formatParam(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	v = rv.Interface()

	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.String:
		return rv.String()
	}

	// composite values: encoding/json sorts map keys, so this is stable
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
