package cache

import (
	"bytes"
	"context"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"voice-gateway/pkg/logging/logging"
)

// Kind tells which backend produced a Value.
type Kind uint8

const (
	KindNone Kind = iota
	// KindNative holds the Go value stored by the local store.
	KindNative
	// KindEncoded holds msgpack bytes read from the remote store.
	KindEncoded
)

// Value is what Get returns. Callers read it with Decode or Load and never
// see which backend it came from.
type Value struct {
	kind    Kind
	native  any
	encoded []byte
}

func nativeValue(v any) Value {
	return Value{kind: KindNative, native: v}
}

func encodedValue(b []byte) Value {
	return Value{kind: KindEncoded, encoded: b}
}

func (v Value) Kind() Kind {
	return v.kind
}

// Decode stores the value into dst, which must be a non-nil pointer.
// Native values are assigned directly when the types line up and go
// through msgpack otherwise.
func (v Value) Decode(dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.Newf("cache: decode target must be a non-nil pointer, got %T", dst)
	}
	target := rv.Elem()

	switch v.kind {
	case KindNative:
		if v.native == nil {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		nv := reflect.ValueOf(v.native)
		if nv.Type().AssignableTo(target.Type()) {
			target.Set(nv)
			return nil
		}
		data, err := marshal(v.native)
		if err != nil {
			return errors.Mark(err, ErrDecode)
		}
		return unmarshal(data, dst)
	case KindEncoded:
		return unmarshal(v.encoded, dst)
	default:
		return errors.Mark(errors.New("cache: empty value"), ErrDecode)
	}
}

// Load reads key from c as a T. Misses, backend errors and values that do
// not decode into T all come back as (zero, false).
func Load[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var zero T

	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false
	}

	var out T
	if err := v.Decode(&out); err != nil {
		logging.L(ctx).Warn("cache_decode_error",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return zero, false
	}
	return out, true
}

// marshal and unmarshal honor json struct tags so cached structs keep the
// field names they use on the wire. msgpack keeps only the instant of a
// time.Time, so unmarshal returns every decoded time in UTC.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "encode %T", v), ErrUnserializable)
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, dst any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(dst); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode into %T", dst), ErrDecode)
	}
	utcTimes(reflect.ValueOf(dst))
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

// utcTimes rewrites every settable time.Time reachable from v to UTC.
func utcTimes(v reflect.Value) {
	if !mayHoldTime(v.Type(), map[reflect.Type]bool{}) {
		return
	}

	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			utcTimes(v.Elem())
		}
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		inner := v.Elem()
		if inner.Type() == timeType {
			if v.CanSet() {
				v.Set(reflect.ValueOf(inner.Interface().(time.Time).UTC()))
			}
			return
		}
		switch inner.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			utcTimes(inner)
		}
	case reflect.Struct:
		if v.Type() == timeType {
			if v.CanSet() {
				v.Set(reflect.ValueOf(v.Interface().(time.Time).UTC()))
			}
			return
		}
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				utcTimes(f)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			utcTimes(v.Index(i))
		}
	case reflect.Map:
		if v.IsNil() {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			elem := reflect.New(v.Type().Elem()).Elem()
			elem.Set(iter.Value())
			utcTimes(elem)
			v.SetMapIndex(iter.Key(), elem)
		}
	}
}

// mayHoldTime reports whether a value of type t can contain a time.Time.
func mayHoldTime(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == timeType {
		return true
	}
	if seen[t] {
		return false
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return mayHoldTime(t.Elem(), seen)
	case reflect.Map:
		return mayHoldTime(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() && mayHoldTime(t.Field(i).Type, seen) {
				return true
			}
		}
	}
	return false
}
