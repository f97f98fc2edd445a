package entity

import (
	"database/sql/driver"
	"math"
	"reflect"
)

// NormalizeKey converts a field value into a comparable map key. Integer kinds
// collapse to int64, except unsigned values above MaxInt64 which stay uint64,
// and byte slices to string so that a key read from an owner
// matches the same key read from a related record regardless of field types.
// ok is false for NULL values.
func NormalizeKey(v any) (any, bool) {
	switch k := v.(type) {
	case nil:
		return nil, false
	case int:
		return int64(k), true
	case int8:
		return int64(k), true
	case int16:
		return int64(k), true
	case int32:
		return int64(k), true
	case int64:
		return k, true
	case uint:
		return normalizeUnsigned(uint64(k))
	case uint8:
		return int64(k), true
	case uint16:
		return int64(k), true
	case uint32:
		return int64(k), true
	case uint64:
		return normalizeUnsigned(k)
	case string:
		return k, true
	case []byte:
		return string(k), true
	case bool:
		return k, true
	case float32:
		return float64(k), true
	case float64:
		return k, true
	case driver.Valuer:
		val, err := k.Value()
		if err != nil || val == nil {
			return nil, false
		}
		return NormalizeKey(val)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		return NormalizeKey(rv.Elem().Interface())
	}
	if rv.Type().Comparable() {
		return v, true
	}
	return nil, false
}

// normalizeUnsigned keeps values above MaxInt64 as uint64 so they cannot
// collide with negative int64 keys.
func normalizeUnsigned(k uint64) (any, bool) {
	if k > math.MaxInt64 {
		return k, true
	}
	return int64(k), true
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if valuer, ok := v.(driver.Valuer); ok {
		val, err := valuer.Value()
		return err == nil && val == nil
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
