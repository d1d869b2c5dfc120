// Package nbtconv implements typed reads over NBT compounds decoded into map[string]any by the nbt package,
// and the conversions needed to write values that decode back to the same tag type.
package nbtconv

import (
	"reflect"
)

// Map reads a value of type T from the map passed. Map returns the zero value of T if the key was not set
// or if the value held a different type.
func Map[T any](m map[string]any, k string) T {
	v, _ := m[k].(T)
	return v
}

// String reads a string from a map at key k.
func String(m map[string]any, k string) string {
	return Map[string](m, k)
}

// Bool reads a uint8 value from a map at key k and returns true if it equals 1.
func Bool(m map[string]any, k string) bool {
	switch v := m[k].(type) {
	case uint8:
		return v == 1
	case bool:
		return v
	}
	return false
}

// Int32 reads an int32 from a map at key k. Values of smaller integer tags are widened.
func Int32(m map[string]any, k string) int32 {
	switch v := m[k].(type) {
	case int32:
		return v
	case int16:
		return int32(v)
	case uint8:
		return int32(v)
	case int64:
		return int32(v)
	}
	return 0
}

// Int64 reads an int64 from a map at key k. Values of smaller integer tags are widened.
func Int64(m map[string]any, k string) int64 {
	switch v := m[k].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case uint8:
		return int64(v)
	}
	return 0
}

// Compound reads a nested compound from a map at key k. The bool returned is false if k was not set or did
// not hold a compound.
func Compound(m map[string]any, k string) (map[string]any, bool) {
	v, ok := m[k].(map[string]any)
	return v, ok
}

// Compounds reads a list of compounds from a map at key k. Elements that are not compounds are skipped.
func Compounds(m map[string]any, k string) []map[string]any {
	switch v := m[k].(type) {
	case []map[string]any:
		return v
	case []any:
		list := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if c, ok := e.(map[string]any); ok {
				list = append(list, c)
			}
		}
		return list
	}
	return nil
}

// Int64s reads a long array or list of longs from a map at key k. Both fixed size arrays, as produced when
// decoding a TAG_Long_Array, and slices are accepted.
func Int64s(m map[string]any, k string) []int64 {
	return ints[int64](m[k])
}

// Int32s reads an int array or list of ints from a map at key k.
func Int32s(m map[string]any, k string) []int32 {
	return ints[int32](m[k])
}

// ints converts an array or slice of integers to a slice of T.
func ints[T int32 | int64](v any) []T {
	switch v := v.(type) {
	case nil:
		return nil
	case []T:
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]T, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		e := rv.Index(i)
		if e.Kind() == reflect.Interface {
			e = e.Elem()
		}
		switch e.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out = append(out, T(e.Int()))
		case reflect.Uint8:
			out = append(out, T(e.Uint()))
		}
	}
	return out
}
