package nbtconv

import (
	"reflect"
)

var (
	int64Type = reflect.TypeFor[int64]()
	int32Type = reflect.TypeFor[int32]()
)

// LongArray returns v as a fixed size [N]int64 array, which the nbt package encodes as a TAG_Long_Array.
// Slices would otherwise be encoded as a TAG_List of TAG_Long.
func LongArray(v []int64) any {
	arr := reflect.New(reflect.ArrayOf(len(v), int64Type)).Elem()
	for i, x := range v {
		arr.Index(i).SetInt(x)
	}
	return arr.Interface()
}

// IntArray returns v as a fixed size [N]int32 array, which the nbt package encodes as a TAG_Int_Array.
func IntArray(v []int32) any {
	arr := reflect.New(reflect.ArrayOf(len(v), int32Type)).Elem()
	for i, x := range v {
		arr.Index(i).SetInt(int64(x))
	}
	return arr.Interface()
}

// Clone returns a deep copy of the compound passed. Nested compounds and lists are copied, other values are
// shared since they are immutable once decoded.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return Clone(v)
	case []any:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = cloneValue(e)
		}
		return list
	case []map[string]any:
		list := make([]map[string]any, len(v))
		for i, e := range v {
			list[i] = Clone(e)
		}
		return list
	}
	return v
}
