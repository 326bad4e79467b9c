package optimizer

import (
	"encoding/json"
	"math/big"
	"reflect"
	"time"

	"github.com/polisai/polis-shape/pkg/domain"
)

// identity is the reference identity of a container. Maps are identified by
// their header pointer, slices by backing array and length.
type identity struct {
	kind reflect.Kind
	ptr  uintptr
	n    int
}

// pathSet tracks the containers on the current root-to-node path.
type pathSet map[identity]struct{}

func (p pathSet) enter(id identity) bool {
	if _, seen := p[id]; seen {
		return false
	}
	p[id] = struct{}{}
	return true
}

func (p pathSet) leave(id identity) {
	delete(p, id)
}

// asContainer returns a generic view of v when it is a map with string keys,
// a slice or an array. Typed containers are converted; map[string]any and
// []any are returned as-is. The identity refers to the original value. Empty
// containers report tracked=false since they cannot take part in a cycle.
func asContainer(v any) (view any, id identity, tracked bool, ok bool) {
	switch c := v.(type) {
	case nil:
		return nil, identity{}, false, false
	case map[string]any:
		if len(c) == 0 {
			return c, identity{}, false, true
		}
		return c, identity{kind: reflect.Map, ptr: reflect.ValueOf(c).Pointer()}, true, true
	case []any:
		if len(c) == 0 {
			return c, identity{}, false, true
		}
		return c, identity{kind: reflect.Slice, ptr: reflect.ValueOf(c).Pointer(), n: len(c)}, true, true
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number, time.Time, *time.Time, *big.Int:
		return nil, identity{}, false, false
	case []byte:
		// Raw bytes are a leaf, matching how JSON encoders treat them.
		return nil, identity{}, false, false
	}
	if domain.IsUndefined(v) {
		return nil, identity{}, false, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, identity{}, false, false
		}
		elem := rv.Elem()
		if elem.Kind() != reflect.Map && elem.Kind() != reflect.Slice && elem.Kind() != reflect.Array {
			return nil, identity{}, false, false
		}
		rv = elem
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, identity{}, false, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		if rv.Len() == 0 {
			return out, identity{}, false, true
		}
		return out, identity{kind: reflect.Map, ptr: rv.Pointer()}, true, true
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, identity{}, false, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		if rv.Len() == 0 {
			return out, identity{}, false, true
		}
		return out, identity{kind: reflect.Slice, ptr: rv.Pointer(), n: rv.Len()}, true, true
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, identity{}, false, true
	default:
		return nil, identity{}, false, false
	}
}

// isContainer reports whether v would be traversed as a map or sequence.
func isContainer(v any) bool {
	_, _, _, ok := asContainer(v)
	return ok
}
