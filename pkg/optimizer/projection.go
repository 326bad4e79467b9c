package optimizer

import (
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/polisai/polis-shape/pkg/domain"
)

// Project selects the requested fields from data.
//
// An empty field list returns data itself. Sequences are projected
// element-wise. For maps, plain field names copy the value when the key is
// present; dotted paths are resolved against the source and written back at
// the same path, creating intermediate maps in the output. Any other value is
// returned unchanged. The source is never mutated. A sequence that contains
// itself is replaced by the circular reference sentinel.
func Project(data any, fields []string) any {
	if len(fields) == 0 {
		return data
	}
	return project(data, fields, pathSet{})
}

func project(data any, fields []string, path pathSet) any {
	view, id, tracked, ok := asContainer(data)
	if !ok {
		return data
	}

	switch v := view.(type) {
	case []any:
		if tracked {
			if !path.enter(id) {
				return domain.SentinelCircular
			}
			defer path.leave(id)
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = project(item, fields, path)
		}
		return out
	case map[string]any:
		return projectMap(v, fields)
	default:
		return data
	}
}

func projectMap(src map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	// Maps created here may be written into; anything else reached through the
	// output belongs to the caller and is cloned before being written.
	owned := map[uintptr]struct{}{}

	for _, field := range fields {
		if !strings.Contains(field, ".") {
			if value, ok := src[field]; ok {
				out[field] = value
			}
			continue
		}

		segments := strings.Split(field, ".")
		value, ok := resolvePath(src, segments)
		if !ok {
			continue
		}
		assignPath(out, segments, value, owned)
	}

	return out
}

// resolvePath walks segments from src. Every segment must exist and must not
// be Undefined. Numeric segments index into sequences.
func resolvePath(src map[string]any, segments []string) (any, bool) {
	var current any = src
	for _, segment := range segments {
		view, _, _, ok := asContainer(current)
		if !ok {
			return nil, false
		}

		var next any
		switch c := view.(type) {
		case map[string]any:
			value, exists := c[segment]
			if !exists {
				return nil, false
			}
			next = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			next = c[idx]
		default:
			return nil, false
		}

		if domain.IsUndefined(next) {
			return nil, false
		}
		current = next
	}
	return current, true
}

func assignPath(out map[string]any, segments []string, value any, owned map[uintptr]struct{}) {
	current := out
	last := len(segments) - 1
	for _, segment := range segments[:last] {
		next, isMap := current[segment].(map[string]any)
		switch {
		case !isMap:
			next = map[string]any{}
			owned[reflect.ValueOf(next).Pointer()] = struct{}{}
			current[segment] = next
		case !isOwned(next, owned):
			next = maps.Clone(next)
			owned[reflect.ValueOf(next).Pointer()] = struct{}{}
			current[segment] = next
		}
		current = next
	}
	current[segments[last]] = value
}

func isOwned(m map[string]any, owned map[uintptr]struct{}) bool {
	_, ok := owned[reflect.ValueOf(m).Pointer()]
	return ok
}

// ParseFields splits a comma-separated field list as found in a fields query
// parameter. Entries are trimmed, empty entries dropped and duplicates removed.
func ParseFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		field := strings.TrimSpace(part)
		if field == "" {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}
	return fields
}

// RemoveEmpty prunes nil, Undefined, empty maps and empty sequences. Pruning is
// recursive, so containers that only held removable values are removed too.
// The top-level value is returned even when it prunes to empty.
func RemoveEmpty(data any) any {
	return removeEmpty(data, pathSet{})
}

func removeEmpty(data any, path pathSet) any {
	view, id, tracked, ok := asContainer(data)
	if !ok {
		return data
	}
	if tracked {
		if !path.enter(id) {
			return domain.SentinelCircular
		}
		defer path.leave(id)
	}

	switch v := view.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			pruned := removeEmpty(item, path)
			if isEmptyValue(pruned) {
				continue
			}
			out[key] = pruned
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			pruned := removeEmpty(item, path)
			if isEmptyValue(pruned) {
				continue
			}
			out = append(out, pruned)
		}
		return out
	default:
		return data
	}
}

func isEmptyValue(v any) bool {
	switch c := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(c) == 0
	case []any:
		return len(c) == 0
	}
	return domain.IsUndefined(v)
}
