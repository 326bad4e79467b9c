package optimizer

import "github.com/polisai/polis-shape/pkg/domain"

// Sanitize returns a copy of data that is safe to serialize: containers at
// depth maxDepth or deeper become SentinelMaxDepth and containers that are
// already on the current root-to-node path become SentinelCircular.
//
// Cycle detection uses reference identity and is scoped to the path, so the
// same container referenced from two siblings is traversed twice. A negative
// maxDepth replaces the root container immediately.
func Sanitize(data any, maxDepth int) any {
	return sanitize(data, maxDepth, 0, pathSet{})
}

func sanitize(data any, maxDepth, depth int, path pathSet) any {
	view, id, tracked, ok := asContainer(data)
	if !ok {
		return data
	}

	// Depth wins over cycle detection at the same node.
	if depth >= maxDepth {
		return domain.SentinelMaxDepth
	}

	if tracked {
		if !path.enter(id) {
			return domain.SentinelCircular
		}
		defer path.leave(id)
	}

	switch v := view.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitize(item, maxDepth, depth+1, path)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = sanitize(item, maxDepth, depth+1, path)
		}
		return out
	default:
		return data
	}
}
