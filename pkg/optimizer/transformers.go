package optimizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/polis-shape/pkg/domain"
)

// RedactedValue replaces values handled by the redact transformer.
const RedactedValue = "[REDACTED]"

// BuiltinTransformer resolves a named transformer usable from configuration:
// redact, omit, lowercase, uppercase, trim, iso_date and truncate:<n>.
func BuiltinTransformer(name string) (Transformer, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	base, arg, hasArg := strings.Cut(normalized, ":")

	switch base {
	case "redact":
		return func(string, any) (any, error) { return RedactedValue, nil }, nil
	case "omit":
		return func(string, any) (any, error) { return domain.Undefined, nil }, nil
	case "lowercase":
		return stringTransformer(strings.ToLower), nil
	case "uppercase":
		return stringTransformer(strings.ToUpper), nil
	case "trim":
		return stringTransformer(strings.TrimSpace), nil
	case "iso_date":
		return isoDate, nil
	case "truncate":
		if !hasArg {
			return nil, fmt.Errorf("%w: truncate requires a length, e.g. truncate:64", domain.ErrInvalidConfig)
		}
		limit, err := strconv.Atoi(arg)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("%w: invalid truncate length %q", domain.ErrInvalidConfig, arg)
		}
		return stringTransformer(func(s string) string {
			runes := []rune(s)
			if len(runes) <= limit {
				return s
			}
			return string(runes[:limit])
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown transformer %q", domain.ErrInvalidConfig, name)
	}
}

func stringTransformer(fn func(string) string) Transformer {
	return func(key string, value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return value, fmt.Errorf("field %q: expected string, got %T", key, value)
		}
		return fn(s), nil
	}
}

func isoDate(key string, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(isoLayout), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return value, fmt.Errorf("field %q: %w", key, err)
		}
		return parsed.UTC().Format(isoLayout), nil
	default:
		return value, fmt.Errorf("field %q: expected date, got %T", key, value)
	}
}
