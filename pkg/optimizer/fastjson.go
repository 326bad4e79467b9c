package optimizer

import (
	"encoding/json"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/polisai/polis-shape/pkg/domain"
)

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// FastSerialize renders v as text without cycle tracking. It is meant for
// shallow values (see IsSimple) and will not terminate on cyclic input.
//
// Two behaviours differ from strict JSON and are kept on purpose: Undefined
// outside of a map is written as the bare token undefined, and strings only
// have their double quotes escaped.
func FastSerialize(v any) string {
	var b strings.Builder
	fastAppend(&b, v)
	return b.String()
}

func fastAppend(b *strings.Builder, v any) {
	if domain.IsUndefined(v) {
		b.WriteString("undefined")
		return
	}
	if text, ok := scalarText(v); ok {
		b.WriteString(text)
		return
	}
	if s, ok := v.(string); ok {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(s, `"`, `\"`))
		b.WriteByte('"')
		return
	}

	view, _, _, ok := asContainer(v)
	if !ok {
		raw, err := gojson.MarshalNoEscape(v)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(raw)
		return
	}

	switch c := view.(type) {
	case []any:
		b.WriteByte('[')
		for i, item := range c {
			if i > 0 {
				b.WriteByte(',')
			}
			fastAppend(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		b.WriteByte('{')
		first := true
		for _, key := range sortedKeys(c) {
			item := c[key]
			if domain.IsUndefined(item) {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteByte('"')
			b.WriteString(key)
			b.WriteString(`":`)
			fastAppend(b, item)
		}
		b.WriteByte('}')
	}
}

// scalarText renders nil, booleans, numbers, dates and big integers. Strings
// are not handled here because the two serializers escape them differently.
func scalarText(v any) (string, bool) {
	switch n := v.(type) {
	case nil:
		return "null", true
	case bool:
		return strconv.FormatBool(n), true
	case int:
		return strconv.FormatInt(int64(n), 10), true
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint8:
		return strconv.FormatUint(uint64(n), 10), true
	case uint16:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case float32:
		return formatFloat(float64(n), 32), true
	case float64:
		return formatFloat(n, 64), true
	case json.Number:
		if n == "" {
			return "0", true
		}
		return string(n), true
	case time.Time:
		return `"` + n.UTC().Format(isoLayout) + `"`, true
	case *time.Time:
		if n == nil {
			return "null", true
		}
		return `"` + n.UTC().Format(isoLayout) + `"`, true
	case *big.Int:
		if n == nil {
			return "null", true
		}
		return `"` + n.String() + `"`, true
	}
	return "", false
}

// formatFloat follows the shortest round-trip form used by JSON encoders in
// the browser: plain notation between 1e-6 and 1e21, exponent notation with
// an unpadded exponent outside that range. Non-finite values become null.
func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}

	s := strconv.FormatFloat(f, 'e', -1, bits)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + sign + digits
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsSimple reports whether v can take the fast serialization path: it holds
// no container at its top level. Dates count as simple. Values the fast path
// would render as invalid JSON are rejected as well: Undefined inside a
// top-level sequence, and strings that need more than quote escaping.
func IsSimple(v any) bool {
	view, _, _, ok := asContainer(v)
	if !ok {
		return isFastScalar(v, false)
	}

	switch c := view.(type) {
	case map[string]any:
		for key, item := range c {
			if !fastSafeString(key) || strings.Contains(key, `"`) || !isFastScalar(item, true) {
				return false
			}
		}
	case []any:
		for _, item := range c {
			if !isFastScalar(item, false) {
				return false
			}
		}
	}
	return true
}

func isFastScalar(v any, inMap bool) bool {
	if domain.IsUndefined(v) {
		return inMap
	}
	if s, ok := v.(string); ok {
		return fastSafeString(s)
	}
	_, ok := scalarText(v)
	return ok
}

func fastSafeString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == '\\' {
			return false
		}
	}
	return true
}
