package optimizer

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/polisai/polis-shape/pkg/domain"
)

func TestFastSerialize_DropsUndefinedKeys(t *testing.T) {
	got := FastSerialize(map[string]any{"a": domain.Undefined, "b": 1})
	assert.Equal(t, `{"b":1}`, got)
}

func TestFastSerialize_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "null", input: nil, want: `null`},
		{name: "true", input: true, want: `true`},
		{name: "int", input: 42, want: `42`},
		{name: "negative", input: int64(-7), want: `-7`},
		{name: "float", input: 1.5, want: `1.5`},
		{name: "large float", input: 1e21, want: `1e+21`},
		{name: "small float", input: 1e-7, want: `1e-7`},
		{name: "nan", input: math.NaN(), want: `null`},
		{name: "json number", input: json.Number("12.50"), want: `12.50`},
		{name: "string", input: "hi", want: `"hi"`},
		{name: "big int", input: big.NewInt(9007199254740993), want: `"9007199254740993"`},
		{name: "date", input: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), want: `"2024-03-01T12:30:00.000Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FastSerialize(tt.input))
		})
	}
}

func TestFastSerialize_DateNormalizedToUTC(t *testing.T) {
	zone := time.FixedZone("plus2", 2*60*60)
	got := FastSerialize(time.Date(2024, 3, 1, 14, 30, 0, 5_000_000, zone))
	assert.Equal(t, `"2024-03-01T12:30:00.005Z"`, got)
}

func TestFastSerialize_BareUndefinedOutsideMaps(t *testing.T) {
	assert.Equal(t, `undefined`, FastSerialize(domain.Undefined))
	assert.Equal(t, `[1,undefined]`, FastSerialize([]any{1, domain.Undefined}))
}

func TestFastSerialize_EscapesOnlyQuotes(t *testing.T) {
	assert.Equal(t, `"say \"hi\""`, FastSerialize(`say "hi"`))
	// Backslashes and control characters pass through untouched.
	assert.Equal(t, "\"a\\b\nc\"", FastSerialize("a\\b\nc"))
}

func TestFastSerialize_Containers(t *testing.T) {
	input := map[string]any{
		"z":    []any{1, "two", nil},
		"a":    map[string]any{"k": false},
		"skip": domain.Undefined,
	}
	assert.Equal(t, `{"a":{"k":false},"z":[1,"two",null]}`, FastSerialize(input))
	assert.Equal(t, `[]`, FastSerialize([]any{}))
	assert.Equal(t, `{}`, FastSerialize(map[string]any{}))
}

func TestIsSimple(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{name: "scalar", input: 3, want: true},
		{name: "date", input: time.Now(), want: true},
		{name: "flat map", input: map[string]any{"a": 1, "b": "x", "c": nil}, want: true},
		{name: "map with undefined", input: map[string]any{"a": domain.Undefined}, want: true},
		{name: "flat sequence", input: []any{1, 2, 3}, want: true},
		{name: "empty map", input: map[string]any{}, want: true},
		{name: "nested map", input: map[string]any{"a": map[string]any{}}, want: false},
		{name: "sequence of maps", input: []any{map[string]any{"a": 1}}, want: false},
		{name: "undefined in sequence", input: []any{domain.Undefined}, want: false},
		{name: "bare undefined", input: domain.Undefined, want: false},
		{name: "escaped string", input: map[string]any{"a": "line\nbreak"}, want: false},
		{name: "quoted key", input: map[string]any{`a"b`: 1}, want: false},
		{name: "typed map", input: map[string]int{"a": 1}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSimple(tt.input))
		})
	}
}

func TestFastSerializeProperties(t *testing.T) {
	scalar := rapid.OneOf(
		rapid.Just[any](nil),
		rapid.Just[any](domain.Undefined),
		rapid.Map(rapid.Int64(), func(v int64) any { return v }),
		rapid.Map(rapid.Float64(), func(v float64) any { return v }),
		rapid.Map(rapid.Bool(), func(v bool) any { return v }),
		rapid.Map(rapid.String(), func(v string) any { return v }),
	)

	rapid.Check(t, func(t *rapid.T) {
		input := rapid.MapOf(rapid.StringMatching(`[a-zA-Z_][a-zA-Z0-9_]{0,8}`), scalar).Draw(t, "input")
		if !IsSimple(input) {
			t.Skip("value needs the guarded path")
		}

		text := FastSerialize(input)

		var decoded map[string]any
		if err := gojson.Unmarshal([]byte(text), &decoded); err != nil {
			t.Fatalf("fast path produced invalid JSON %q: %v", text, err)
		}
		for key, value := range input {
			_, present := decoded[key]
			if domain.IsUndefined(value) == present {
				t.Fatalf("key %q presence mismatch in %q", key, text)
			}
		}
	})
}
